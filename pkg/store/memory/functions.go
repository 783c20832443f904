/*
Copyright 2022-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package memory

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type functions struct {
	s *Store
}

var _ store.Functions = &functions{}

func (f *functions) Create(ctx context.Context, function *models.Function) error {
	f.s.mutex.Lock()
	defer f.s.mutex.Unlock()

	if err := f.s.checkVersion(function.Project, function.Version); err != nil {
		return err
	}

	key := functionKey{function.Project, function.Version, function.Name}

	if _, ok := f.s.functions[key]; ok {
		return errors.FunctionAlreadyExists(function.Project, function.Version, function.Name)
	}

	stored := *function
	stored.Status = models.FunctionStatusPending
	stored.Prepared = nil

	f.s.functions[key] = stored

	return nil
}

func (f *functions) Update(ctx context.Context, project, version, name string, update store.FunctionUpdate) error {
	f.s.mutex.Lock()
	defer f.s.mutex.Unlock()

	key := functionKey{project, version, name}

	function, ok := f.s.functions[key]
	if !ok {
		return f.s.checkFunction(project, version, name)
	}

	if update.Status != nil {
		function.Status = *update.Status
	}

	if update.Prepared != nil {
		prepared := *update.Prepared
		function.Prepared = &prepared
	}

	f.s.functions[key] = function

	return nil
}

func (f *functions) Get(ctx context.Context, project, version, name string) (*models.Function, error) {
	f.s.mutex.Lock()
	defer f.s.mutex.Unlock()

	function, ok := f.s.functions[functionKey{project, version, name}]
	if !ok {
		if err := f.s.checkFunction(project, version, name); err != nil {
			return nil, err
		}
	}

	return &function, nil
}

func (f *functions) ListForVersion(ctx context.Context, project, version string) ([]models.Function, error) {
	f.s.mutex.Lock()
	defer f.s.mutex.Unlock()

	if err := f.s.checkVersion(project, version); err != nil {
		return nil, err
	}

	var out []models.Function

	for key, function := range f.s.functions {
		if key.project == project && key.version == version {
			out = append(out, function)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out, nil
}

func (f *functions) ListAll(ctx context.Context, statuses []models.FunctionStatus) ([]models.Function, error) {
	f.s.mutex.Lock()
	defer f.s.mutex.Unlock()

	if len(statuses) == 0 {
		return nil, nil
	}

	var out []models.Function

	for _, function := range f.s.functions {
		if lo.Contains(statuses, function.Status) {
			out = append(out, function)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].CreationTime.Before(out[j].CreationTime)
		}

		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}

		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}

		return out[i].Name < out[j].Name
	})

	return out, nil
}
