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

// Package memory implements the store in process memory.  It backs the
// dev deployment and the test suites, and mirrors the PostgreSQL
// implementation's semantics exactly: same errors, same ordering, same
// precondition behaviour.  A single mutex stands in for the database's
// transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type functionKey struct {
	project string
	version string
	name    string
}

type invocationKey struct {
	project  string
	version  string
	function string
	id       string
}

type executionKey struct {
	project    string
	version    string
	function   string
	invocation string
	id         string
}

// Store implements store.Store in memory.
type Store struct {
	mutex sync.Mutex

	projects    map[string]models.Project
	versions    map[string]map[string]models.Version
	functions   map[functionKey]models.Function
	invocations map[invocationKey]models.Invocation
	executions  map[executionKey]models.Execution
}

var _ store.Store = &Store{}

// New returns an empty store.
func New() *Store {
	return &Store{
		projects:    map[string]models.Project{},
		versions:    map[string]map[string]models.Version{},
		functions:   map[functionKey]models.Function{},
		invocations: map[invocationKey]models.Invocation{},
		executions:  map[executionKey]models.Execution{},
	}
}

func (s *Store) Projects() store.Projects {
	return &projects{s: s}
}

func (s *Store) Versions() store.Versions {
	return &versions{s: s}
}

func (s *Store) Functions() store.Functions {
	return &functions{s: s}
}

func (s *Store) Invocations() store.Invocations {
	return &invocations{s: s}
}

func (s *Store) Executions() store.Executions {
	return &executions{s: s}
}

func (s *Store) Close() error {
	return nil
}

// Not-found cascade, mirroring the SQL implementation: report the
// outermost missing ancestor.

func (s *Store) checkProject(project string) error {
	if _, ok := s.projects[project]; !ok {
		return errors.ProjectDoesNotExist(project)
	}

	return nil
}

func (s *Store) checkVersion(project, version string) error {
	if err := s.checkProject(project); err != nil {
		return err
	}

	if _, ok := s.versions[project][version]; !ok {
		return errors.VersionDoesNotExist(project, version)
	}

	return nil
}

func (s *Store) checkFunction(project, version, function string) error {
	if err := s.checkVersion(project, version); err != nil {
		return err
	}

	if _, ok := s.functions[functionKey{project, version, function}]; !ok {
		return errors.FunctionDoesNotExist(project, version, function)
	}

	return nil
}

func (s *Store) checkInvocation(project, version, function, invocation string) error {
	if err := s.checkFunction(project, version, function); err != nil {
		return err
	}

	if _, ok := s.invocations[invocationKey{project, version, function, invocation}]; !ok {
		return errors.InvocationDoesNotExist(project, version, function, invocation)
	}

	return nil
}

func (s *Store) executionsOf(project, version, function, invocation string) []models.Execution {
	var out []models.Execution

	for key, execution := range s.executions {
		if key.project == project && key.version == version && key.function == function && key.invocation == invocation {
			out = append(out, execution)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].CreationTime.Before(out[j].CreationTime)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

type projects struct {
	s *Store
}

var _ store.Projects = &projects{}

func (p *projects) Create(ctx context.Context, name string, now time.Time) error {
	p.s.mutex.Lock()
	defer p.s.mutex.Unlock()

	if _, ok := p.s.projects[name]; ok {
		return errors.ProjectAlreadyExists(name)
	}

	p.s.projects[name] = models.Project{
		Name:         name,
		CreationTime: now,
	}

	p.s.versions[name] = map[string]models.Version{}

	return nil
}

func (p *projects) Get(ctx context.Context, name string) (*models.Project, error) {
	p.s.mutex.Lock()
	defer p.s.mutex.Unlock()

	project, ok := p.s.projects[name]
	if !ok {
		return nil, errors.ProjectDoesNotExist(name)
	}

	return &project, nil
}

func (p *projects) List(ctx context.Context) ([]models.Project, error) {
	p.s.mutex.Lock()
	defer p.s.mutex.Unlock()

	out := lo.Values(p.s.projects)

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].CreationTime.After(out[j].CreationTime)
		}

		return out[i].Name < out[j].Name
	})

	return out, nil
}

func (p *projects) RequestDeletion(ctx context.Context, name string, now time.Time) error {
	p.s.mutex.Lock()
	defer p.s.mutex.Unlock()

	project, ok := p.s.projects[name]
	if !ok {
		return errors.ProjectDoesNotExist(name)
	}

	if project.DeletionRequestTime == nil {
		project.DeletionRequestTime = &now
		p.s.projects[name] = project
	}

	return nil
}

func (p *projects) DeleteWithCascade(ctx context.Context, name string) error {
	p.s.mutex.Lock()
	defer p.s.mutex.Unlock()

	if _, ok := p.s.projects[name]; !ok {
		return errors.ProjectDoesNotExist(name)
	}

	delete(p.s.projects, name)
	delete(p.s.versions, name)

	for key := range p.s.functions {
		if key.project == name {
			delete(p.s.functions, key)
		}
	}

	for key := range p.s.invocations {
		if key.project == name {
			delete(p.s.invocations, key)
		}
	}

	for key := range p.s.executions {
		if key.project == name {
			delete(p.s.executions, key)
		}
	}

	return nil
}

type versions struct {
	s *Store
}

var _ store.Versions = &versions{}

func (v *versions) Create(ctx context.Context, project, version string, now time.Time) error {
	v.s.mutex.Lock()
	defer v.s.mutex.Unlock()

	if err := v.s.checkProject(project); err != nil {
		return err
	}

	if _, ok := v.s.versions[project][version]; ok {
		return errors.VersionAlreadyExists(project, version)
	}

	v.s.versions[project][version] = models.Version{
		Project:      project,
		ID:           version,
		CreationTime: now,
	}

	return nil
}

func (v *versions) Get(ctx context.Context, project, version string) (*models.Version, []models.Function, error) {
	v.s.mutex.Lock()
	defer v.s.mutex.Unlock()

	if err := v.s.checkVersion(project, version); err != nil {
		return nil, nil, err
	}

	out := v.s.versions[project][version]

	var functions []models.Function

	for key, function := range v.s.functions {
		if key.project == project && key.version == version {
			functions = append(functions, function)
		}
	}

	sort.Slice(functions, func(i, j int) bool {
		return functions[i].Name < functions[j].Name
	})

	return &out, functions, nil
}

func (v *versions) GetIDOfLatest(ctx context.Context, project string) (string, error) {
	v.s.mutex.Lock()
	defer v.s.mutex.Unlock()

	if err := v.s.checkProject(project); err != nil {
		return "", err
	}

	all := lo.Values(v.s.versions[project])
	if len(all) == 0 {
		return "", errors.VersionDoesNotExist(project, "latest")
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreationTime.Equal(all[j].CreationTime) {
			return all[i].CreationTime.After(all[j].CreationTime)
		}

		return all[i].ID < all[j].ID
	})

	return all[0].ID, nil
}

func (v *versions) ListForProject(ctx context.Context, project string) ([]models.Version, error) {
	v.s.mutex.Lock()
	defer v.s.mutex.Unlock()

	if err := v.s.checkProject(project); err != nil {
		return nil, err
	}

	out := lo.Values(v.s.versions[project])

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].CreationTime.After(out[j].CreationTime)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}
