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
	"time"

	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/constants"
	"github.com/eschercloudai/runcorn/pkg/cursor"
	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type invocations struct {
	s *Store
}

var _ store.Invocations = &invocations{}

func (i *invocations) Create(ctx context.Context, invocation *models.Invocation) error {
	i.s.mutex.Lock()
	defer i.s.mutex.Unlock()

	if err := i.s.checkFunction(invocation.Project, invocation.Version, invocation.Function); err != nil {
		return err
	}

	if invocation.Parent != nil {
		parentKey := invocationKey{invocation.Project, invocation.Version, invocation.Parent.FunctionName, invocation.Parent.InvocationID}

		if _, ok := i.s.invocations[parentKey]; !ok {
			return errors.ParentInvocationDoesNotExist(invocation.Parent.FunctionName, invocation.Parent.InvocationID)
		}
	}

	key := invocationKey{invocation.Project, invocation.Version, invocation.Function, invocation.ID}

	if _, ok := i.s.invocations[key]; ok {
		return errors.InvocationAlreadyExists(invocation.ID)
	}

	stored := *invocation

	if invocation.Parent != nil {
		parent := *invocation.Parent
		stored.Parent = &parent
	}

	i.s.invocations[key] = stored

	return nil
}

func (i *invocations) Update(ctx context.Context, project, version, function, invocation string, now time.Time, update store.InvocationUpdate) error {
	i.s.mutex.Lock()
	defer i.s.mutex.Unlock()

	key := invocationKey{project, version, function, invocation}

	stored, ok := i.s.invocations[key]
	if !ok {
		return i.s.checkInvocation(project, version, function, invocation)
	}

	if update.SetCancellationRequested && stored.CancellationRequestTime == nil {
		t := now
		stored.CancellationRequestTime = &t
	}

	if update.Status != nil {
		stored.Status = *update.Status
	}

	stored.LastUpdateTime = now

	i.s.invocations[key] = stored

	return nil
}

func (i *invocations) Get(ctx context.Context, project, version, function, invocation string) (*models.InvocationWithExecutions, error) {
	i.s.mutex.Lock()
	defer i.s.mutex.Unlock()

	stored, ok := i.s.invocations[invocationKey{project, version, function, invocation}]
	if !ok {
		return nil, i.s.checkInvocation(project, version, function, invocation)
	}

	return &models.InvocationWithExecutions{
		Invocation: stored,
		Executions: i.s.executionsOf(project, version, function, invocation),
	}, nil
}

//nolint:cyclop
func (i *invocations) ListForFunction(ctx context.Context, request *store.ListInvocationsRequest) (*store.InvocationPage, error) {
	i.s.mutex.Lock()
	defer i.s.mutex.Unlock()

	if err := i.s.checkFunction(request.Project, request.Version, request.Function); err != nil {
		return nil, err
	}

	limit := request.MaxResults
	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	var selected []models.Invocation

	for key, invocation := range i.s.invocations {
		if key.project != request.Project || key.version != request.Version || key.function != request.Function {
			continue
		}

		if request.Status != nil && invocation.Status != *request.Status {
			continue
		}

		if request.Parent != nil {
			if invocation.Parent == nil || *invocation.Parent != *request.Parent {
				continue
			}
		}

		selected = append(selected, invocation)
	}

	sort.Slice(selected, func(a, b int) bool {
		if !selected[a].CreationTime.Equal(selected[b].CreationTime) {
			return selected[a].CreationTime.After(selected[b].CreationTime)
		}

		return selected[a].ID < selected[b].ID
	})

	if request.Cursor != "" {
		offset, err := cursor.Decode(request.Cursor)
		if err != nil {
			return nil, err
		}

		// Resume strictly after the named row.
		selected = lo.Filter(selected, func(invocation models.Invocation, _ int) bool {
			if !invocation.CreationTime.Equal(offset.CreationTime) {
				return invocation.CreationTime.Before(offset.CreationTime)
			}

			return invocation.ID > offset.ID
		})
	}

	page := &store.InvocationPage{}

	if len(selected) > limit {
		selected = selected[:limit]
		page.NextCursor = cursor.Encode(cursor.Cursor{
			CreationTime: selected[limit-1].CreationTime,
			ID:           selected[limit-1].ID,
		})
	}

	page.Items = make([]models.InvocationWithExecutions, len(selected))

	for k := range selected {
		page.Items[k] = models.InvocationWithExecutions{
			Invocation: selected[k],
			Executions: i.s.executionsOf(selected[k].Project, selected[k].Version, selected[k].Function, selected[k].ID),
		}
	}

	return page, nil
}

func (i *invocations) ListAll(ctx context.Context, statuses []models.InvocationStatus) ([]models.InvocationWithExecutions, error) {
	i.s.mutex.Lock()
	defer i.s.mutex.Unlock()

	if len(statuses) == 0 {
		return nil, nil
	}

	var selected []models.Invocation

	for _, invocation := range i.s.invocations {
		if lo.Contains(statuses, invocation.Status) {
			selected = append(selected, invocation)
		}
	}

	sort.Slice(selected, func(a, b int) bool {
		if !selected[a].CreationTime.Equal(selected[b].CreationTime) {
			return selected[a].CreationTime.Before(selected[b].CreationTime)
		}

		return selected[a].ID < selected[b].ID
	})

	out := make([]models.InvocationWithExecutions, len(selected))

	for k := range selected {
		out[k] = models.InvocationWithExecutions{
			Invocation: selected[k],
			Executions: i.s.executionsOf(selected[k].Project, selected[k].Version, selected[k].Function, selected[k].ID),
		}
	}

	return out, nil
}
