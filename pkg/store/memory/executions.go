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

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type executions struct {
	s *Store
}

var _ store.Executions = &executions{}

func (e *executions) Create(ctx context.Context, execution *models.Execution) error {
	e.s.mutex.Lock()
	defer e.s.mutex.Unlock()

	if err := e.s.checkInvocation(execution.Project, execution.Version, execution.Function, execution.InvocationID); err != nil {
		return err
	}

	key := executionKey{execution.Project, execution.Version, execution.Function, execution.InvocationID, execution.ID}

	if _, ok := e.s.executions[key]; ok {
		return errors.ExecutionAlreadyExists(execution.ID)
	}

	e.s.executions[key] = *execution

	return nil
}

//nolint:cyclop
func (e *executions) Update(ctx context.Context, project, version, function, invocation, execution string, now time.Time, update store.ExecutionUpdate) error {
	e.s.mutex.Lock()
	defer e.s.mutex.Unlock()

	key := executionKey{project, version, function, invocation, execution}

	stored, ok := e.s.executions[key]
	if !ok {
		if err := e.s.checkInvocation(project, version, function, invocation); err != nil {
			return err
		}

		return errors.ExecutionDoesNotExist(project, version, function, invocation, execution)
	}

	switch update.ShouldHaveStarted {
	case store.PreconditionHolds:
		if stored.StartTime == nil {
			return errors.ExecutionHasNotStarted(execution)
		}
	case store.PreconditionAbsent:
		if stored.StartTime != nil {
			return errors.ExecutionHasAlreadyStarted(execution)
		}
	case store.PreconditionNone:
	}

	switch update.ShouldHaveFinished {
	case store.PreconditionHolds:
		if stored.FinishTime == nil {
			return errors.ExecutionHasNotFinished(execution)
		}
	case store.PreconditionAbsent:
		if stored.FinishTime != nil {
			return errors.ExecutionHasAlreadyFinished(execution)
		}
	case store.PreconditionNone:
	}

	if update.WorkerStatus != nil {
		stored.WorkerStatus = *update.WorkerStatus
	}

	if update.WorkerDetails != nil {
		details := *update.WorkerDetails
		stored.WorkerDetails = &details
	}

	if update.TerminationSignalTime != nil && stored.TerminationSignalTime == nil {
		t := *update.TerminationSignalTime
		stored.TerminationSignalTime = &t
	}

	if update.Outcome != nil {
		outcome := *update.Outcome
		stored.Outcome = &outcome
	}

	if update.Output != nil {
		output := *update.Output
		stored.Output = &output
	}

	if update.ErrorMessage != nil {
		message := *update.ErrorMessage
		stored.ErrorMessage = &message
	}

	if update.StartTime != nil {
		t := *update.StartTime
		stored.StartTime = &t
	}

	if update.FinishTime != nil {
		t := *update.FinishTime
		stored.FinishTime = &t
	}

	stored.LastUpdateTime = now

	e.s.executions[key] = stored

	return nil
}

func (e *executions) Get(ctx context.Context, project, version, function, invocation, execution string) (*models.Execution, error) {
	e.s.mutex.Lock()
	defer e.s.mutex.Unlock()

	stored, ok := e.s.executions[executionKey{project, version, function, invocation, execution}]
	if !ok {
		if err := e.s.checkInvocation(project, version, function, invocation); err != nil {
			return nil, err
		}

		return nil, errors.ExecutionDoesNotExist(project, version, function, invocation, execution)
	}

	return &stored, nil
}

func (e *executions) ListForInvocation(ctx context.Context, project, version, function, invocation string) ([]models.Execution, error) {
	e.s.mutex.Lock()
	defer e.s.mutex.Unlock()

	if err := e.s.checkInvocation(project, version, function, invocation); err != nil {
		return nil, err
	}

	return e.s.executionsOf(project, version, function, invocation), nil
}

func (e *executions) ListAll(ctx context.Context, statuses []models.WorkerStatus) ([]models.Execution, error) {
	e.s.mutex.Lock()
	defer e.s.mutex.Unlock()

	if len(statuses) == 0 {
		return nil, nil
	}

	var out []models.Execution

	for _, execution := range e.s.executions {
		if lo.Contains(statuses, execution.WorkerStatus) {
			out = append(out, execution)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].CreationTime.Before(out[j].CreationTime)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}
