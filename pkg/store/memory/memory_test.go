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

package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
	"github.com/eschercloudai/runcorn/pkg/store/memory"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seed creates a project, version and function so entity tests have a
// full ancestor chain to hang off.
func seed(t *testing.T, s store.Store) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, s.Projects().Create(ctx, "p", epoch))
	require.NoError(t, s.Versions().Create(ctx, "p", "ver-1", epoch))

	function := &models.Function{
		Project:      "p",
		Version:      "ver-1",
		Name:         "f",
		DockerImage:  "image",
		Resources:    models.ResourceSpec{VirtualCPUs: 1, MemoryGBs: 1, MaxConcurrency: 1},
		Execution:    models.ExecutionSpec{MaxRetries: 0, TimeoutSeconds: 60},
		Status:       models.FunctionStatusPending,
		CreationTime: epoch,
	}

	require.NoError(t, s.Functions().Create(ctx, function))
}

func newInvocation(id string, creation time.Time) *models.Invocation {
	return &models.Invocation{
		Project:        "p",
		Version:        "ver-1",
		Function:       "f",
		ID:             id,
		Input:          "x",
		Status:         models.InvocationStatusRunning,
		CreationTime:   creation,
		LastUpdateTime: creation,
	}
}

func newExecution(invocation, id string, creation time.Time) *models.Execution {
	return &models.Execution{
		Project:        "p",
		Version:        "ver-1",
		Function:       "f",
		InvocationID:   invocation,
		ID:             id,
		WorkerStatus:   models.WorkerStatusPending,
		CreationTime:   creation,
		LastUpdateTime: creation,
	}
}

// TestNotFoundCascade expects the outermost missing ancestor to be
// reported, whatever entity was asked about.
func TestNotFoundCascade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	_, err := s.Invocations().Get(ctx, "nope", "ver-1", "f", "inv-1")
	assert.True(t, errors.HasCode(err, errors.CodeProjectDoesNotExist))

	seed(t, s)

	_, err = s.Invocations().Get(ctx, "p", "ver-2", "f", "inv-1")
	assert.True(t, errors.HasCode(err, errors.CodeVersionDoesNotExist))

	_, err = s.Invocations().Get(ctx, "p", "ver-1", "g", "inv-1")
	assert.True(t, errors.HasCode(err, errors.CodeFunctionDoesNotExist))

	_, err = s.Invocations().Get(ctx, "p", "ver-1", "f", "inv-1")
	assert.True(t, errors.HasCode(err, errors.CodeInvocationDoesNotExist))

	_, err = s.Executions().Get(ctx, "p", "ver-1", "f", "inv-1", "exe-1")
	assert.True(t, errors.HasCode(err, errors.CodeInvocationDoesNotExist))
}

// TestProjectConflictAndDeletion checks name reuse raises a conflict and
// deletion request stamping is idempotent.
func TestProjectConflictAndDeletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Projects().Create(ctx, "p", epoch))

	err := s.Projects().Create(ctx, "p", epoch.Add(time.Second))
	assert.True(t, errors.HasCode(err, errors.CodeProjectAlreadyExists))

	require.NoError(t, s.Projects().RequestDeletion(ctx, "p", epoch.Add(time.Minute)))

	// The first request's timestamp sticks.
	require.NoError(t, s.Projects().RequestDeletion(ctx, "p", epoch.Add(time.Hour)))

	project, err := s.Projects().Get(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, project.DeletionRequestTime)
	assert.Equal(t, epoch.Add(time.Minute), *project.DeletionRequestTime)
}

// TestGetIDOfLatest expects the newest version, ties broken by smallest
// id.
func TestGetIDOfLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Projects().Create(ctx, "p", epoch))
	require.NoError(t, s.Versions().Create(ctx, "p", "ver-a", epoch))
	require.NoError(t, s.Versions().Create(ctx, "p", "ver-c", epoch.Add(time.Minute)))
	require.NoError(t, s.Versions().Create(ctx, "p", "ver-b", epoch.Add(time.Minute)))

	latest, err := s.Versions().GetIDOfLatest(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "ver-b", latest)
}

// TestInvocationCancelIdempotent expects the first cancellation
// timestamp to stick.
func TestInvocationCancelIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	require.NoError(t, s.Invocations().Create(ctx, newInvocation("inv-1", epoch)))

	update := store.InvocationUpdate{SetCancellationRequested: true}

	require.NoError(t, s.Invocations().Update(ctx, "p", "ver-1", "f", "inv-1", epoch.Add(time.Minute), update))
	require.NoError(t, s.Invocations().Update(ctx, "p", "ver-1", "f", "inv-1", epoch.Add(time.Hour), update))

	invocation, err := s.Invocations().Get(ctx, "p", "ver-1", "f", "inv-1")
	require.NoError(t, err)
	require.NotNil(t, invocation.CancellationRequestTime)
	assert.Equal(t, epoch.Add(time.Minute), *invocation.CancellationRequestTime)
}

// TestInvocationParentMustExist expects a dangling parent reference to
// be rejected.
func TestInvocationParentMustExist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	orphan := newInvocation("inv-1", epoch)
	orphan.Parent = &models.ParentReference{FunctionName: "f", InvocationID: "inv-0"}

	err := s.Invocations().Create(ctx, orphan)
	assert.True(t, errors.HasCode(err, errors.CodeParentInvocationDoesNotExist))
}

// TestInvocationPagination walks 60 invocations through the page cap.
func TestInvocationPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("inv-%03d", i)
		require.NoError(t, s.Invocations().Create(ctx, newInvocation(id, epoch.Add(time.Duration(i)*time.Second))))
	}

	request := &store.ListInvocationsRequest{
		Project:  "p",
		Version:  "ver-1",
		Function: "f",

		// Over the cap, clamped to 50.
		MaxResults: 1000,
	}

	page, err := s.Invocations().ListForFunction(ctx, request)
	require.NoError(t, err)
	require.Len(t, page.Items, 50)
	require.NotEmpty(t, page.NextCursor)

	// Newest first.
	assert.Equal(t, "inv-059", page.Items[0].ID)
	assert.Equal(t, "inv-010", page.Items[49].ID)

	request.Cursor = page.NextCursor

	page, err = s.Invocations().ListForFunction(ctx, request)
	require.NoError(t, err)
	require.Len(t, page.Items, 10)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, "inv-009", page.Items[0].ID)
	assert.Equal(t, "inv-000", page.Items[9].ID)
}

// TestInvocationPaginationBadCursor expects a garbage cursor to be
// rejected as a validation error.
func TestInvocationPaginationBadCursor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	request := &store.ListInvocationsRequest{
		Project:  "p",
		Version:  "ver-1",
		Function: "f",
		Cursor:   "not-a-cursor",
	}

	_, err := s.Invocations().ListForFunction(ctx, request)
	assert.True(t, errors.HasCode(err, errors.CodeOffsetIsInvalid))
}

// TestInvocationListFilters checks the status and parent filters.
func TestInvocationListFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	require.NoError(t, s.Invocations().Create(ctx, newInvocation("inv-1", epoch)))

	child := newInvocation("inv-2", epoch.Add(time.Second))
	child.Parent = &models.ParentReference{FunctionName: "f", InvocationID: "inv-1"}
	require.NoError(t, s.Invocations().Create(ctx, child))

	terminated := models.InvocationStatusTerminated
	require.NoError(t, s.Invocations().Update(ctx, "p", "ver-1", "f", "inv-1", epoch.Add(time.Minute), store.InvocationUpdate{Status: &terminated}))

	running := models.InvocationStatusRunning

	page, err := s.Invocations().ListForFunction(ctx, &store.ListInvocationsRequest{
		Project: "p", Version: "ver-1", Function: "f", Status: &running,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "inv-2", page.Items[0].ID)

	page, err = s.Invocations().ListForFunction(ctx, &store.ListInvocationsRequest{
		Project: "p", Version: "ver-1", Function: "f",
		Parent: &models.ParentReference{FunctionName: "f", InvocationID: "inv-1"},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "inv-2", page.Items[0].ID)
}

// TestExecutionPreconditions drives the start/finish state machine
// through its error arms.
func TestExecutionPreconditions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	require.NoError(t, s.Invocations().Create(ctx, newInvocation("inv-1", epoch)))
	require.NoError(t, s.Executions().Create(ctx, newExecution("inv-1", "exe-1", epoch)))

	now := epoch.Add(time.Minute)

	// Finishing before starting is rejected.
	finish := store.ExecutionUpdate{
		FinishTime:         &now,
		ShouldHaveStarted:  store.PreconditionHolds,
		ShouldHaveFinished: store.PreconditionAbsent,
	}

	err := s.Executions().Update(ctx, "p", "ver-1", "f", "inv-1", "exe-1", now, finish)
	assert.True(t, errors.HasCode(err, errors.CodeExecutionHasNotStarted))

	start := store.ExecutionUpdate{
		StartTime:         &now,
		ShouldHaveStarted: store.PreconditionAbsent,
	}

	require.NoError(t, s.Executions().Update(ctx, "p", "ver-1", "f", "inv-1", "exe-1", now, start))

	// Starting twice is rejected.
	err = s.Executions().Update(ctx, "p", "ver-1", "f", "inv-1", "exe-1", now, start)
	assert.True(t, errors.HasCode(err, errors.CodeExecutionHasAlreadyStarted))

	require.NoError(t, s.Executions().Update(ctx, "p", "ver-1", "f", "inv-1", "exe-1", now, finish))

	// Finishing twice is rejected.
	err = s.Executions().Update(ctx, "p", "ver-1", "f", "inv-1", "exe-1", now, finish)
	assert.True(t, errors.HasCode(err, errors.CodeExecutionHasAlreadyFinished))
}

// TestExecutionSignalStampedOnce expects the termination signal time to
// be write-once.
func TestExecutionSignalStampedOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	require.NoError(t, s.Invocations().Create(ctx, newInvocation("inv-1", epoch)))
	require.NoError(t, s.Executions().Create(ctx, newExecution("inv-1", "exe-1", epoch)))

	first := epoch.Add(time.Minute)
	second := epoch.Add(time.Hour)

	require.NoError(t, s.Executions().Update(ctx, "p", "ver-1", "f", "inv-1", "exe-1", first, store.ExecutionUpdate{TerminationSignalTime: &first}))
	require.NoError(t, s.Executions().Update(ctx, "p", "ver-1", "f", "inv-1", "exe-1", second, store.ExecutionUpdate{TerminationSignalTime: &second}))

	execution, err := s.Executions().Get(ctx, "p", "ver-1", "f", "inv-1", "exe-1")
	require.NoError(t, err)
	require.NotNil(t, execution.TerminationSignalTime)
	assert.Equal(t, first, *execution.TerminationSignalTime)
}

// TestListAllEmptyStatuses expects an empty status set to select
// nothing rather than everything.
func TestListAllEmptyStatuses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	functions, err := s.Functions().ListAll(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, functions)

	invocations, err := s.Invocations().ListAll(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, invocations)

	executions, err := s.Executions().ListAll(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, executions)
}

// TestDeleteWithCascade expects no trace of the project afterwards.
func TestDeleteWithCascade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	require.NoError(t, s.Invocations().Create(ctx, newInvocation("inv-1", epoch)))
	require.NoError(t, s.Executions().Create(ctx, newExecution("inv-1", "exe-1", epoch)))

	require.NoError(t, s.Projects().DeleteWithCascade(ctx, "p"))

	_, err := s.Projects().Get(ctx, "p")
	assert.True(t, errors.HasCode(err, errors.CodeProjectDoesNotExist))

	executions, err := s.Executions().ListAll(ctx, []models.WorkerStatus{models.WorkerStatusPending})
	require.NoError(t, err)
	assert.Empty(t, executions)

	invocations, err := s.Invocations().ListAll(ctx, []models.InvocationStatus{models.InvocationStatusRunning})
	require.NoError(t, err)
	assert.Empty(t, invocations)
}
