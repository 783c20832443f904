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

// Package store defines the persistence contract for the control plane.
// The store is the only persistent state in the system: the request
// handlers and the reconciler both read and write through these
// interfaces and rely on the implementation's transactional semantics to
// arbitrate their races.
package store

import (
	"context"
	"time"

	"github.com/eschercloudai/runcorn/pkg/models"
)

// Precondition is a tri-state check applied to an execution update.
type Precondition int

const (
	// PreconditionNone skips the check.
	PreconditionNone Precondition = iota

	// PreconditionHolds requires the checked field to already be set.
	PreconditionHolds

	// PreconditionAbsent requires the checked field to be unset.
	PreconditionAbsent
)

// FunctionUpdate is a partial update of a function.  Nil fields are left
// untouched.
type FunctionUpdate struct {
	Status   *models.FunctionStatus
	Prepared *models.PreparedDetails
}

// InvocationUpdate is a partial update of an invocation.
type InvocationUpdate struct {
	// SetCancellationRequested stamps the cancellation request time if,
	// and only if, it is currently unset.  Repeat requests are no-ops.
	SetCancellationRequested bool

	Status *models.InvocationStatus
}

// ExecutionUpdate is a partial update of an execution.  The start/finish
// preconditions let the worker facing handlers enforce their state
// machine with a single conditional UPDATE.
type ExecutionUpdate struct {
	WorkerStatus          *models.WorkerStatus
	WorkerDetails         *models.WorkerDetails
	TerminationSignalTime *time.Time
	Outcome               *models.ExecutionOutcome
	Output                *string
	ErrorMessage          *string
	StartTime             *time.Time
	FinishTime            *time.Time

	// ShouldHaveStarted raises ExecutionHasAlreadyStarted or
	// ExecutionHasNotStarted when the current start time contradicts it.
	ShouldHaveStarted Precondition

	// ShouldHaveFinished raises ExecutionHasAlreadyFinished or
	// ExecutionHasNotFinished when the current finish time contradicts it.
	ShouldHaveFinished Precondition
}

// ListInvocationsRequest selects a page of a function's invocations,
// ordered by (creation_time desc, id).
type ListInvocationsRequest struct {
	Project  string
	Version  string
	Function string

	// MaxResults is clamped to the page cap; zero means the cap.
	MaxResults int

	// Cursor is an opaque offset from a previous page, empty for the
	// first page.
	Cursor string

	Status *models.InvocationStatus
	Parent *models.ParentReference
}

// InvocationPage is one page of invocations.  NextCursor is set whenever
// more rows exist beyond this page.
type InvocationPage struct {
	Items      []models.InvocationWithExecutions
	NextCursor string
}

// Projects persists top level projects.
type Projects interface {
	// Create fails with ProjectAlreadyExists on name reuse.
	Create(ctx context.Context, name string, now time.Time) error

	// Get fails with ProjectDoesNotExist when absent.
	Get(ctx context.Context, name string) (*models.Project, error)

	// List returns all projects ordered by creation time descending.
	List(ctx context.Context) ([]models.Project, error)

	// RequestDeletion marks the project for deletion.  Idempotent: the
	// first request's timestamp sticks.
	RequestDeletion(ctx context.Context, name string, now time.Time) error

	// DeleteWithCascade atomically removes the project and every owned
	// version, function, invocation and execution.
	DeleteWithCascade(ctx context.Context, name string) error
}

// Versions persists immutable project versions.
type Versions interface {
	Create(ctx context.Context, project, version string, now time.Time) error

	// Get returns the version and its functions.
	Get(ctx context.Context, project, version string) (*models.Version, []models.Function, error)

	// GetIDOfLatest returns the version id with the greatest creation
	// time, ties broken by lexicographically smallest id.
	GetIDOfLatest(ctx context.Context, project string) (string, error)

	ListForProject(ctx context.Context, project string) ([]models.Version, error)
}

// Functions persists function definitions.
type Functions interface {
	// Create inserts the function with status PENDING.
	Create(ctx context.Context, function *models.Function) error

	Update(ctx context.Context, project, version, name string, update FunctionUpdate) error

	Get(ctx context.Context, project, version, name string) (*models.Function, error)

	ListForVersion(ctx context.Context, project, version string) ([]models.Function, error)

	// ListAll scans across all projects filtered by status.  An empty
	// status set returns an empty list.
	ListAll(ctx context.Context, statuses []models.FunctionStatus) ([]models.Function, error)
}

// Invocations persists invocations.
type Invocations interface {
	// Create fails when the function is absent, or when a parent
	// reference is supplied and the parent invocation is absent.
	Create(ctx context.Context, invocation *models.Invocation) error

	Update(ctx context.Context, project, version, function, invocation string, now time.Time, update InvocationUpdate) error

	// Get returns the invocation with its executions embedded.
	Get(ctx context.Context, project, version, function, invocation string) (*models.InvocationWithExecutions, error)

	ListForFunction(ctx context.Context, request *ListInvocationsRequest) (*InvocationPage, error)

	ListAll(ctx context.Context, statuses []models.InvocationStatus) ([]models.InvocationWithExecutions, error)
}

// Executions persists executions.
type Executions interface {
	Create(ctx context.Context, execution *models.Execution) error

	Update(ctx context.Context, project, version, function, invocation, execution string, now time.Time, update ExecutionUpdate) error

	Get(ctx context.Context, project, version, function, invocation, execution string) (*models.Execution, error)

	ListForInvocation(ctx context.Context, project, version, function, invocation string) ([]models.Execution, error)

	// ListAll scans by worker status.  Scanning for TERMINATED is legal
	// but the result set is unbounded, so the reconciler never does.
	ListAll(ctx context.Context, statuses []models.WorkerStatus) ([]models.Execution, error)
}

// Store aggregates the five tables.
type Store interface {
	Projects() Projects
	Versions() Versions
	Functions() Functions
	Invocations() Invocations
	Executions() Executions
	Close() error
}
