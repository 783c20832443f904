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

// Package models defines the entities the control plane persists and
// schedules.  Ownership runs project -> version -> function ->
// invocation -> execution; deleting a project cascades down the chain.
package models

import (
	"time"
)

// FunctionStatus describes whether a function is usable yet.
type FunctionStatus string

const (
	// FunctionStatusPending means the provisioner has not prepared the
	// function yet, so no workers can be provisioned for it.
	FunctionStatusPending FunctionStatus = "PENDING"

	// FunctionStatusReady means the function has prepared details and
	// invocations of it may be scheduled.
	FunctionStatusReady FunctionStatus = "READY"
)

// InvocationStatus describes the lifecycle of an invocation.
type InvocationStatus string

const (
	InvocationStatusRunning    InvocationStatus = "RUNNING"
	InvocationStatusTerminated InvocationStatus = "TERMINATED"
)

// WorkerStatus describes the lifecycle of an execution's worker.
type WorkerStatus string

const (
	WorkerStatusPending      WorkerStatus = "PENDING"
	WorkerStatusProvisioning WorkerStatus = "PROVISIONING"
	WorkerStatusRunning      WorkerStatus = "RUNNING"
	WorkerStatusTerminated   WorkerStatus = "TERMINATED"
)

// ExecutionOutcome is the terminal classification of an execution.
// ABORTED indicates a graceful response to a termination signal.
type ExecutionOutcome string

const (
	ExecutionOutcomeSucceeded ExecutionOutcome = "SUCCEEDED"
	ExecutionOutcomeFailed    ExecutionOutcome = "FAILED"
	ExecutionOutcomeAborted   ExecutionOutcome = "ABORTED"
)

// ResourceSpec sizes the worker containers for a function and bounds how
// many of its invocations may hold live executions at once.
type ResourceSpec struct {
	VirtualCPUs    float64 `json:"virtualCpus"`
	MemoryGBs      float64 `json:"memoryGbs"`
	MaxConcurrency int     `json:"maxConcurrency"`
}

// ExecutionSpec bounds the attempts made on behalf of one invocation.
// MaxRetries of zero allows exactly one attempt.  The timeout is measured
// from invocation creation, so time queued counts against the budget.
type ExecutionSpec struct {
	MaxRetries     int `json:"maxRetries"`
	TimeoutSeconds int `json:"timeoutSeconds"`
}

// PreparedDetails is the opaque provisioner artifact recorded when a
// function becomes READY, e.g. a task definition ARN.  It must be handed
// back when provisioning workers.
type PreparedDetails struct {
	Identifier string `json:"identifier"`
}

// WorkerDetails identifies a provisioned worker and where to find its
// logs.  Opaque to the store.
type WorkerDetails struct {
	Identifier string `json:"identifier"`
	LogsHandle string `json:"logsHandle,omitempty"`
}

// Project is the top level grouping entity.
type Project struct {
	Name         string
	CreationTime time.Time

	// DeletionRequestTime, once set, marks the project for deletion.  The
	// reconciler garbage collects the project when no invocation of it is
	// still running.
	DeletionRequestTime *time.Time
}

// Deleting reports whether deletion has been requested.
func (p *Project) Deleting() bool {
	return p.DeletionRequestTime != nil
}

// Version is an immutable snapshot of a project's function set.
type Version struct {
	Project      string
	ID           string
	CreationTime time.Time
}

// Function is a named container image plus scheduling specs within one
// version of a project.
type Function struct {
	Project      string
	Version      string
	Name         string
	DockerImage  string
	Resources    ResourceSpec
	Execution    ExecutionSpec
	Status       FunctionStatus
	Prepared     *PreparedDetails
	CreationTime time.Time
}

// ParentReference names the invocation that spawned a child, scoped to
// the same project and version.  Parent references are acyclic by
// construction: the parent must exist when the child is created and can
// never be repointed.
type ParentReference struct {
	FunctionName string `json:"functionName"`
	InvocationID string `json:"invocationId"`
}

// Invocation is a user request to run a function with a given input.  It
// owns zero or more executions, one per attempt.
type Invocation struct {
	Project      string
	Version      string
	Function     string
	ID           string
	Parent       *ParentReference
	Input        string
	Status       InvocationStatus
	CreationTime time.Time

	// CancellationRequestTime is a data flag, not a signal: the
	// reconciler observes it on its next tick and signals workers.
	CancellationRequestTime *time.Time

	LastUpdateTime time.Time
}

// Cancelled reports whether cancellation has been requested.
func (i *Invocation) Cancelled() bool {
	return i.CancellationRequestTime != nil
}

// TimedOut reports whether the invocation has exceeded its execution
// spec budget at time t.  The comparison is strict.
func (i *Invocation) TimedOut(spec ExecutionSpec, t time.Time) bool {
	return t.Sub(i.CreationTime) > time.Duration(spec.TimeoutSeconds)*time.Second
}

// InvocationWithExecutions is an invocation joined with all of its
// executions, as returned by store getters and scans.
type InvocationWithExecutions struct {
	Invocation
	Executions []Execution
}

// Live reports whether any execution is not yet TERMINATED, i.e. the
// invocation holds a concurrency slot.
func (i *InvocationWithExecutions) Live() bool {
	for k := range i.Executions {
		if i.Executions[k].WorkerStatus != WorkerStatusTerminated {
			return true
		}
	}

	return false
}

// Execution is one attempt at an invocation and corresponds 1:1 with a
// worker.
type Execution struct {
	Project      string
	Version      string
	Function     string
	InvocationID string
	ID           string

	WorkerStatus  WorkerStatus
	WorkerDetails *WorkerDetails

	// TerminationSignalTime records the single signal sent to the
	// worker.  It is stamped at most once.
	TerminationSignalTime *time.Time

	Outcome      *ExecutionOutcome
	Output       *string
	ErrorMessage *string

	CreationTime   time.Time
	LastUpdateTime time.Time
	StartTime      *time.Time
	FinishTime     *time.Time
}

// Finished reports whether the attempt has come to rest, either with an
// outcome or as a worker that died without reporting one.
func (e *Execution) Finished() bool {
	return e.FinishTime != nil
}
