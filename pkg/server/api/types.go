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

// Package api defines the wire types of the REST API.  These are kept
// separate from the storage models so the wire format can evolve
// without touching the store, and vice versa.
package api

import (
	"time"
)

// Project is the wire form of a project.
type Project struct {
	Name                string     `json:"name"`
	CreationTime        time.Time  `json:"creationTime"`
	DeletionRequestTime *time.Time `json:"deletionRequestTime,omitempty"`
}

// CreateProjectRequest creates a project.
type CreateProjectRequest struct {
	Name string `json:"name" validate:"required"`
}

// FunctionDefinition declares one function of a new version.
type FunctionDefinition struct {
	Name           string  `json:"name" validate:"required"`
	DockerImage    string  `json:"dockerImage" validate:"required"`
	VirtualCPUs    float64 `json:"virtualCpus" validate:"gt=0"`
	MemoryGBs      float64 `json:"memoryGbs" validate:"gt=0"`
	MaxConcurrency int     `json:"maxConcurrency" validate:"gte=1"`
	MaxRetries     int     `json:"maxRetries" validate:"gte=0"`
	TimeoutSeconds int     `json:"timeoutSeconds" validate:"gte=1"`
}

// CreateVersionRequest creates an immutable version from a set of
// function declarations.
type CreateVersionRequest struct {
	Functions []FunctionDefinition `json:"functions" validate:"required,min=1,unique=Name,dive"`
}

// Version is the wire form of a version.
type Version struct {
	ID           string    `json:"id"`
	CreationTime time.Time `json:"creationTime"`
}

// VersionDetail is a version with its functions.
type VersionDetail struct {
	Version
	Functions []Function `json:"functions"`
}

// Function is the wire form of a function.
type Function struct {
	Name           string    `json:"name"`
	DockerImage    string    `json:"dockerImage"`
	VirtualCPUs    float64   `json:"virtualCpus"`
	MemoryGBs      float64   `json:"memoryGbs"`
	MaxConcurrency int       `json:"maxConcurrency"`
	MaxRetries     int       `json:"maxRetries"`
	TimeoutSeconds int       `json:"timeoutSeconds"`
	Status         string    `json:"status"`
	CreationTime   time.Time `json:"creationTime"`
}

// ParentReference names the invocation that spawned a child.
type ParentReference struct {
	FunctionName string `json:"functionName"`
	InvocationID string `json:"invocationId"`
}

// CreateInvocationRequest creates an invocation.
type CreateInvocationRequest struct {
	Input  string           `json:"input"`
	Parent *ParentReference `json:"parent,omitempty"`
}

// Invocation is the wire form of an invocation with its executions.
type Invocation struct {
	ID                      string           `json:"id"`
	Project                 string           `json:"project"`
	Version                 string           `json:"version"`
	Function                string           `json:"function"`
	Parent                  *ParentReference `json:"parent,omitempty"`
	Input                   string           `json:"input"`
	Status                  string           `json:"status"`
	CreationTime            time.Time        `json:"creationTime"`
	CancellationRequestTime *time.Time       `json:"cancellationRequestTime,omitempty"`
	LastUpdateTime          time.Time        `json:"lastUpdateTime"`
	Executions              []Execution      `json:"executions"`
}

// InvocationPage is one page of invocations.
type InvocationPage struct {
	Items      []Invocation `json:"items"`
	NextCursor *string      `json:"nextCursor,omitempty"`
}

// Execution is the wire form of an execution.
type Execution struct {
	ID                    string     `json:"id"`
	InvocationID          string     `json:"invocationId"`
	WorkerStatus          string     `json:"workerStatus"`
	TerminationSignalTime *time.Time `json:"terminationSignalTime,omitempty"`
	Outcome               *string    `json:"outcome,omitempty"`
	Output                *string    `json:"output,omitempty"`
	ErrorMessage          *string    `json:"errorMessage,omitempty"`
	CreationTime          time.Time  `json:"creationTime"`
	LastUpdateTime        time.Time  `json:"lastUpdateTime"`
	StartTime             *time.Time `json:"startTime,omitempty"`
	FinishTime            *time.Time `json:"finishTime,omitempty"`
}

// TemporaryResultRequest uploads a provisional output for a running
// execution.
type TemporaryResultRequest struct {
	Output string `json:"output"`
}

// FinalResultRequest records the terminal outcome of an execution.
type FinalResultRequest struct {
	Outcome      string  `json:"outcome" validate:"required,oneof=SUCCEEDED FAILED ABORTED"`
	Output       *string `json:"output,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// ExecutionLogs is a page of worker log lines.
type ExecutionLogs struct {
	Lines      []string `json:"lines"`
	NextOffset *string  `json:"nextOffset,omitempty"`
}
