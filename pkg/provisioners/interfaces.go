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

// Package provisioners abstracts the infrastructure that prepares
// functions and runs workers, e.g. ECS, Kubernetes, or the in-memory dev
// backend.  The reconciler is the only caller; it treats any error as
// retryable on the next tick, so implementations are free to fail
// transiently.
package provisioners

//go:generate mockgen -source=interfaces.go -destination=mock/interfaces.go -package=mock

import (
	"context"

	"github.com/eschercloudai/runcorn/pkg/models"
)

// PrepareFunctionRequest carries everything needed to create the cloud
// side definition for a function before workers can run.
type PrepareFunctionRequest struct {
	Project     string
	Version     string
	Function    string
	DockerImage string
	Resources   models.ResourceSpec
}

// ProvisionWorkerRequest starts one worker for one execution.
type ProvisionWorkerRequest struct {
	Project      string
	Version      string
	Function     string
	InvocationID string
	ExecutionID  string
	Resources    models.ResourceSpec
	Prepared     models.PreparedDetails
}

// GetWorkerLogsRequest selects a page of a worker's logs.
type GetWorkerLogsRequest struct {
	Details  models.WorkerDetails
	MaxLines int

	// Offset is an opaque token from a previous page, nil for the start.
	Offset *string
}

// WorkerLogs is one page of log lines.  NextOffset is set when more
// lines may exist.
type WorkerLogs struct {
	Lines      []string
	NextOffset *string
}

// Provisioner is the driver contract for worker infrastructure.
type Provisioner interface {
	// PrepareFunction creates any cloud side definition needed before
	// workers can run, e.g. a task definition.  Implementations should
	// ensure this receiver is idempotent from the caller's view.
	PrepareFunction(ctx context.Context, request *PrepareFunctionRequest) (*models.PreparedDetails, error)

	// ProvisionWorker starts a worker and returns its opaque identity.
	ProvisionWorker(ctx context.Context, request *ProvisionWorkerRequest) (*models.WorkerDetails, error)

	// SendTerminationSignal asks a worker to wind down.  Best effort and
	// safe to call repeatedly.
	SendTerminationSignal(ctx context.Context, details *models.WorkerDetails) error

	// CheckWorkerStatus reports RUNNING or TERMINATED.  A worker record
	// garbage collected upstream reads as TERMINATED.
	CheckWorkerStatus(ctx context.Context, details *models.WorkerDetails) (models.WorkerStatus, error)

	// GetWorkerLogs returns a page of the worker's logs.
	GetWorkerLogs(ctx context.Context, request *GetWorkerLogsRequest) (*WorkerLogs, error)
}
