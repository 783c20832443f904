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

// Package dev implements the provisioner against process memory.  There
// is no real infrastructure: workers are records whose lifecycle the
// dev API and the test suites drive by hand.
package dev

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
)

type worker struct {
	details     models.WorkerDetails
	executionID string
	status      models.WorkerStatus
	signalled   bool
	logs        []string
}

// Provisioner implements the driver contract in memory.
type Provisioner struct {
	mutex sync.Mutex

	prepared map[string]models.PreparedDetails

	// workers is keyed by worker identifier; byExecution maps execution
	// ids to worker identifiers for the control surface.
	workers     map[string]*worker
	byExecution map[string]string

	// provisionFailure, when set, fails the next ProvisionWorker call.
	provisionFailure error
}

var _ provisioners.Provisioner = &Provisioner{}

// New returns an empty dev provisioner.
func New() *Provisioner {
	return &Provisioner{
		prepared:    map[string]models.PreparedDetails{},
		workers:     map[string]*worker{},
		byExecution: map[string]string{},
	}
}

func (p *Provisioner) PrepareFunction(ctx context.Context, request *provisioners.PrepareFunctionRequest) (*models.PreparedDetails, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	key := fmt.Sprintf("%s/%s/%s", request.Project, request.Version, request.Function)

	// Idempotent: preparing twice hands back the same artifact.
	if details, ok := p.prepared[key]; ok {
		return &details, nil
	}

	details := models.PreparedDetails{
		Identifier: "taskdef-" + key,
	}

	p.prepared[key] = details

	return &details, nil
}

func (p *Provisioner) ProvisionWorker(ctx context.Context, request *provisioners.ProvisionWorkerRequest) (*models.WorkerDetails, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if err := p.provisionFailure; err != nil {
		p.provisionFailure = nil

		return nil, err
	}

	id := "worker-" + uuid.New().String()

	w := &worker{
		details: models.WorkerDetails{
			Identifier: id,
			LogsHandle: id,
		},
		executionID: request.ExecutionID,
		status:      models.WorkerStatusRunning,
	}

	p.workers[id] = w
	p.byExecution[request.ExecutionID] = id

	return &w.details, nil
}

func (p *Provisioner) SendTerminationSignal(ctx context.Context, details *models.WorkerDetails) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	// Best effort: a worker that's already gone is fine.
	if w, ok := p.workers[details.Identifier]; ok {
		w.signalled = true
	}

	return nil
}

func (p *Provisioner) CheckWorkerStatus(ctx context.Context, details *models.WorkerDetails) (models.WorkerStatus, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	w, ok := p.workers[details.Identifier]
	if !ok {
		// Upstream garbage collection reads as terminated.
		return models.WorkerStatusTerminated, nil
	}

	return w.status, nil
}

func (p *Provisioner) GetWorkerLogs(ctx context.Context, request *provisioners.GetWorkerLogsRequest) (*provisioners.WorkerLogs, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	w, ok := p.workers[request.Details.LogsHandle]
	if !ok {
		return nil, provisioners.ErrUnknownWorker
	}

	start := 0

	if request.Offset != nil {
		var err error

		start, err = strconv.Atoi(*request.Offset)
		if err != nil || start < 0 {
			return nil, &provisioners.DriverError{Status: 400, Detail: "malformed log offset"}
		}
	}

	if start > len(w.logs) {
		start = len(w.logs)
	}

	end := len(w.logs)
	if request.MaxLines > 0 && start+request.MaxLines < end {
		end = start + request.MaxLines
	}

	logs := &provisioners.WorkerLogs{
		Lines: append([]string{}, w.logs[start:end]...),
	}

	if end < len(w.logs) {
		offset := strconv.Itoa(end)
		logs.NextOffset = &offset
	}

	return logs, nil
}

// The methods below are the control surface used by the dev deployment
// and the tests to play the part of real infrastructure.

// Signalled reports whether the worker for an execution has received a
// termination signal.
func (p *Provisioner) Signalled(executionID string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id, ok := p.byExecution[executionID]; ok {
		return p.workers[id].signalled
	}

	return false
}

// KillWorker marks the worker for an execution terminated, as if the
// container exited.
func (p *Provisioner) KillWorker(executionID string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id, ok := p.byExecution[executionID]; ok {
		p.workers[id].status = models.WorkerStatusTerminated
	}
}

// ForgetWorker removes all record of the worker, simulating upstream
// garbage collection.
func (p *Provisioner) ForgetWorker(executionID string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id, ok := p.byExecution[executionID]; ok {
		delete(p.workers, id)
		delete(p.byExecution, executionID)
	}
}

// AppendLog appends a line to the worker's log stream.
func (p *Provisioner) AppendLog(executionID, line string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if id, ok := p.byExecution[executionID]; ok {
		p.workers[id].logs = append(p.workers[id].logs, line)
	}
}

// HasWorker reports whether an execution has a provisioned worker.
func (p *Provisioner) HasWorker(executionID string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	_, ok := p.byExecution[executionID]

	return ok
}

// FailNextProvision injects an error into the next ProvisionWorker call.
func (p *Provisioner) FailNextProvision(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.provisionFailure = err
}
