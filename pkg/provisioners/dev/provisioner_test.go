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

package dev_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/provisioners/dev"
)

func prepareRequest() *provisioners.PrepareFunctionRequest {
	return &provisioners.PrepareFunctionRequest{
		Project:     "p",
		Version:     "ver-1",
		Function:    "f",
		DockerImage: "example/image:latest",
		Resources: models.ResourceSpec{
			VirtualCPUs: 1,
			MemoryGBs:   2,
		},
	}
}

func provisionWorker(t *testing.T, p *dev.Provisioner, executionID string) *models.WorkerDetails {
	t.Helper()

	details, err := p.ProvisionWorker(context.Background(), &provisioners.ProvisionWorkerRequest{
		Project:      "p",
		Version:      "ver-1",
		Function:     "f",
		InvocationID: "inv-1",
		ExecutionID:  executionID,
	})
	require.NoError(t, err)

	return details
}

func TestPrepareFunctionIdempotent(t *testing.T) {
	t.Parallel()

	p := dev.New()

	first, err := p.PrepareFunction(context.Background(), prepareRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, first.Identifier)

	second, err := p.PrepareFunction(context.Background(), prepareRequest())
	require.NoError(t, err)
	assert.Equal(t, first.Identifier, second.Identifier)
}

func TestProvisionAndCheckStatus(t *testing.T) {
	t.Parallel()

	p := dev.New()
	details := provisionWorker(t, p, "exe-1")

	assert.NotEmpty(t, details.Identifier)
	assert.True(t, p.HasWorker("exe-1"))

	status, err := p.CheckWorkerStatus(context.Background(), details)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusRunning, status)

	p.KillWorker("exe-1")

	status, err = p.CheckWorkerStatus(context.Background(), details)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusTerminated, status)
}

func TestCheckStatusUnknownWorker(t *testing.T) {
	t.Parallel()

	p := dev.New()
	details := provisionWorker(t, p, "exe-1")

	p.ForgetWorker("exe-1")

	// Upstream garbage collection reads as terminated rather than an
	// error so the reconciler can settle the execution.
	status, err := p.CheckWorkerStatus(context.Background(), details)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusTerminated, status)
}

func TestSendTerminationSignal(t *testing.T) {
	t.Parallel()

	p := dev.New()
	details := provisionWorker(t, p, "exe-1")

	assert.False(t, p.Signalled("exe-1"))

	require.NoError(t, p.SendTerminationSignal(context.Background(), details))
	assert.True(t, p.Signalled("exe-1"))

	// Repeats and signals to dead workers are fine.
	require.NoError(t, p.SendTerminationSignal(context.Background(), details))

	p.ForgetWorker("exe-1")
	require.NoError(t, p.SendTerminationSignal(context.Background(), details))
}

func TestGetWorkerLogsPagination(t *testing.T) {
	t.Parallel()

	p := dev.New()
	details := provisionWorker(t, p, "exe-1")

	for i := 0; i < 5; i++ {
		p.AppendLog("exe-1", "line-"+strconv.Itoa(i))
	}

	page, err := p.GetWorkerLogs(context.Background(), &provisioners.GetWorkerLogsRequest{
		Details:  *details,
		MaxLines: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"line-0", "line-1"}, page.Lines)
	require.NotNil(t, page.NextOffset)

	page, err = p.GetWorkerLogs(context.Background(), &provisioners.GetWorkerLogsRequest{
		Details:  *details,
		MaxLines: 10,
		Offset:   page.NextOffset,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"line-2", "line-3", "line-4"}, page.Lines)
	assert.Nil(t, page.NextOffset)
}

func TestGetWorkerLogsBadOffset(t *testing.T) {
	t.Parallel()

	p := dev.New()
	details := provisionWorker(t, p, "exe-1")

	offset := "not-a-number"

	_, err := p.GetWorkerLogs(context.Background(), &provisioners.GetWorkerLogsRequest{
		Details:  *details,
		MaxLines: 10,
		Offset:   &offset,
	})
	require.Error(t, err)

	var driverError *provisioners.DriverError

	require.True(t, errors.As(err, &driverError))
	assert.Equal(t, 400, driverError.Status)
	assert.True(t, errors.Is(err, provisioners.ErrPermanent))
}

func TestGetWorkerLogsUnknownWorker(t *testing.T) {
	t.Parallel()

	p := dev.New()

	_, err := p.GetWorkerLogs(context.Background(), &provisioners.GetWorkerLogsRequest{
		Details:  models.WorkerDetails{Identifier: "worker-x", LogsHandle: "worker-x"},
		MaxLines: 10,
	})
	assert.True(t, errors.Is(err, provisioners.ErrUnknownWorker))
}

func TestFailNextProvision(t *testing.T) {
	t.Parallel()

	p := dev.New()
	injected := errors.New("out of capacity")

	p.FailNextProvision(injected)

	_, err := p.ProvisionWorker(context.Background(), &provisioners.ProvisionWorkerRequest{ExecutionID: "exe-1"})
	assert.True(t, errors.Is(err, injected))
	assert.False(t, p.HasWorker("exe-1"))

	// The injection only covers one call.
	provisionWorker(t, p, "exe-2")
}
