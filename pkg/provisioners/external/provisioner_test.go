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

package external_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/provisioners/external"
)

// newDriver starts a stub driver and returns a client pointed at it.
func newDriver(t *testing.T, handler http.HandlerFunc) *external.Provisioner {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return external.New(&external.Options{
		Endpoint:       server.URL,
		Token:          "secret",
		RequestTimeout: 5 * time.Second,
	})
}

func TestPrepareFunction(t *testing.T) {
	t.Parallel()

	p := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/prepare", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var request map[string]interface{}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "p", request["project"])
		assert.Equal(t, "example/image:latest", request["dockerImage"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"preparedDetails":{"identifier":"taskdef-1"}}`))
	})

	details, err := p.PrepareFunction(context.Background(), &provisioners.PrepareFunctionRequest{
		Project:     "p",
		Version:     "ver-1",
		Function:    "f",
		DockerImage: "example/image:latest",
	})
	require.NoError(t, err)
	assert.Equal(t, "taskdef-1", details.Identifier)
}

func TestProvisionWorker(t *testing.T) {
	t.Parallel()

	p := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/provision", r.URL.Path)

		var request map[string]interface{}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "exe-1", request["executionId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"workerDetails":{"identifier":"worker-1","logsHandle":"stream-1"}}`))
	})

	details, err := p.ProvisionWorker(context.Background(), &provisioners.ProvisionWorkerRequest{
		Project:      "p",
		Version:      "ver-1",
		Function:     "f",
		InvocationID: "inv-1",
		ExecutionID:  "exe-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", details.Identifier)
	assert.Equal(t, "stream-1", details.LogsHandle)
}

func TestDriverRejectionIsPermanent(t *testing.T) {
	t.Parallel()

	p := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"image does not exist"}`))
	})

	_, err := p.ProvisionWorker(context.Background(), &provisioners.ProvisionWorkerRequest{ExecutionID: "exe-1"})
	require.Error(t, err)

	var driverError *provisioners.DriverError

	require.True(t, errors.As(err, &driverError))
	assert.Equal(t, http.StatusBadRequest, driverError.Status)
	assert.Equal(t, "image does not exist", driverError.Detail)
	assert.True(t, errors.Is(err, provisioners.ErrPermanent))
}

func TestDriverServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	p := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.CheckWorkerStatus(context.Background(), &models.WorkerDetails{Identifier: "worker-1"})
	require.Error(t, err)

	var driverError *provisioners.DriverError

	require.True(t, errors.As(err, &driverError))
	assert.Equal(t, http.StatusBadGateway, driverError.Status)

	// Unparseable bodies fall back to the status code.
	assert.Equal(t, "status 502", driverError.Detail)
	assert.False(t, errors.Is(err, provisioners.ErrPermanent))
}

func TestSendTerminationSignal(t *testing.T) {
	t.Parallel()

	p := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/terminate", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, p.SendTerminationSignal(context.Background(), &models.WorkerDetails{Identifier: "worker-1"}))
}

func TestCheckWorkerStatus(t *testing.T) {
	t.Parallel()

	p := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check_status", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"TERMINATED"}`))
	})

	status, err := p.CheckWorkerStatus(context.Background(), &models.WorkerDetails{Identifier: "worker-1"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusTerminated, status)
}

func TestGetWorkerLogs(t *testing.T) {
	t.Parallel()

	p := newDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get_logs", r.URL.Path)

		var request map[string]interface{}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, float64(100), request["maxLines"])
		assert.Equal(t, "token-1", request["offset"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lines":["a","b"],"nextOffset":"token-2"}`))
	})

	offset := "token-1"

	logs, err := p.GetWorkerLogs(context.Background(), &provisioners.GetWorkerLogsRequest{
		Details:  models.WorkerDetails{Identifier: "worker-1", LogsHandle: "stream-1"},
		MaxLines: 100,
		Offset:   &offset,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, logs.Lines)
	require.NotNil(t, logs.NextOffset)
	assert.Equal(t, "token-2", *logs.NextOffset)
}
