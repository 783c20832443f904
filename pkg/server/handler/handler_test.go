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

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/provisioners/dev"
	"github.com/eschercloudai/runcorn/pkg/server"
	"github.com/eschercloudai/runcorn/pkg/server/api"
	"github.com/eschercloudai/runcorn/pkg/store"
	"github.com/eschercloudai/runcorn/pkg/store/memory"
)

const apiKey = "test-api-key"

// harness serves the full router over the in-memory store so the tests
// cover routing, auth, validation and error mapping in one pass.
type harness struct {
	t           *testing.T
	router      http.Handler
	store       store.Store
	provisioner *dev.Provisioner
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s := &server.Server{
		Options: server.Options{
			APIKey:         apiKey,
			RequestTimeout: 30 * time.Second,
		},
	}

	memoryStore := memory.New()
	provisioner := dev.New()

	return &harness{
		t:           t,
		router:      s.Router(memoryStore, provisioner),
		store:       memoryStore,
		provisioner: provisioner,
	}
}

// do performs an authenticated request against the router.
func (h *harness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()

	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)

		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Authorization", "Bearer "+apiKey)

	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, request)

	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()

	var out T

	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&out))

	return out
}

// detail extracts the error message of a failed request.
func detail(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Detail string `json:"detail"`
	}

	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))

	return body.Detail
}

func (h *harness) createProject(name string) {
	h.t.Helper()

	recorder := h.do(http.MethodPost, "/api/v1/projects", api.CreateProjectRequest{Name: name})
	require.Equal(h.t, http.StatusCreated, recorder.Code)
}

// createVersion declares one function and returns the minted version id.
func (h *harness) createVersion(project string, function api.FunctionDefinition) string {
	h.t.Helper()

	recorder := h.do(http.MethodPost, "/api/v1/projects/"+project+"/versions", api.CreateVersionRequest{
		Functions: []api.FunctionDefinition{function},
	})
	require.Equal(h.t, http.StatusCreated, recorder.Code)

	return decode[api.VersionDetail](h.t, recorder).ID
}

func testFunction(name string) api.FunctionDefinition {
	return api.FunctionDefinition{
		Name:           name,
		DockerImage:    "example/image:latest",
		VirtualCPUs:    1,
		MemoryGBs:      2,
		MaxConcurrency: 1,
		MaxRetries:     0,
		TimeoutSeconds: 30,
	}
}

func TestAuthorization(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "wrong token", header: "Bearer not-the-key"},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			request := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)

			if test.header != "" {
				request.Header.Set("Authorization", test.header)
			}

			recorder := httptest.NewRecorder()
			h.router.ServeHTTP(recorder, request)

			assert.Equal(t, http.StatusForbidden, recorder.Code)
			assert.Equal(t, "the supplied API key is invalid", detail(t, recorder))
		})
	}
}

func TestMetricsNeedNoAuthorization(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestProjectLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")

	recorder := h.do(http.MethodGet, "/api/v1/projects/p", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	project := decode[api.Project](t, recorder)
	assert.Equal(t, "p", project.Name)
	assert.Nil(t, project.DeletionRequestTime)

	recorder = h.do(http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Len(t, decode[[]api.Project](t, recorder), 1)

	recorder = h.do(http.MethodDelete, "/api/v1/projects/p", nil)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = h.do(http.MethodGet, "/api/v1/projects/p", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.NotNil(t, decode[api.Project](t, recorder).DeletionRequestTime)
}

func TestProjectConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")

	recorder := h.do(http.MethodPost, "/api/v1/projects", api.CreateProjectRequest{Name: "p"})
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestProjectValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	recorder := h.do(http.MethodPost, "/api/v1/projects", api.CreateProjectRequest{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = h.do(http.MethodPost, "/api/v1/projects", api.CreateProjectRequest{Name: strings.Repeat("x", 64)})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, detail(t, recorder), "exceeds 63 characters")
}

func TestProjectNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	recorder := h.do(http.MethodGet, "/api/v1/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, `project "missing" does not exist`, detail(t, recorder))
}

func TestVersionCreateAndResolveLatest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")

	versionID := h.createVersion("p", testFunction("f"))
	assert.True(t, strings.HasPrefix(versionID, "ver-"))

	// New functions await preparation before they can run workers.
	recorder := h.do(http.MethodGet, "/api/v1/projects/p/versions/"+versionID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	version := decode[api.VersionDetail](t, recorder)
	require.Len(t, version.Functions, 1)
	assert.Equal(t, string(models.FunctionStatusPending), version.Functions[0].Status)

	recorder = h.do(http.MethodGet, "/api/v1/projects/p/versions/latest", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, versionID, decode[api.VersionDetail](t, recorder).ID)

	recorder = h.do(http.MethodGet, "/api/v1/projects/p/versions/latest/functions/f", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "f", decode[api.Function](t, recorder).Name)
}

func TestVersionValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")

	tests := []struct {
		name    string
		request api.CreateVersionRequest
	}{
		{name: "no functions", request: api.CreateVersionRequest{}},
		{
			name: "duplicate names",
			request: api.CreateVersionRequest{
				Functions: []api.FunctionDefinition{testFunction("f"), testFunction("f")},
			},
		},
		{
			name: "zero cpu",
			request: api.CreateVersionRequest{
				Functions: []api.FunctionDefinition{{
					Name:           "f",
					DockerImage:    "example/image:latest",
					MemoryGBs:      2,
					MaxConcurrency: 1,
					TimeoutSeconds: 30,
				}},
			},
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			recorder := h.do(http.MethodPost, "/api/v1/projects/p/versions", test.request)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

func TestVersionCreateOnDeletingProject(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")

	recorder := h.do(http.MethodDelete, "/api/v1/projects/p", nil)
	require.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = h.do(http.MethodPost, "/api/v1/projects/p/versions", api.CreateVersionRequest{
		Functions: []api.FunctionDefinition{testFunction("f")},
	})
	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, `project "p" is being deleted`, detail(t, recorder))
}

func TestInvocationLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	h.createVersion("p", testFunction("f"))

	recorder := h.do(http.MethodPost, "/api/v1/projects/p/versions/latest/functions/f/invocations", api.CreateInvocationRequest{Input: "hello"})
	require.Equal(t, http.StatusCreated, recorder.Code)

	invocation := decode[api.Invocation](t, recorder)
	assert.True(t, strings.HasPrefix(invocation.ID, "inv-"))
	assert.Equal(t, string(models.InvocationStatusRunning), invocation.Status)
	assert.Equal(t, "hello", invocation.Input)
	assert.Empty(t, invocation.Executions)

	base := "/api/v1/projects/p/versions/latest/functions/f/invocations/" + invocation.ID

	recorder = h.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, invocation.ID, decode[api.Invocation](t, recorder).ID)

	// Cancellation is accepted and repeatable; the first stamp sticks.
	recorder = h.do(http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = h.do(http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = h.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.NotNil(t, decode[api.Invocation](t, recorder).CancellationRequestTime)
}

func TestInvocationOnDeletingProject(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	h.createVersion("p", testFunction("f"))

	recorder := h.do(http.MethodDelete, "/api/v1/projects/p", nil)
	require.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = h.do(http.MethodPost, "/api/v1/projects/p/versions/latest/functions/f/invocations", api.CreateInvocationRequest{})
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestInvocationParentValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	h.createVersion("p", testFunction("f"))

	path := "/api/v1/projects/p/versions/latest/functions/f/invocations"

	recorder := h.do(http.MethodPost, path, api.CreateInvocationRequest{
		Parent: &api.ParentReference{InvocationID: "inv-1"},
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "parent reference is missing the function name", detail(t, recorder))

	recorder = h.do(http.MethodPost, path, api.CreateInvocationRequest{
		Parent: &api.ParentReference{FunctionName: "f"},
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = h.do(http.MethodPost, path, api.CreateInvocationRequest{
		Parent: &api.ParentReference{FunctionName: "f", InvocationID: "inv-missing"},
	})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestInvocationParentChain(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	h.createVersion("p", testFunction("f"))

	path := "/api/v1/projects/p/versions/latest/functions/f/invocations"

	recorder := h.do(http.MethodPost, path, api.CreateInvocationRequest{Input: "parent"})
	require.Equal(t, http.StatusCreated, recorder.Code)

	parent := decode[api.Invocation](t, recorder)

	recorder = h.do(http.MethodPost, path, api.CreateInvocationRequest{
		Input:  "child",
		Parent: &api.ParentReference{FunctionName: "f", InvocationID: parent.ID},
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	child := decode[api.Invocation](t, recorder)
	require.NotNil(t, child.Parent)
	assert.Equal(t, parent.ID, child.Parent.InvocationID)

	// Children are discoverable through the parent filter.
	recorder = h.do(http.MethodGet, path+"?parentFunction=f&parentInvocation="+parent.ID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	page := decode[api.InvocationPage](t, recorder)
	require.Len(t, page.Items, 1)
	assert.Equal(t, child.ID, page.Items[0].ID)
}

func TestListInvocationsValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	h.createVersion("p", testFunction("f"))

	path := "/api/v1/projects/p/versions/latest/functions/f/invocations"

	tests := []struct {
		name  string
		query string
	}{
		{name: "bad status", query: "?status=FINISHED"},
		{name: "bad max results", query: "?maxResults=zero"},
		{name: "negative max results", query: "?maxResults=-1"},
		{name: "bad cursor", query: "?cursor=garbage"},
		{name: "parent function only", query: "?parentFunction=f"},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			recorder := h.do(http.MethodGet, path+test.query, nil)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

// seedExecution plants an execution with a running worker, bypassing the
// reconciler, so the worker facing endpoints can be driven directly.
func (h *harness) seedExecution(versionID, invocationID, executionID string) {
	h.t.Helper()

	ctx := context.Background()
	now := time.Now()

	execution := &models.Execution{
		Project:        "p",
		Version:        versionID,
		Function:       "f",
		InvocationID:   invocationID,
		ID:             executionID,
		WorkerStatus:   models.WorkerStatusRunning,
		CreationTime:   now,
		LastUpdateTime: now,
	}

	require.NoError(h.t, h.store.Executions().Create(ctx, execution))

	details, err := h.provisioner.ProvisionWorker(ctx, &provisioners.ProvisionWorkerRequest{
		Project:      "p",
		Version:      versionID,
		Function:     "f",
		InvocationID: invocationID,
		ExecutionID:  executionID,
	})
	require.NoError(h.t, err)

	update := store.ExecutionUpdate{
		WorkerDetails: details,
	}

	require.NoError(h.t, h.store.Executions().Update(ctx, "p", versionID, "f", invocationID, executionID, now, update))
}

func TestExecutionLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	versionID := h.createVersion("p", testFunction("f"))

	recorder := h.do(http.MethodPost, "/api/v1/projects/p/versions/latest/functions/f/invocations", api.CreateInvocationRequest{})
	require.Equal(t, http.StatusCreated, recorder.Code)

	invocationID := decode[api.Invocation](t, recorder).ID

	h.seedExecution(versionID, invocationID, "exe-1")

	base := "/api/v1/projects/p/versions/latest/functions/f/invocations/" + invocationID + "/executions/exe-1"

	// Results before the start report are the worker's confusion.
	recorder = h.do(http.MethodPost, base+"/final_result", api.FinalResultRequest{Outcome: "SUCCEEDED"})
	assert.Equal(t, http.StatusConflict, recorder.Code)

	recorder = h.do(http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = h.do(http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, `execution "exe-1" has already started`, detail(t, recorder))

	recorder = h.do(http.MethodPost, base+"/temporary_result", api.TemporaryResultRequest{Output: "partial"})
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	recorder = h.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	execution := decode[api.Execution](t, recorder)
	require.NotNil(t, execution.Output)
	assert.Equal(t, "partial", *execution.Output)
	assert.Nil(t, execution.Outcome)

	output := "final"

	recorder = h.do(http.MethodPost, base+"/final_result", api.FinalResultRequest{Outcome: "SUCCEEDED", Output: &output})
	assert.Equal(t, http.StatusAccepted, recorder.Code)

	// The result is frozen now.
	recorder = h.do(http.MethodPost, base+"/final_result", api.FinalResultRequest{Outcome: "FAILED"})
	assert.Equal(t, http.StatusConflict, recorder.Code)

	recorder = h.do(http.MethodPost, base+"/temporary_result", api.TemporaryResultRequest{Output: "late"})
	assert.Equal(t, http.StatusConflict, recorder.Code)

	recorder = h.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	execution = decode[api.Execution](t, recorder)
	require.NotNil(t, execution.Outcome)
	assert.Equal(t, "SUCCEEDED", *execution.Outcome)
	require.NotNil(t, execution.Output)
	assert.Equal(t, "final", *execution.Output)
	assert.NotNil(t, execution.StartTime)
	assert.NotNil(t, execution.FinishTime)
}

func TestExecutionFinalResultValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	versionID := h.createVersion("p", testFunction("f"))

	recorder := h.do(http.MethodPost, "/api/v1/projects/p/versions/latest/functions/f/invocations", api.CreateInvocationRequest{})
	require.Equal(t, http.StatusCreated, recorder.Code)

	invocationID := decode[api.Invocation](t, recorder).ID

	h.seedExecution(versionID, invocationID, "exe-1")

	base := "/api/v1/projects/p/versions/latest/functions/f/invocations/" + invocationID + "/executions/exe-1"

	recorder = h.do(http.MethodPost, base+"/final_result", api.FinalResultRequest{Outcome: "FINISHED"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = h.do(http.MethodPost, base+"/final_result", api.FinalResultRequest{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestExecutionLogs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	versionID := h.createVersion("p", testFunction("f"))

	recorder := h.do(http.MethodPost, "/api/v1/projects/p/versions/latest/functions/f/invocations", api.CreateInvocationRequest{})
	require.Equal(t, http.StatusCreated, recorder.Code)

	invocationID := decode[api.Invocation](t, recorder).ID

	h.seedExecution(versionID, invocationID, "exe-1")

	h.provisioner.AppendLog("exe-1", "starting up")
	h.provisioner.AppendLog("exe-1", "doing work")
	h.provisioner.AppendLog("exe-1", "done")

	base := "/api/v1/projects/p/versions/latest/functions/f/invocations/" + invocationID + "/executions/exe-1"

	recorder = h.do(http.MethodGet, base+"/logs?maxLines=2", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	logs := decode[api.ExecutionLogs](t, recorder)
	assert.Equal(t, []string{"starting up", "doing work"}, logs.Lines)
	require.NotNil(t, logs.NextOffset)

	recorder = h.do(http.MethodGet, base+"/logs?offset="+*logs.NextOffset, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	logs = decode[api.ExecutionLogs](t, recorder)
	assert.Equal(t, []string{"done"}, logs.Lines)
	assert.Nil(t, logs.NextOffset)

	// The dev driver rejects malformed offsets, which is the client's
	// fault and maps to a 400.
	recorder = h.do(http.MethodGet, base+"/logs?offset=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = h.do(http.MethodGet, base+"/logs?maxLines=0", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestExecutionLogsBeforeProvisioning(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.createProject("p")
	versionID := h.createVersion("p", testFunction("f"))

	recorder := h.do(http.MethodPost, "/api/v1/projects/p/versions/latest/functions/f/invocations", api.CreateInvocationRequest{})
	require.Equal(t, http.StatusCreated, recorder.Code)

	invocationID := decode[api.Invocation](t, recorder).ID

	now := time.Now()

	execution := &models.Execution{
		Project:        "p",
		Version:        versionID,
		Function:       "f",
		InvocationID:   invocationID,
		ID:             "exe-1",
		WorkerStatus:   models.WorkerStatusPending,
		CreationTime:   now,
		LastUpdateTime: now,
	}

	require.NoError(t, h.store.Executions().Create(context.Background(), execution))

	base := "/api/v1/projects/p/versions/latest/functions/f/invocations/" + invocationID + "/executions/exe-1"

	recorder = h.do(http.MethodGet, base+"/logs", nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	recorder := h.do(http.MethodGet, "/api/v2/projects", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = h.do(http.MethodPut, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}
