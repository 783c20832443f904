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

package handler

import (
	goerrors "errors"
	"net/http"
	"strconv"
	"time"

	runcornerrors "github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/server/api"
	"github.com/eschercloudai/runcorn/pkg/server/errors"
	"github.com/eschercloudai/runcorn/pkg/server/util"
	"github.com/eschercloudai/runcorn/pkg/store"
)

// executionPath extracts the five identifiers of an execution and
// resolves the version reference.
func (h *Handler) executionPath(r *http.Request) (project, version, function, invocation, execution string, err error) {
	project = pathParam(r, "project")

	version, err = h.resolveVersion(r.Context(), project, pathParam(r, "version"))
	if err != nil {
		return "", "", "", "", "", err
	}

	return project, version, pathParam(r, "function"), pathParam(r, "invocation"), pathParam(r, "execution"), nil
}

func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	project, version, function, invocation, executionID, err := h.executionPath(r)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	execution, err := h.store.Executions().Get(r.Context(), project, version, function, invocation, executionID)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, convertExecution(execution))
}

// StartExecution records that the worker began running user code.  A
// worker reporting a start twice is confused, and is told so.
func (h *Handler) StartExecution(w http.ResponseWriter, r *http.Request) {
	project, version, function, invocation, executionID, err := h.executionPath(r)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	now := time.Now()

	update := store.ExecutionUpdate{
		StartTime:         &now,
		ShouldHaveStarted: store.PreconditionAbsent,
	}

	if err := h.store.Executions().Update(r.Context(), project, version, function, invocation, executionID, now, update); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// UploadTemporaryResult replaces the provisional output of a running
// execution.  The last upload wins; only the final result freezes it.
func (h *Handler) UploadTemporaryResult(w http.ResponseWriter, r *http.Request) {
	var request api.TemporaryResultRequest

	if err := util.ReadJSONBody(r, &request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	project, version, function, invocation, executionID, err := h.executionPath(r)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	update := store.ExecutionUpdate{
		Output:             &request.Output,
		ShouldHaveStarted:  store.PreconditionHolds,
		ShouldHaveFinished: store.PreconditionAbsent,
	}

	if err := h.store.Executions().Update(r.Context(), project, version, function, invocation, executionID, time.Now(), update); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// SetFinalResult freezes the execution with its outcome.  The worker
// status is left alone: the reconciler notices the worker's exit
// through its own polling and terminates the invocation from there.
func (h *Handler) SetFinalResult(w http.ResponseWriter, r *http.Request) {
	var request api.FinalResultRequest

	if err := util.ReadJSONBody(r, &request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	if err := h.validate(&request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	project, version, function, invocation, executionID, err := h.executionPath(r)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	now := time.Now()
	outcome := models.ExecutionOutcome(request.Outcome)

	update := store.ExecutionUpdate{
		Outcome:            &outcome,
		Output:             request.Output,
		ErrorMessage:       request.ErrorMessage,
		FinishTime:         &now,
		ShouldHaveStarted:  store.PreconditionHolds,
		ShouldHaveFinished: store.PreconditionAbsent,
	}

	if err := h.store.Executions().Update(r.Context(), project, version, function, invocation, executionID, now, update); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetExecutionLogs proxies a page of worker log lines from the
// provisioner.
func (h *Handler) GetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	project, version, function, invocation, executionID, err := h.executionPath(r)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	execution, err := h.store.Executions().Get(r.Context(), project, version, function, invocation, executionID)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	// No worker has been provisioned, so there are no logs to read.
	if execution.WorkerDetails == nil {
		errors.HandleError(w, r, runcornerrors.ExecutionHasNotStarted(executionID))

		return
	}

	query := r.URL.Query()

	request := &provisioners.GetWorkerLogsRequest{
		Details:  *execution.WorkerDetails,
		MaxLines: 100,
	}

	if raw := query.Get("maxLines"); raw != "" {
		maxLines, err := strconv.Atoi(raw)
		if err != nil || maxLines < 1 {
			errors.HandleError(w, r, errors.HTTPBadRequest("maxLines must be a positive integer"))

			return
		}

		request.MaxLines = maxLines
	}

	if offset := query.Get("offset"); offset != "" {
		request.Offset = &offset
	}

	logs, err := h.provisioner.GetWorkerLogs(r.Context(), request)
	if err != nil {
		var driverError *provisioners.DriverError

		// Driver rejections of the pagination parameters are the
		// client's fault, not ours.
		if goerrors.As(err, &driverError) && driverError.Status >= 400 && driverError.Status < 500 {
			err = errors.HTTPBadRequest(driverError.Detail).WithError(err)
		}

		errors.HandleError(w, r, err)

		return
	}

	response := api.ExecutionLogs{
		Lines:      logs.Lines,
		NextOffset: logs.NextOffset,
	}

	util.WriteJSONResponse(w, r, http.StatusOK, response)
}
