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
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/constants"
	runcornerrors "github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/identifier"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/server/api"
	"github.com/eschercloudai/runcorn/pkg/server/errors"
	"github.com/eschercloudai/runcorn/pkg/server/util"
	"github.com/eschercloudai/runcorn/pkg/store"
)

// CreateInvocation mints an invocation in RUNNING.  The reconciler picks
// it up on its next tick and schedules executions within the function's
// concurrency budget.
func (h *Handler) CreateInvocation(w http.ResponseWriter, r *http.Request) {
	var request api.CreateInvocationRequest

	if err := util.ReadJSONBody(r, &request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	projectName := pathParam(r, "project")

	versionID, err := h.resolveVersion(r.Context(), projectName, pathParam(r, "version"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	project, err := h.store.Projects().Get(r.Context(), projectName)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	// A project heading for the scrapyard accepts no new work.
	if project.Deleting() {
		errors.HandleError(w, r, runcornerrors.ProjectIsBeingDeleted(projectName))

		return
	}

	var parent *models.ParentReference

	if request.Parent != nil {
		if err := checkParent(request.Parent.FunctionName, request.Parent.InvocationID); err != nil {
			errors.HandleError(w, r, err)

			return
		}

		parent = &models.ParentReference{
			FunctionName: request.Parent.FunctionName,
			InvocationID: request.Parent.InvocationID,
		}
	}

	now := time.Now()

	invocation := &models.Invocation{
		Project:        projectName,
		Version:        versionID,
		Function:       pathParam(r, "function"),
		ID:             identifier.New(constants.InvocationPrefix),
		Parent:         parent,
		Input:          request.Input,
		Status:         models.InvocationStatusRunning,
		CreationTime:   now,
		LastUpdateTime: now,
	}

	if err := h.store.Invocations().Create(r.Context(), invocation); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	response := convertInvocation(&models.InvocationWithExecutions{Invocation: *invocation})

	util.WriteJSONResponse(w, r, http.StatusCreated, response)
}

func (h *Handler) GetInvocation(w http.ResponseWriter, r *http.Request) {
	projectName := pathParam(r, "project")

	versionID, err := h.resolveVersion(r.Context(), projectName, pathParam(r, "version"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	invocation, err := h.store.Invocations().Get(r.Context(), projectName, versionID, pathParam(r, "function"), pathParam(r, "invocation"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, convertInvocation(invocation))
}

// CancelInvocation stamps the cancellation request time.  Cancellation
// is a data flag: the reconciler observes it and winds the invocation
// down.  Repeat cancellations are accepted and ignored.
func (h *Handler) CancelInvocation(w http.ResponseWriter, r *http.Request) {
	projectName := pathParam(r, "project")

	versionID, err := h.resolveVersion(r.Context(), projectName, pathParam(r, "version"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	update := store.InvocationUpdate{
		SetCancellationRequested: true,
	}

	if err := h.store.Invocations().Update(r.Context(), projectName, versionID, pathParam(r, "function"), pathParam(r, "invocation"), time.Now(), update); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) ListInvocations(w http.ResponseWriter, r *http.Request) {
	projectName := pathParam(r, "project")

	versionID, err := h.resolveVersion(r.Context(), projectName, pathParam(r, "version"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	query := r.URL.Query()

	request := &store.ListInvocationsRequest{
		Project:  projectName,
		Version:  versionID,
		Function: pathParam(r, "function"),
		Cursor:   query.Get("cursor"),
	}

	if raw := query.Get("maxResults"); raw != "" {
		maxResults, err := strconv.Atoi(raw)
		if err != nil || maxResults < 1 {
			errors.HandleError(w, r, errors.HTTPBadRequest("maxResults must be a positive integer"))

			return
		}

		request.MaxResults = maxResults
	}

	if raw := query.Get("status"); raw != "" {
		status := models.InvocationStatus(raw)

		if status != models.InvocationStatusRunning && status != models.InvocationStatusTerminated {
			errors.HandleError(w, r, errors.HTTPBadRequest("status must be RUNNING or TERMINATED"))

			return
		}

		request.Status = &status
	}

	parentFunction := query.Get("parentFunction")
	parentInvocation := query.Get("parentInvocation")

	if parentFunction != "" || parentInvocation != "" {
		if err := checkParent(parentFunction, parentInvocation); err != nil {
			errors.HandleError(w, r, err)

			return
		}

		request.Parent = &models.ParentReference{
			FunctionName: parentFunction,
			InvocationID: parentInvocation,
		}
	}

	page, err := h.store.Invocations().ListForFunction(r.Context(), request)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	response := api.InvocationPage{
		Items: lo.Map(page.Items, func(invocation models.InvocationWithExecutions, _ int) api.Invocation {
			return convertInvocation(&invocation)
		}),
	}

	if page.NextCursor != "" {
		response.NextCursor = &page.NextCursor
	}

	util.WriteJSONResponse(w, r, http.StatusOK, response)
}
