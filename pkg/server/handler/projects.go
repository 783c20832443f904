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
	"time"

	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/constants"
	runcornerrors "github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/server/api"
	"github.com/eschercloudai/runcorn/pkg/server/errors"
	"github.com/eschercloudai/runcorn/pkg/server/util"
)

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var request api.CreateProjectRequest

	if err := util.ReadJSONBody(r, &request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	if err := h.validate(&request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	if len(request.Name) > constants.MaxProjectNameLength {
		errors.HandleError(w, r, runcornerrors.ProjectNameIsTooLong(request.Name, constants.MaxProjectNameLength))

		return
	}

	if err := h.store.Projects().Create(r.Context(), request.Name, time.Now()); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	project, err := h.store.Projects().Get(r.Context(), request.Name)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusCreated, convertProject(project))
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.store.Projects().Get(r.Context(), pathParam(r, "project"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, convertProject(project))
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.Projects().List(r.Context())
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	response := lo.Map(projects, func(project models.Project, _ int) api.Project {
		return convertProject(&project)
	})

	util.WriteJSONResponse(w, r, http.StatusOK, response)
}

// DeleteProject marks the project for deletion.  The reconciler cancels
// its invocations, waits for them to come to rest, then cascade deletes
// the whole tree.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Projects().RequestDeletion(r.Context(), pathParam(r, "project"), time.Now()); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}
