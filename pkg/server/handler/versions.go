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
	"github.com/eschercloudai/runcorn/pkg/identifier"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/server/api"
	"github.com/eschercloudai/runcorn/pkg/server/errors"
	"github.com/eschercloudai/runcorn/pkg/server/util"
)

// CreateVersion mints a version id and records the declared functions
// in PENDING.  The reconciler prepares them asynchronously; clients
// poll the function status to see them flip to READY.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var request api.CreateVersionRequest

	if err := util.ReadJSONBody(r, &request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	if err := h.validate(&request); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	projectName := pathParam(r, "project")

	project, err := h.store.Projects().Get(r.Context(), projectName)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	if project.Deleting() {
		errors.HandleError(w, r, runcornerrors.ProjectIsBeingDeleted(projectName))

		return
	}

	now := time.Now()
	versionID := identifier.New(constants.VersionPrefix)

	if err := h.store.Versions().Create(r.Context(), projectName, versionID, now); err != nil {
		errors.HandleError(w, r, err)

		return
	}

	functions := make([]api.Function, len(request.Functions))

	for i, definition := range request.Functions {
		function := &models.Function{
			Project:     projectName,
			Version:     versionID,
			Name:        definition.Name,
			DockerImage: definition.DockerImage,
			Resources: models.ResourceSpec{
				VirtualCPUs:    definition.VirtualCPUs,
				MemoryGBs:      definition.MemoryGBs,
				MaxConcurrency: definition.MaxConcurrency,
			},
			Execution: models.ExecutionSpec{
				MaxRetries:     definition.MaxRetries,
				TimeoutSeconds: definition.TimeoutSeconds,
			},
			Status:       models.FunctionStatusPending,
			CreationTime: now,
		}

		if err := h.store.Functions().Create(r.Context(), function); err != nil {
			errors.HandleError(w, r, err)

			return
		}

		functions[i] = convertFunction(function)
	}

	response := api.VersionDetail{
		Version: api.Version{
			ID:           versionID,
			CreationTime: now,
		},
		Functions: functions,
	}

	util.WriteJSONResponse(w, r, http.StatusCreated, response)
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	projectName := pathParam(r, "project")

	versionID, err := h.resolveVersion(r.Context(), projectName, pathParam(r, "version"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	version, functions, err := h.store.Versions().Get(r.Context(), projectName, versionID)
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	response := api.VersionDetail{
		Version: convertVersion(version),
		Functions: lo.Map(functions, func(function models.Function, _ int) api.Function {
			return convertFunction(&function)
		}),
	}

	util.WriteJSONResponse(w, r, http.StatusOK, response)
}

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.Versions().ListForProject(r.Context(), pathParam(r, "project"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	response := lo.Map(versions, func(version models.Version, _ int) api.Version {
		return convertVersion(&version)
	})

	util.WriteJSONResponse(w, r, http.StatusOK, response)
}

func (h *Handler) GetFunction(w http.ResponseWriter, r *http.Request) {
	projectName := pathParam(r, "project")

	versionID, err := h.resolveVersion(r.Context(), projectName, pathParam(r, "version"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	function, err := h.store.Functions().Get(r.Context(), projectName, versionID, pathParam(r, "function"))
	if err != nil {
		errors.HandleError(w, r, err)

		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, convertFunction(function))
}
