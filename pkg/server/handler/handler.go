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

// Package handler implements the REST API.  Handlers are thin: they
// validate the request, call through the store, and convert the models
// to wire types.  All state arbitration lives in the store, so handlers
// never coordinate with the reconciler directly.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/eschercloudai/runcorn/pkg/constants"
	runcornerrors "github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/server/errors"
	"github.com/eschercloudai/runcorn/pkg/store"
)

// Handler services the REST API against a store and a provisioner.
type Handler struct {
	store store.Store

	// provisioner is only used to proxy worker log reads; lifecycle
	// calls are the reconciler's business.
	provisioner provisioners.Provisioner

	validator *validator.Validate
}

// New returns an initialized handler.
func New(s store.Store, provisioner provisioners.Provisioner) *Handler {
	return &Handler{
		store:       s,
		provisioner: provisioner,
		validator:   validator.New(),
	}
}

// validate runs struct validation over a decoded request body.
func (h *Handler) validate(request interface{}) error {
	if err := h.validator.Struct(request); err != nil {
		return errors.HTTPBadRequest(err.Error()).WithError(err)
	}

	return nil
}

// resolveVersion maps a symbolic version reference onto a concrete
// version id.  Everything except the "latest" alias passes through
// untouched.
func (h *Handler) resolveVersion(ctx context.Context, project, reference string) (string, error) {
	if reference != constants.VersionLatest {
		return reference, nil
	}

	return h.store.Versions().GetIDOfLatest(ctx, project)
}

// checkParent validates a parent reference has both halves.
func checkParent(functionName, invocationID string) error {
	if functionName == "" && invocationID == "" {
		return nil
	}

	if functionName == "" {
		return runcornerrors.ParentFunctionNameIsMissing()
	}

	if invocationID == "" {
		return runcornerrors.ParentInvocationIDIsMissing()
	}

	return nil
}

// pathParam extracts a chi URL parameter.
func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// NotFound is called from the router when no path is matched.
func NotFound(w http.ResponseWriter, r *http.Request) {
	errors.HTTPNotFound("resource not found").Write(w, r)
}

// MethodNotAllowed is called from the router when the path is matched
// but the method is not.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	errors.HTTPMethodNotAllowed().Write(w, r)
}
