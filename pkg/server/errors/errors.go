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

// Package errors maps errors onto HTTP responses.  Domain errors carry
// their own kind, so the mapping is mechanical; anything else is a
// server fault and reported as such without leaking internals.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	runcornerrors "github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/log"
)

var (
	// ErrRequest is raised for all handler errors.
	ErrRequest = errors.New("request error")
)

// HTTPError wraps ErrRequest with the status and detail used to build
// the response.
type HTTPError struct {
	// status is the HTTP status code.
	status int

	// detail is returned to the client.
	detail string

	// err is set when the originator was an error.  This is only used
	// for logging so as not to leak server internals to the client.
	err error
}

// newHTTPError returns a new HTTP error.
func newHTTPError(status int, detail string) *HTTPError {
	return &HTTPError{
		status: status,
		detail: detail,
	}
}

// WithError augments the error with an error from a library.
func (e *HTTPError) WithError(err error) *HTTPError {
	e.err = err

	return e
}

// Unwrap implements Go 1.13 errors.
func (e *HTTPError) Unwrap() error {
	return ErrRequest
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.detail
}

// Write returns the status and detail to the client.
func (e *HTTPError) Write(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	details := []interface{}{"detail", e.detail}

	if e.err != nil {
		details = append(details, "error", e.err)
	}

	logger.Info("error detail", details...)

	w.Header().Add("Cache-Control", "no-cache")
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(e.status)

	body, err := json.Marshal(map[string]string{"detail": e.detail})
	if err != nil {
		logger.Error(err, "failed to marshal error response")

		return
	}

	if _, err := w.Write(body); err != nil {
		logger.Error(err, "failed to write error response")
	}
}

func HTTPBadRequest(detail string) *HTTPError {
	return newHTTPError(http.StatusBadRequest, detail)
}

func HTTPForbidden(detail string) *HTTPError {
	return newHTTPError(http.StatusForbidden, detail)
}

func HTTPNotFound(detail string) *HTTPError {
	return newHTTPError(http.StatusNotFound, detail)
}

func HTTPConflict(detail string) *HTTPError {
	return newHTTPError(http.StatusConflict, detail)
}

func HTTPMethodNotAllowed() *HTTPError {
	return newHTTPError(http.StatusMethodNotAllowed, "the requested method is not allowed")
}

func HTTPInternalServerError(detail string) *HTTPError {
	return newHTTPError(http.StatusInternalServerError, detail)
}

// fromDomain maps a domain error kind onto an HTTP error, preserving
// the detail the domain error composed.
func fromDomain(err error) *HTTPError {
	switch {
	case errors.Is(err, runcornerrors.ErrNotFound):
		return HTTPNotFound(err.Error())
	case errors.Is(err, runcornerrors.ErrConflict):
		return HTTPConflict(err.Error())
	case errors.Is(err, runcornerrors.ErrPrecondition):
		return HTTPConflict(err.Error())
	case errors.Is(err, runcornerrors.ErrValidation):
		return HTTPBadRequest(err.Error())
	case errors.Is(err, runcornerrors.ErrAuth):
		return HTTPForbidden(err.Error())
	}

	return nil
}

// HandleError is the top level error handler that should be called from
// all path handlers on error.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var httpError *HTTPError

	if errors.As(err, &httpError) {
		httpError.Write(w, r)

		return
	}

	if httpError := fromDomain(err); httpError != nil {
		httpError.Write(w, r)

		return
	}

	log.FromContext(r.Context()).Error(err, "unhandled error")

	HTTPInternalServerError("unhandled error").Write(w, r)
}
