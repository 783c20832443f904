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

// Package errors defines the closed set of error values the control
// plane can raise.  Every error wraps one of the kind sentinels so
// transport layers can map by kind with errors.Is, while callers that
// care about the precise condition match on the code.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the kind for missing entities.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is the kind for already-existing entities.
	ErrConflict = errors.New("resource already exists")

	// ErrPrecondition is the kind for state preconditions that do not hold.
	ErrPrecondition = errors.New("precondition failed")

	// ErrValidation is the kind for malformed requests.
	ErrValidation = errors.New("validation failed")

	// ErrAuth is the kind for authentication failures.
	ErrAuth = errors.New("authentication failed")
)

// Code names one member of the closed error set.
type Code string

const (
	CodeProjectDoesNotExist          Code = "ProjectDoesNotExist"
	CodeVersionDoesNotExist          Code = "VersionDoesNotExist"
	CodeFunctionDoesNotExist         Code = "FunctionDoesNotExist"
	CodeInvocationDoesNotExist       Code = "InvocationDoesNotExist"
	CodeExecutionDoesNotExist        Code = "ExecutionDoesNotExist"
	CodeParentInvocationDoesNotExist Code = "ParentInvocationDoesNotExist"

	CodeProjectAlreadyExists    Code = "ProjectAlreadyExists"
	CodeVersionAlreadyExists    Code = "VersionAlreadyExists"
	CodeFunctionAlreadyExists   Code = "FunctionAlreadyExists"
	CodeInvocationAlreadyExists Code = "InvocationAlreadyExists"
	CodeExecutionAlreadyExists  Code = "ExecutionAlreadyExists"

	CodeExecutionHasAlreadyStarted  Code = "ExecutionHasAlreadyStarted"
	CodeExecutionHasNotStarted      Code = "ExecutionHasNotStarted"
	CodeExecutionHasAlreadyFinished Code = "ExecutionHasAlreadyFinished"
	CodeExecutionHasNotFinished     Code = "ExecutionHasNotFinished"
	CodeProjectIsBeingDeleted       Code = "ProjectIsBeingDeleted"

	CodeOffsetIsInvalid             Code = "OffsetIsInvalid"
	CodeParentFunctionNameIsMissing Code = "ParentFunctionNameIsMissing"
	CodeParentInvocationIDIsMissing Code = "ParentInvocationIdIsMissing"
	CodeProjectNameIsTooLong        Code = "ProjectNameIsTooLong"

	CodeAPIKeyIsInvalid Code = "ApiKeyIsInvalid"
)

// Error is a member of the closed set: a kind sentinel, a stable code
// and a human readable detail.
type Error struct {
	kind   error
	code   Code
	detail string
}

func newError(kind error, code Code, format string, args ...interface{}) *Error {
	return &Error{
		kind:   kind,
		code:   code,
		detail: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.detail
}

// Unwrap exposes the kind sentinel to errors.Is.
func (e *Error) Unwrap() error {
	return e.kind
}

// Code returns the stable code.
func (e *Error) Code() Code {
	return e.code
}

// HasCode reports whether err is a member of the closed set with the
// given code.
func HasCode(err error, code Code) bool {
	var e *Error

	if !errors.As(err, &e) {
		return false
	}

	return e.code == code
}

func ProjectDoesNotExist(name string) *Error {
	return newError(ErrNotFound, CodeProjectDoesNotExist, "project %q does not exist", name)
}

func VersionDoesNotExist(project, version string) *Error {
	return newError(ErrNotFound, CodeVersionDoesNotExist, "version %q does not exist in project %q", version, project)
}

func FunctionDoesNotExist(project, version, function string) *Error {
	return newError(ErrNotFound, CodeFunctionDoesNotExist, "function %q does not exist in version %q of project %q", function, version, project)
}

func InvocationDoesNotExist(project, version, function, invocation string) *Error {
	return newError(ErrNotFound, CodeInvocationDoesNotExist, "invocation %q does not exist for function %q in version %q of project %q", invocation, function, version, project)
}

func ExecutionDoesNotExist(project, version, function, invocation, execution string) *Error {
	return newError(ErrNotFound, CodeExecutionDoesNotExist, "execution %q does not exist for invocation %q of function %q in version %q of project %q", execution, invocation, function, version, project)
}

func ParentInvocationDoesNotExist(function, invocation string) *Error {
	return newError(ErrNotFound, CodeParentInvocationDoesNotExist, "parent invocation %q of function %q does not exist", invocation, function)
}

func ProjectAlreadyExists(name string) *Error {
	return newError(ErrConflict, CodeProjectAlreadyExists, "project %q already exists", name)
}

func VersionAlreadyExists(project, version string) *Error {
	return newError(ErrConflict, CodeVersionAlreadyExists, "version %q already exists in project %q", version, project)
}

func FunctionAlreadyExists(project, version, function string) *Error {
	return newError(ErrConflict, CodeFunctionAlreadyExists, "function %q already exists in version %q of project %q", function, version, project)
}

func InvocationAlreadyExists(invocation string) *Error {
	return newError(ErrConflict, CodeInvocationAlreadyExists, "invocation %q already exists", invocation)
}

func ExecutionAlreadyExists(execution string) *Error {
	return newError(ErrConflict, CodeExecutionAlreadyExists, "execution %q already exists", execution)
}

func ExecutionHasAlreadyStarted(execution string) *Error {
	return newError(ErrPrecondition, CodeExecutionHasAlreadyStarted, "execution %q has already started", execution)
}

func ExecutionHasNotStarted(execution string) *Error {
	return newError(ErrPrecondition, CodeExecutionHasNotStarted, "execution %q has not started", execution)
}

func ExecutionHasAlreadyFinished(execution string) *Error {
	return newError(ErrPrecondition, CodeExecutionHasAlreadyFinished, "execution %q has already finished", execution)
}

func ExecutionHasNotFinished(execution string) *Error {
	return newError(ErrPrecondition, CodeExecutionHasNotFinished, "execution %q has not finished", execution)
}

func ProjectIsBeingDeleted(name string) *Error {
	return newError(ErrPrecondition, CodeProjectIsBeingDeleted, "project %q is being deleted", name)
}

func OffsetIsInvalid(offset string) *Error {
	return newError(ErrValidation, CodeOffsetIsInvalid, "offset %q is malformed", offset)
}

func ParentFunctionNameIsMissing() *Error {
	return newError(ErrValidation, CodeParentFunctionNameIsMissing, "parent reference is missing the function name")
}

func ParentInvocationIDIsMissing() *Error {
	return newError(ErrValidation, CodeParentInvocationIDIsMissing, "parent reference is missing the invocation id")
}

func ProjectNameIsTooLong(name string, limit int) *Error {
	return newError(ErrValidation, CodeProjectNameIsTooLong, "project name %q exceeds %d characters", name, limit)
}

func APIKeyIsInvalid() *Error {
	return newError(ErrAuth, CodeAPIKeyIsInvalid, "the supplied API key is invalid")
}
