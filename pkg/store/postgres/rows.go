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

package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
)

// The polymorphic spec and details columns are stored as JSON text and
// only interpreted at this boundary.

func marshalJSON(v interface{}) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

func unmarshalJSON(body string, v interface{}) error {
	return json.Unmarshal([]byte(body), v)
}

type projectRow struct {
	Name                string     `db:"name"`
	CreationTime        time.Time  `db:"creation_time"`
	DeletionRequestTime *time.Time `db:"deletion_request_time"`
}

func (r *projectRow) toModel() models.Project {
	return models.Project{
		Name:                r.Name,
		CreationTime:        r.CreationTime,
		DeletionRequestTime: r.DeletionRequestTime,
	}
}

type versionRow struct {
	Project      string    `db:"project"`
	ID           string    `db:"id"`
	CreationTime time.Time `db:"creation_time"`
}

func (r *versionRow) toModel() models.Version {
	return models.Version(*r)
}

type functionRow struct {
	Project         string    `db:"project"`
	Version         string    `db:"version"`
	Name            string    `db:"name"`
	DockerImage     string    `db:"docker_image"`
	ResourceSpec    string    `db:"resource_spec"`
	ExecutionSpec   string    `db:"execution_spec"`
	Status          string    `db:"status"`
	PreparedDetails *string   `db:"prepared_function_details"`
	CreationTime    time.Time `db:"creation_time"`
}

func (r *functionRow) toModel() (models.Function, error) {
	function := models.Function{
		Project:      r.Project,
		Version:      r.Version,
		Name:         r.Name,
		DockerImage:  r.DockerImage,
		Status:       models.FunctionStatus(r.Status),
		CreationTime: r.CreationTime,
	}

	if err := unmarshalJSON(r.ResourceSpec, &function.Resources); err != nil {
		return function, err
	}

	if err := unmarshalJSON(r.ExecutionSpec, &function.Execution); err != nil {
		return function, err
	}

	if r.PreparedDetails != nil {
		function.Prepared = &models.PreparedDetails{}

		if err := unmarshalJSON(*r.PreparedDetails, function.Prepared); err != nil {
			return function, err
		}
	}

	return function, nil
}

type invocationRow struct {
	Project                 string     `db:"project"`
	Version                 string     `db:"version"`
	Function                string     `db:"function"`
	ID                      string     `db:"id"`
	ParentFunctionName      *string    `db:"parent_function_name"`
	ParentInvocationID      *string    `db:"parent_invocation_id"`
	Input                   string     `db:"input"`
	Status                  string     `db:"status"`
	CancellationRequestTime *time.Time `db:"cancellation_request_time"`
	CreationTime            time.Time  `db:"creation_time"`
	LastUpdateTime          time.Time  `db:"last_update_time"`
}

func (r *invocationRow) toModel() models.Invocation {
	invocation := models.Invocation{
		Project:                 r.Project,
		Version:                 r.Version,
		Function:                r.Function,
		ID:                      r.ID,
		Input:                   r.Input,
		Status:                  models.InvocationStatus(r.Status),
		CancellationRequestTime: r.CancellationRequestTime,
		CreationTime:            r.CreationTime,
		LastUpdateTime:          r.LastUpdateTime,
	}

	if r.ParentFunctionName != nil && r.ParentInvocationID != nil {
		invocation.Parent = &models.ParentReference{
			FunctionName: *r.ParentFunctionName,
			InvocationID: *r.ParentInvocationID,
		}
	}

	return invocation
}

type executionRow struct {
	Project               string     `db:"project"`
	Version               string     `db:"version"`
	Function              string     `db:"function"`
	Invocation            string     `db:"invocation"`
	ID                    string     `db:"id"`
	WorkerStatus          string     `db:"worker_status"`
	WorkerDetails         *string    `db:"worker_details"`
	TerminationSignalTime *time.Time `db:"termination_signal_time"`
	Outcome               *string    `db:"outcome"`
	Output                *string    `db:"output"`
	ErrorMessage          *string    `db:"error_message"`
	CreationTime          time.Time  `db:"creation_time"`
	LastUpdateTime        time.Time  `db:"last_update_time"`
	ExecutionStartTime    *time.Time `db:"execution_start_time"`
	ExecutionFinishTime   *time.Time `db:"execution_finish_time"`
}

func (r *executionRow) toModel() (models.Execution, error) {
	execution := models.Execution{
		Project:               r.Project,
		Version:               r.Version,
		Function:              r.Function,
		InvocationID:          r.Invocation,
		ID:                    r.ID,
		WorkerStatus:          models.WorkerStatus(r.WorkerStatus),
		TerminationSignalTime: r.TerminationSignalTime,
		Output:                r.Output,
		ErrorMessage:          r.ErrorMessage,
		CreationTime:          r.CreationTime,
		LastUpdateTime:        r.LastUpdateTime,
		StartTime:             r.ExecutionStartTime,
		FinishTime:            r.ExecutionFinishTime,
	}

	if r.WorkerDetails != nil {
		execution.WorkerDetails = &models.WorkerDetails{}

		if err := unmarshalJSON(*r.WorkerDetails, execution.WorkerDetails); err != nil {
			return execution, err
		}
	}

	if r.Outcome != nil {
		outcome := models.ExecutionOutcome(*r.Outcome)
		execution.Outcome = &outcome
	}

	return execution, nil
}

// The existence checks below implement the not-found cascade: when an
// entity is missing, the caller is told about the outermost missing
// ancestor, which is the most informative message.

func projectExists(ctx context.Context, q queryer, project string) error {
	var exists bool

	if err := q.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM projects WHERE name = $1)`, project); err != nil {
		return err
	}

	if !exists {
		return errors.ProjectDoesNotExist(project)
	}

	return nil
}

func versionExists(ctx context.Context, q queryer, project, version string) error {
	if err := projectExists(ctx, q, project); err != nil {
		return err
	}

	var exists bool

	if err := q.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM versions WHERE project = $1 AND id = $2)`, project, version); err != nil {
		return err
	}

	if !exists {
		return errors.VersionDoesNotExist(project, version)
	}

	return nil
}

func functionExists(ctx context.Context, q queryer, project, version, function string) error {
	if err := versionExists(ctx, q, project, version); err != nil {
		return err
	}

	var exists bool

	if err := q.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM functions WHERE project = $1 AND version = $2 AND name = $3)`, project, version, function); err != nil {
		return err
	}

	if !exists {
		return errors.FunctionDoesNotExist(project, version, function)
	}

	return nil
}

func invocationExists(ctx context.Context, q queryer, project, version, function, invocation string) error {
	if err := functionExists(ctx, q, project, version, function); err != nil {
		return err
	}

	var exists bool

	if err := q.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM invocations WHERE project = $1 AND version = $2 AND function = $3 AND id = $4)`, project, version, function, invocation); err != nil {
		return err
	}

	if !exists {
		return errors.InvocationDoesNotExist(project, version, function, invocation)
	}

	return nil
}
