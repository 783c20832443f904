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
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/log"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type executions struct {
	db *sqlx.DB
}

var _ store.Executions = &executions{}

func (e *executions) Create(ctx context.Context, execution *models.Execution) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := invocationExists(ctx, tx, execution.Project, execution.Version, execution.Function, execution.InvocationID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (project, version, function, invocation, id, worker_status, creation_time, last_update_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		execution.Project, execution.Version, execution.Function, execution.InvocationID, execution.ID,
		string(execution.WorkerStatus), execution.CreationTime, execution.LastUpdateTime)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ExecutionAlreadyExists(execution.ID)
		}

		return err
	}

	return tx.Commit()
}

//nolint:cyclop
func (e *executions) Update(ctx context.Context, project, version, function, invocation, execution string, now time.Time, update store.ExecutionUpdate) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	// Lock the row so the precondition check and the update are atomic
	// with respect to concurrent worker callbacks.
	var row executionRow

	if err := tx.GetContext(ctx, &row,
		`SELECT * FROM executions WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4 AND id = $5 FOR UPDATE`,
		project, version, function, invocation, execution); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			if err := invocationExists(ctx, tx, project, version, function, invocation); err != nil {
				return err
			}

			return errors.ExecutionDoesNotExist(project, version, function, invocation, execution)
		}

		return err
	}

	switch update.ShouldHaveStarted {
	case store.PreconditionHolds:
		if row.ExecutionStartTime == nil {
			return errors.ExecutionHasNotStarted(execution)
		}
	case store.PreconditionAbsent:
		if row.ExecutionStartTime != nil {
			return errors.ExecutionHasAlreadyStarted(execution)
		}
	case store.PreconditionNone:
	}

	switch update.ShouldHaveFinished {
	case store.PreconditionHolds:
		if row.ExecutionFinishTime == nil {
			return errors.ExecutionHasNotFinished(execution)
		}
	case store.PreconditionAbsent:
		if row.ExecutionFinishTime != nil {
			return errors.ExecutionHasAlreadyFinished(execution)
		}
	case store.PreconditionNone:
	}

	set := []string{"last_update_time = $6"}
	args := []interface{}{project, version, function, invocation, execution, now}

	addSet := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.WorkerStatus != nil {
		addSet("worker_status", string(*update.WorkerStatus))
	}

	if update.WorkerDetails != nil {
		details, err := marshalJSON(update.WorkerDetails)
		if err != nil {
			return err
		}

		addSet("worker_details", details)
	}

	if update.TerminationSignalTime != nil {
		// Stamped at most once per execution.
		args = append(args, *update.TerminationSignalTime)
		set = append(set, fmt.Sprintf("termination_signal_time = COALESCE(termination_signal_time, $%d)", len(args)))
	}

	if update.Outcome != nil {
		addSet("outcome", string(*update.Outcome))
	}

	if update.Output != nil {
		addSet("output", *update.Output)
	}

	if update.ErrorMessage != nil {
		addSet("error_message", *update.ErrorMessage)
	}

	if update.StartTime != nil {
		addSet("execution_start_time", *update.StartTime)
	}

	if update.FinishTime != nil {
		addSet("execution_finish_time", *update.FinishTime)
	}

	query := `UPDATE executions SET ` + strings.Join(set, ", ") +
		` WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4 AND id = $5`

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	return tx.Commit()
}

func (e *executions) Get(ctx context.Context, project, version, function, invocation, execution string) (*models.Execution, error) {
	var row executionRow

	if err := e.db.GetContext(ctx, &row,
		`SELECT * FROM executions WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4 AND id = $5`,
		project, version, function, invocation, execution); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			if err := invocationExists(ctx, e.db, project, version, function, invocation); err != nil {
				return nil, err
			}

			return nil, errors.ExecutionDoesNotExist(project, version, function, invocation, execution)
		}

		return nil, err
	}

	out, err := row.toModel()
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (e *executions) ListForInvocation(ctx context.Context, project, version, function, invocation string) ([]models.Execution, error) {
	if err := invocationExists(ctx, e.db, project, version, function, invocation); err != nil {
		return nil, err
	}

	var rows []executionRow

	if err := e.db.SelectContext(ctx, &rows,
		`SELECT * FROM executions WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4 ORDER BY creation_time, id`,
		project, version, function, invocation); err != nil {
		return nil, err
	}

	return executionRowsToModels(rows)
}

func (e *executions) ListAll(ctx context.Context, statuses []models.WorkerStatus) ([]models.Execution, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	if lo.Contains(statuses, models.WorkerStatusTerminated) {
		// Legal, but the result set grows without bound.
		log.FromContext(ctx).Info("scanning executions by TERMINATED status, this is unbounded")
	}

	filter := lo.Map(statuses, func(status models.WorkerStatus, _ int) string {
		return string(status)
	})

	var rows []executionRow

	if err := e.db.SelectContext(ctx, &rows, `SELECT * FROM executions WHERE worker_status = ANY ($1) ORDER BY creation_time, id`, pq.Array(filter)); err != nil {
		return nil, err
	}

	return executionRowsToModels(rows)
}

func executionRowsToModels(rows []executionRow) ([]models.Execution, error) {
	out := make([]models.Execution, len(rows))

	for i := range rows {
		execution, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}

		out[i] = execution
	}

	return out, nil
}
