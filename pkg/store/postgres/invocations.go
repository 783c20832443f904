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

	"github.com/eschercloudai/runcorn/pkg/constants"
	"github.com/eschercloudai/runcorn/pkg/cursor"
	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type invocations struct {
	db *sqlx.DB
}

var _ store.Invocations = &invocations{}

func (i *invocations) Create(ctx context.Context, invocation *models.Invocation) error {
	tx, err := i.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := functionExists(ctx, tx, invocation.Project, invocation.Version, invocation.Function); err != nil {
		return err
	}

	var parentFunction, parentID *string

	if invocation.Parent != nil {
		// The parent lives in the same project and version but may be an
		// invocation of any function there.
		var exists bool

		if err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM invocations WHERE project = $1 AND version = $2 AND function = $3 AND id = $4)`,
			invocation.Project, invocation.Version, invocation.Parent.FunctionName, invocation.Parent.InvocationID); err != nil {
			return err
		}

		if !exists {
			return errors.ParentInvocationDoesNotExist(invocation.Parent.FunctionName, invocation.Parent.InvocationID)
		}

		parentFunction = &invocation.Parent.FunctionName
		parentID = &invocation.Parent.InvocationID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO invocations (project, version, function, id, parent_function_name, parent_invocation_id, input, status, creation_time, last_update_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		invocation.Project, invocation.Version, invocation.Function, invocation.ID,
		parentFunction, parentID, invocation.Input, string(invocation.Status),
		invocation.CreationTime, invocation.LastUpdateTime)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.InvocationAlreadyExists(invocation.ID)
		}

		return err
	}

	return tx.Commit()
}

func (i *invocations) Update(ctx context.Context, project, version, function, invocation string, now time.Time, update store.InvocationUpdate) error {
	set := []string{"last_update_time = $5"}
	args := []interface{}{project, version, function, invocation, now}

	if update.SetCancellationRequested {
		// Idempotent: only the first request stamps the time.
		set = append(set, "cancellation_request_time = COALESCE(cancellation_request_time, $5)")
	}

	if update.Status != nil {
		args = append(args, string(*update.Status))
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `UPDATE invocations SET ` + strings.Join(set, ", ") + ` WHERE project = $1 AND version = $2 AND function = $3 AND id = $4`

	result, err := i.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if count == 0 {
		if err := invocationExists(ctx, i.db, project, version, function, invocation); err != nil {
			return err
		}
	}

	return nil
}

func (i *invocations) Get(ctx context.Context, project, version, function, invocation string) (*models.InvocationWithExecutions, error) {
	var row invocationRow

	if err := i.db.GetContext(ctx, &row,
		`SELECT * FROM invocations WHERE project = $1 AND version = $2 AND function = $3 AND id = $4`,
		project, version, function, invocation); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			if err := functionExists(ctx, i.db, project, version, function); err != nil {
				return nil, err
			}

			return nil, errors.InvocationDoesNotExist(project, version, function, invocation)
		}

		return nil, err
	}

	var executionRows []executionRow

	if err := i.db.SelectContext(ctx, &executionRows,
		`SELECT * FROM executions WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4 ORDER BY creation_time, id`,
		project, version, function, invocation); err != nil {
		return nil, err
	}

	executions, err := executionRowsToModels(executionRows)
	if err != nil {
		return nil, err
	}

	return &models.InvocationWithExecutions{
		Invocation: row.toModel(),
		Executions: executions,
	}, nil
}

func (i *invocations) ListForFunction(ctx context.Context, request *store.ListInvocationsRequest) (*store.InvocationPage, error) {
	if err := functionExists(ctx, i.db, request.Project, request.Version, request.Function); err != nil {
		return nil, err
	}

	limit := request.MaxResults
	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	where := []string{"project = $1", "version = $2", "function = $3"}
	args := []interface{}{request.Project, request.Version, request.Function}

	if request.Status != nil {
		args = append(args, string(*request.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	if request.Parent != nil {
		args = append(args, request.Parent.FunctionName)
		where = append(where, fmt.Sprintf("parent_function_name = $%d", len(args)))

		args = append(args, request.Parent.InvocationID)
		where = append(where, fmt.Sprintf("parent_invocation_id = $%d", len(args)))
	}

	if request.Cursor != "" {
		offset, err := cursor.Decode(request.Cursor)
		if err != nil {
			return nil, err
		}

		// Resume strictly after the named row in (creation_time desc,
		// id asc) order.
		args = append(args, offset.CreationTime, offset.ID)
		where = append(where, fmt.Sprintf("(creation_time < $%d OR (creation_time = $%d AND id > $%d))", len(args)-1, len(args)-1, len(args)))
	}

	// Fetch one extra row to learn whether another page exists.
	args = append(args, limit+1)

	query := `SELECT * FROM invocations WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY creation_time DESC, id LIMIT $%d`, len(args))

	var rows []invocationRow

	if err := i.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	page := &store.InvocationPage{}

	if len(rows) > limit {
		rows = rows[:limit]
		page.NextCursor = cursor.Encode(cursor.Cursor{
			CreationTime: rows[limit-1].CreationTime,
			ID:           rows[limit-1].ID,
		})
	}

	items, err := i.attachExecutions(ctx, rows)
	if err != nil {
		return nil, err
	}

	page.Items = items

	return page, nil
}

func (i *invocations) ListAll(ctx context.Context, statuses []models.InvocationStatus) ([]models.InvocationWithExecutions, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	filter := lo.Map(statuses, func(status models.InvocationStatus, _ int) string {
		return string(status)
	})

	var rows []invocationRow

	if err := i.db.SelectContext(ctx, &rows, `SELECT * FROM invocations WHERE status = ANY ($1) ORDER BY creation_time, id`, pq.Array(filter)); err != nil {
		return nil, err
	}

	return i.attachExecutions(ctx, rows)
}

// attachExecutions joins the executions of each selected invocation in a
// single round trip keyed by invocation id.  Minted invocation ids are
// unique across functions so the id alone is a sufficient key.
func (i *invocations) attachExecutions(ctx context.Context, rows []invocationRow) ([]models.InvocationWithExecutions, error) {
	out := make([]models.InvocationWithExecutions, len(rows))

	if len(rows) == 0 {
		return out, nil
	}

	ids := lo.Map(rows, func(row invocationRow, _ int) string {
		return row.ID
	})

	var executionRows []executionRow

	if err := i.db.SelectContext(ctx, &executionRows, `SELECT * FROM executions WHERE invocation = ANY ($1) ORDER BY creation_time, id`, pq.Array(ids)); err != nil {
		return nil, err
	}

	byInvocation := map[string][]models.Execution{}

	for k := range executionRows {
		execution, err := executionRows[k].toModel()
		if err != nil {
			return nil, err
		}

		byInvocation[execution.InvocationID] = append(byInvocation[execution.InvocationID], execution)
	}

	for k := range rows {
		out[k] = models.InvocationWithExecutions{
			Invocation: rows[k].toModel(),
			Executions: byInvocation[rows[k].ID],
		}
	}

	return out, nil
}
