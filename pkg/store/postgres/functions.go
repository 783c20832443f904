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

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type functions struct {
	db *sqlx.DB
}

var _ store.Functions = &functions{}

func (f *functions) Create(ctx context.Context, function *models.Function) error {
	resources, err := marshalJSON(function.Resources)
	if err != nil {
		return err
	}

	execution, err := marshalJSON(function.Execution)
	if err != nil {
		return err
	}

	_, err = f.db.ExecContext(ctx,
		`INSERT INTO functions (project, version, name, docker_image, resource_spec, execution_spec, status, creation_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		function.Project, function.Version, function.Name, function.DockerImage, resources, execution, string(models.FunctionStatusPending), function.CreationTime)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.FunctionAlreadyExists(function.Project, function.Version, function.Name)
		}

		if err := versionExists(ctx, f.db, function.Project, function.Version); err != nil {
			return err
		}

		return err
	}

	return nil
}

func (f *functions) Update(ctx context.Context, project, version, name string, update store.FunctionUpdate) error {
	var set []string

	args := []interface{}{project, version, name}

	if update.Status != nil {
		args = append(args, string(*update.Status))
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}

	if update.Prepared != nil {
		prepared, err := marshalJSON(update.Prepared)
		if err != nil {
			return err
		}

		args = append(args, prepared)
		set = append(set, fmt.Sprintf("prepared_function_details = $%d", len(args)))
	}

	if len(set) == 0 {
		return functionExists(ctx, f.db, project, version, name)
	}

	query := `UPDATE functions SET ` + strings.Join(set, ", ") + ` WHERE project = $1 AND version = $2 AND name = $3`

	result, err := f.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if count == 0 {
		return functionExists(ctx, f.db, project, version, name)
	}

	return nil
}

func (f *functions) Get(ctx context.Context, project, version, name string) (*models.Function, error) {
	var row functionRow

	if err := f.db.GetContext(ctx, &row, `SELECT * FROM functions WHERE project = $1 AND version = $2 AND name = $3`, project, version, name); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			if err := versionExists(ctx, f.db, project, version); err != nil {
				return nil, err
			}

			return nil, errors.FunctionDoesNotExist(project, version, name)
		}

		return nil, err
	}

	function, err := row.toModel()
	if err != nil {
		return nil, err
	}

	return &function, nil
}

func (f *functions) ListForVersion(ctx context.Context, project, version string) ([]models.Function, error) {
	if err := versionExists(ctx, f.db, project, version); err != nil {
		return nil, err
	}

	var rows []functionRow

	if err := f.db.SelectContext(ctx, &rows, `SELECT * FROM functions WHERE project = $1 AND version = $2 ORDER BY name`, project, version); err != nil {
		return nil, err
	}

	return functionRowsToModels(rows)
}

func (f *functions) ListAll(ctx context.Context, statuses []models.FunctionStatus) ([]models.Function, error) {
	// An empty status set would produce a malformed IN clause; it means
	// "nothing" anyway.
	if len(statuses) == 0 {
		return nil, nil
	}

	filter := lo.Map(statuses, func(status models.FunctionStatus, _ int) string {
		return string(status)
	})

	var rows []functionRow

	if err := f.db.SelectContext(ctx, &rows, `SELECT * FROM functions WHERE status = ANY ($1) ORDER BY creation_time, project, version, name`, pq.Array(filter)); err != nil {
		return nil, err
	}

	return functionRowsToModels(rows)
}

func functionRowsToModels(rows []functionRow) ([]models.Function, error) {
	out := make([]models.Function, len(rows))

	for i := range rows {
		function, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}

		out[i] = function
	}

	return out, nil
}
