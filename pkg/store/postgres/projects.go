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
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/eschercloudai/runcorn/pkg/errors"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/store"
)

type projects struct {
	db *sqlx.DB
}

var _ store.Projects = &projects{}

func (p *projects) Create(ctx context.Context, name string, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO projects (name, creation_time) VALUES ($1, $2)`, name, now)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ProjectAlreadyExists(name)
		}

		return err
	}

	return nil
}

func (p *projects) Get(ctx context.Context, name string) (*models.Project, error) {
	var row projectRow

	if err := p.db.GetContext(ctx, &row, `SELECT name, creation_time, deletion_request_time FROM projects WHERE name = $1`, name); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ProjectDoesNotExist(name)
		}

		return nil, err
	}

	project := row.toModel()

	return &project, nil
}

func (p *projects) List(ctx context.Context) ([]models.Project, error) {
	var rows []projectRow

	if err := p.db.SelectContext(ctx, &rows, `SELECT name, creation_time, deletion_request_time FROM projects ORDER BY creation_time DESC, name`); err != nil {
		return nil, err
	}

	out := make([]models.Project, len(rows))

	for i := range rows {
		out[i] = rows[i].toModel()
	}

	return out, nil
}

func (p *projects) RequestDeletion(ctx context.Context, name string, now time.Time) error {
	// COALESCE keeps the first request's timestamp on repeat requests.
	result, err := p.db.ExecContext(ctx, `UPDATE projects SET deletion_request_time = COALESCE(deletion_request_time, $2) WHERE name = $1`, name, now)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if count == 0 {
		return errors.ProjectDoesNotExist(name)
	}

	return nil
}

func (p *projects) DeleteWithCascade(ctx context.Context, name string) error {
	// The schema's ON DELETE CASCADE chains take out versions, functions,
	// invocations and executions with the project row.
	result, err := p.db.ExecContext(ctx, `DELETE FROM projects WHERE name = $1`, name)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if count == 0 {
		return errors.ProjectDoesNotExist(name)
	}

	return nil
}
