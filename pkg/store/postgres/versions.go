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

type versions struct {
	db *sqlx.DB
}

var _ store.Versions = &versions{}

func (v *versions) Create(ctx context.Context, project, version string, now time.Time) error {
	_, err := v.db.ExecContext(ctx, `INSERT INTO versions (project, id, creation_time) VALUES ($1, $2, $3)`, project, version, now)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.VersionAlreadyExists(project, version)
		}

		// A foreign key violation means the project is gone.
		if err := projectExists(ctx, v.db, project); err != nil {
			return err
		}

		return err
	}

	return nil
}

func (v *versions) Get(ctx context.Context, project, version string) (*models.Version, []models.Function, error) {
	var row versionRow

	if err := v.db.GetContext(ctx, &row, `SELECT project, id, creation_time FROM versions WHERE project = $1 AND id = $2`, project, version); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			if err := projectExists(ctx, v.db, project); err != nil {
				return nil, nil, err
			}

			return nil, nil, errors.VersionDoesNotExist(project, version)
		}

		return nil, nil, err
	}

	var functionRows []functionRow

	if err := v.db.SelectContext(ctx, &functionRows, `SELECT * FROM functions WHERE project = $1 AND version = $2 ORDER BY name`, project, version); err != nil {
		return nil, nil, err
	}

	functions := make([]models.Function, len(functionRows))

	for i := range functionRows {
		function, err := functionRows[i].toModel()
		if err != nil {
			return nil, nil, err
		}

		functions[i] = function
	}

	out := row.toModel()

	return &out, functions, nil
}

func (v *versions) GetIDOfLatest(ctx context.Context, project string) (string, error) {
	var id string

	// Ties on creation time resolve to the lexicographically smallest id
	// so "latest" is stable.
	if err := v.db.GetContext(ctx, &id, `SELECT id FROM versions WHERE project = $1 ORDER BY creation_time DESC, id ASC LIMIT 1`, project); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			if err := projectExists(ctx, v.db, project); err != nil {
				return "", err
			}

			return "", errors.VersionDoesNotExist(project, "latest")
		}

		return "", err
	}

	return id, nil
}

func (v *versions) ListForProject(ctx context.Context, project string) ([]models.Version, error) {
	if err := projectExists(ctx, v.db, project); err != nil {
		return nil, err
	}

	var rows []versionRow

	if err := v.db.SelectContext(ctx, &rows, `SELECT project, id, creation_time FROM versions WHERE project = $1 ORDER BY creation_time DESC, id`, project); err != nil {
		return nil, err
	}

	out := make([]models.Version, len(rows))

	for i := range rows {
		out[i] = rows[i].toModel()
	}

	return out, nil
}
