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

// Package postgres implements the store against PostgreSQL.  Every
// multi-row mutation runs in a READ COMMITTED transaction; single row
// updates use conditional WHERE clauses for their optimistic checks.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/pflag"

	"github.com/eschercloudai/runcorn/pkg/log"
	"github.com/eschercloudai/runcorn/pkg/store"
	"github.com/eschercloudai/runcorn/pkg/util/retry"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the PostgreSQL error code raised by duplicate keys.
const uniqueViolation = "23505"

// Options configures database access.
type Options struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConnections bounds the shared connection pool.  Handlers
	// and reconciler ticks check out a connection per logical
	// transaction.
	MaxOpenConnections int

	// MaxIdleConnections bounds pooled idle connections.
	MaxIdleConnections int

	// ConnectTimeout bounds how long to wait for the database to become
	// reachable at startup.
	ConnectTimeout time.Duration
}

// AddFlags registers database flags.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.DSN, "postgres-dsn", "postgres://localhost:5432/runcorn?sslmode=disable", "PostgreSQL connection string.")
	f.IntVar(&o.MaxOpenConnections, "postgres-max-open-connections", 16, "Connection pool size.")
	f.IntVar(&o.MaxIdleConnections, "postgres-max-idle-connections", 4, "Idle connection pool size.")
	f.DurationVar(&o.ConnectTimeout, "postgres-connect-timeout", time.Minute, "How long to wait for the database at startup.")
}

// Store implements store.Store against PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// Ensure the store interface is implemented.
var _ store.Store = &Store{}

// New connects, waits for the database to be reachable and runs any
// pending migrations.
func New(ctx context.Context, options *Options) (*Store, error) {
	db, err := sqlx.Open("postgres", options.DSN)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(options.MaxOpenConnections)
	db.SetMaxIdleConns(options.MaxIdleConnections)

	// The database typically comes up in parallel with us, so poll until
	// it's routable before declaring victory.
	callback := func() error {
		if err := db.PingContext(ctx); err != nil {
			log.FromContext(ctx).V(1).Info("database not ready", "error", err)

			return err
		}

		return nil
	}

	if err := retry.WithContext(ctx).WithTimeout(options.ConnectTimeout).Do(callback); err != nil {
		return nil, err
	}

	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by unit tests with
// go-sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

func (s *Store) Projects() store.Projects {
	return &projects{db: s.db}
}

func (s *Store) Versions() store.Versions {
	return &versions{db: s.db}
}

func (s *Store) Functions() store.Functions {
	return &functions{db: s.db}
}

func (s *Store) Invocations() store.Invocations {
	return &invocations{db: s.db}
}

func (s *Store) Executions() store.Executions {
	return &executions{db: s.db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation unwraps driver errors looking for a duplicate key.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	if !errors.As(err, &pqErr) {
		return false
	}

	return pqErr.Code == uniqueViolation
}

// queryer abstracts the DB and a transaction so lookup helpers can run
// in either.
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
