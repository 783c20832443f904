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

// Package log provides the process-wide logger.  Everything logs through
// logr so the backend can be swapped out; in production that backend is
// zap emitting JSON, in tests it's usually discarded unless -debug is set.
package log

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals
var logger = logr.Discard()

// SetLogger installs the global logger, called once from main.
func SetLogger(log logr.Logger) {
	logger = log
}

// SetZapLogger installs a zap backed global logger.
func SetZapLogger(debug bool) error {
	config := zap.NewProductionConfig()

	if debug {
		config = zap.NewDevelopmentConfig()
	}

	zapLog, err := config.Build()
	if err != nil {
		return err
	}

	SetLogger(zapr.NewLogger(zapLog))

	return nil
}

// Log returns the global logger.
func Log() logr.Logger {
	return logger
}

// IntoContext attaches a logger to the context.
func IntoContext(ctx context.Context, log logr.Logger) context.Context {
	return logr.NewContext(ctx, log)
}

// FromContext extracts the request scoped logger, falling back to the
// global one so callers never get a nil sink.
func FromContext(ctx context.Context) logr.Logger {
	if log, err := logr.FromContext(ctx); err == nil {
		return log
	}

	return logger
}
