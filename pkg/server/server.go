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

// Package server assembles the REST API: routing, middleware, tracing
// and the HTTP listener.
package server

import (
	"context"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/eschercloudai/runcorn/pkg/log"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/server/handler"
	"github.com/eschercloudai/runcorn/pkg/server/middleware"
	"github.com/eschercloudai/runcorn/pkg/store"
)

// Server wires the handler into an HTTP listener.
type Server struct {
	// Options are server specific options e.g. listener address etc.
	Options Options
}

// SetupOpenTelemetry adds a span processor that will print root spans to
// the logs by default, and optionally ship the spans to an OTLP listener.
func (s *Server) SetupOpenTelemetry(ctx context.Context) error {
	otel.SetLogger(log.Log())

	opts := []trace.TracerProviderOption{
		trace.WithSpanProcessor(&middleware.LoggingSpanProcessor{}),
	}

	if s.Options.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(s.Options.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)

		if err != nil {
			return err
		}

		opts = append(opts, trace.WithBatcher(exporter))
	}

	otel.SetTracerProvider(trace.NewTracerProvider(opts...))

	return nil
}

// Router builds the API routes over the given store and provisioner.
func (s *Server) Router(store store.Store, provisioner provisioners.Provisioner) *chi.Mux {
	h := handler.New(store, provisioner)

	authorizer := middleware.NewAuthorizer(s.Options.APIKey)

	// Middleware specified here is applied to all requests pre-routing.
	router := chi.NewRouter()
	router.Use(middleware.Logger())
	router.Use(chimiddleware.Timeout(s.Options.RequestTimeout))
	router.NotFound(http.HandlerFunc(handler.NotFound))
	router.MethodNotAllowed(http.HandlerFunc(handler.MethodNotAllowed))

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(authorizer.Middleware)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Get("/", h.ListProjects)

			r.Route("/{project}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Delete("/", h.DeleteProject)

				r.Route("/versions", func(r chi.Router) {
					r.Post("/", h.CreateVersion)
					r.Get("/", h.ListVersions)

					r.Route("/{version}", func(r chi.Router) {
						r.Get("/", h.GetVersion)

						r.Route("/functions/{function}", func(r chi.Router) {
							r.Get("/", h.GetFunction)

							r.Route("/invocations", func(r chi.Router) {
								r.Post("/", h.CreateInvocation)
								r.Get("/", h.ListInvocations)

								r.Route("/{invocation}", func(r chi.Router) {
									r.Get("/", h.GetInvocation)
									r.Post("/cancel", h.CancelInvocation)

									r.Route("/executions/{execution}", func(r chi.Router) {
										r.Get("/", h.GetExecution)
										r.Post("/start", h.StartExecution)
										r.Post("/temporary_result", h.UploadTemporaryResult)
										r.Post("/final_result", h.SetFinalResult)
										r.Get("/logs", h.GetExecutionLogs)
									})
								})
							})
						})
					})
				})
			})
		})
	})

	return router
}

// GetServer returns the configured HTTP server.
func (s *Server) GetServer(store store.Store, provisioner provisioners.Provisioner) *http.Server {
	return &http.Server{
		Addr:              s.Options.ListenAddress,
		ReadTimeout:       s.Options.ReadTimeout,
		ReadHeaderTimeout: s.Options.ReadHeaderTimeout,
		WriteTimeout:      s.Options.WriteTimeout,
		Handler:           s.Router(store, provisioner),
	}
}
