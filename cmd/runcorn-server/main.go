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

// The API server.  Serves the REST API against the store; the
// reconciler runs as a separate process, except in dev mode where it is
// hosted alongside the API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/eschercloudai/runcorn/pkg/constants"
	"github.com/eschercloudai/runcorn/pkg/log"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/provisioners/dev"
	"github.com/eschercloudai/runcorn/pkg/provisioners/external"
	"github.com/eschercloudai/runcorn/pkg/reconciler"
	"github.com/eschercloudai/runcorn/pkg/server"
	"github.com/eschercloudai/runcorn/pkg/store"
	"github.com/eschercloudai/runcorn/pkg/store/memory"
	"github.com/eschercloudai/runcorn/pkg/store/postgres"
)

type options struct {
	// debug switches to human readable development logging.
	debug bool

	// devMode swaps the database and the real provisioner for in-memory
	// fakes, giving a self-contained single-process deployment.
	devMode bool

	server      server.Server
	postgres    postgres.Options
	provisioner external.Options
	reconciler  reconciler.Options
}

func (o *options) addFlags(f *pflag.FlagSet) {
	f.BoolVar(&o.debug, "debug", false, "Enable development logging.")
	f.BoolVar(&o.devMode, "dev", false, "Run with the in-memory store and provisioner.")

	o.server.Options.AddFlags(f)
	o.postgres.AddFlags(f)
	o.provisioner.AddFlags(f)
	o.reconciler.AddFlags(f)
}

func run(ctx context.Context, o *options) error {
	logger := log.Log().WithName(constants.Application)

	logger.Info("service starting", "application", constants.Application, "version", constants.Version, "revision", constants.Revision)

	var s store.Store

	var provisioner provisioners.Provisioner

	if o.devMode {
		s = memory.New()
		provisioner = dev.New()
	} else {
		var err error

		s, err = postgres.New(ctx, &o.postgres)
		if err != nil {
			return err
		}

		provisioner = external.New(&o.provisioner)
	}

	defer s.Close()

	if err := o.server.SetupOpenTelemetry(ctx); err != nil {
		return err
	}

	httpServer := o.server.GetServer(s, provisioner)

	group, ctx := errgroup.WithContext(ctx)

	// Self-contained deployments have no separate reconciler process, so
	// run the control loop in here against the in-memory store.
	if o.devMode {
		r := reconciler.New(s, provisioner)

		group.Go(func() error {
			return r.Run(ctx, &o.reconciler)
		})
	}

	group.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		logger.Info("service stopping")

		return httpServer.Shutdown(context.Background())
	})

	return group.Wait()
}

func main() {
	o := &options{}
	o.addFlags(pflag.CommandLine)
	pflag.Parse()

	if err := log.SetZapLogger(o.debug); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Log().Error(err, "service failed")
		os.Exit(1)
	}
}
