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

// The lifecycle reconciler.  Exactly one instance may run against a
// store at a time; it holds logical ownership of the entity state
// machines.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/eschercloudai/runcorn/pkg/constants"
	"github.com/eschercloudai/runcorn/pkg/log"
	"github.com/eschercloudai/runcorn/pkg/provisioners/external"
	"github.com/eschercloudai/runcorn/pkg/reconciler"
	"github.com/eschercloudai/runcorn/pkg/store/postgres"
)

type options struct {
	// debug switches to human readable development logging.
	debug bool

	// metricsAddress exposes prometheus metrics, empty to disable.
	metricsAddress string

	reconciler  reconciler.Options
	postgres    postgres.Options
	provisioner external.Options
}

func (o *options) addFlags(f *pflag.FlagSet) {
	f.BoolVar(&o.debug, "debug", false, "Enable development logging.")
	f.StringVar(&o.metricsAddress, "metrics-listen-address", ":6081", "Metrics listener address, empty to disable.")

	o.reconciler.AddFlags(f)
	o.postgres.AddFlags(f)
	o.provisioner.AddFlags(f)
}

func run(ctx context.Context, o *options) error {
	logger := log.Log().WithName(constants.Application)

	logger.Info("reconciler starting", "application", constants.Application, "version", constants.Version, "revision", constants.Revision)

	s, err := postgres.New(ctx, &o.postgres)
	if err != nil {
		return err
	}

	defer s.Close()

	r := reconciler.New(s, external.New(&o.provisioner))

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return r.Run(ctx, &o.reconciler)
	})

	if o.metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer := &http.Server{
			Addr:    o.metricsAddress,
			Handler: mux,
		}

		group.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		group.Go(func() error {
			<-ctx.Done()

			return metricsServer.Shutdown(context.Background())
		})
	}

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
		log.Log().Error(err, "reconciler failed")
		os.Exit(1)
	}
}
