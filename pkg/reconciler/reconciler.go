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

// Package reconciler drives functions, invocations, executions and
// projects through their lifecycles.  A single goroutine runs one tick
// at a time; request handlers race it freely and the store's
// transactional semantics arbitrate.  Every decision taken here is
// idempotent, so a crash between any two writes is recovered by simply
// running the next tick.
package reconciler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/eschercloudai/runcorn/pkg/constants"
	"github.com/eschercloudai/runcorn/pkg/identifier"
	"github.com/eschercloudai/runcorn/pkg/log"
	"github.com/eschercloudai/runcorn/pkg/models"
	"github.com/eschercloudai/runcorn/pkg/provisioners"
	"github.com/eschercloudai/runcorn/pkg/store"
)

// Options configures the reconciliation loop.
type Options struct {
	// Period is the pause between ticks.
	Period time.Duration
}

// AddFlags registers reconciler flags.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.DurationVar(&o.Period, "reconcile-period", time.Second, "Pause between reconciliation ticks.")
}

// Reconciler owns the control loop.
type Reconciler struct {
	store       store.Store
	provisioner provisioners.Provisioner
}

// New returns a reconciler over the given store and provisioner.
func New(s store.Store, provisioner provisioners.Provisioner) *Reconciler {
	return &Reconciler{
		store:       s,
		provisioner: provisioner,
	}
}

// Run ticks RunOnce until the context is cancelled.  Tick errors are
// logged and the loop carries on; the next tick re-derives everything
// from the store, so nothing is lost.
func (r *Reconciler) Run(ctx context.Context, options *Options) error {
	logger := log.FromContext(ctx)

	logger.Info("starting reconciler", "period", options.Period.String())

	ticker := time.NewTicker(options.Period)
	defer ticker.Stop()

	for {
		timer := prometheus.NewTimer(tickDuration)

		if err := r.RunOnce(ctx, time.Now()); err != nil {
			logger.Error(err, "reconciliation tick failed")
		}

		timer.ObserveDuration()

		select {
		case <-ctx.Done():
			logger.Info("stopping reconciler")

			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes one reconciliation tick at time t.  The phases run in
// a fixed order: cancellation propagation before scheduling so we don't
// spawn executions for freshly cancelled children, provisioning before
// liveness polling to get new executions moving within one tick, and
// project collection last so it sees every cascading effect.  A failure
// on one entity is logged and skipped; a failure to scan aborts that
// phase only.
func (r *Reconciler) RunOnce(ctx context.Context, t time.Time) error {
	tickCount.Inc()

	phases := []struct {
		name string
		run  func(context.Context, time.Time) error
	}{
		{"prepare_functions", r.prepareFunctions},
		{"propagate_cancellations", r.propagateCancellations},
		{"schedule_invocations", r.scheduleInvocations},
		{"provision_workers", r.provisionWorkers},
		{"poll_workers", r.pollWorkers},
		{"signal_workers", r.signalWorkers},
		{"sweep_provisioning", r.sweepProvisioning},
		{"collect_projects", r.collectProjects},
	}

	logger := log.FromContext(ctx)

	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := phase.run(ctx, t); err != nil {
			phaseErrors.WithLabelValues(phase.name).Inc()
			logger.Error(err, "reconciliation phase failed", "phase", phase.name)
		}
	}

	return nil
}

// prepareFunctions moves PENDING functions to READY by asking the
// provisioner to prepare them.  Preparation is idempotent on the driver
// side, so re-preparing after a crashed tick is harmless.
func (r *Reconciler) prepareFunctions(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	pending, err := r.store.Functions().ListAll(ctx, []models.FunctionStatus{models.FunctionStatusPending})
	if err != nil {
		return err
	}

	for i := range pending {
		function := pending[i]

		prepared, err := r.provisioner.PrepareFunction(ctx, &provisioners.PrepareFunctionRequest{
			Project:     function.Project,
			Version:     function.Version,
			Function:    function.Name,
			DockerImage: function.DockerImage,
			Resources:   function.Resources,
		})
		if err != nil {
			phaseErrors.WithLabelValues("prepare_functions").Inc()
			logger.Error(err, "function preparation failed", "project", function.Project, "version", function.Version, "function", function.Name)

			continue
		}

		status := models.FunctionStatusReady

		update := store.FunctionUpdate{
			Status:   &status,
			Prepared: prepared,
		}

		if err := r.store.Functions().Update(ctx, function.Project, function.Version, function.Name, update); err != nil {
			phaseErrors.WithLabelValues("prepare_functions").Inc()
			logger.Error(err, "function update failed", "project", function.Project, "version", function.Version, "function", function.Name)
		}
	}

	return nil
}

// propagateCancellations stamps cancellation onto invocations whose
// project is being deleted or whose parent has been cancelled.
func (r *Reconciler) propagateCancellations(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	running, err := r.store.Invocations().ListAll(ctx, []models.InvocationStatus{models.InvocationStatusRunning})
	if err != nil {
		return err
	}

	projects, err := r.store.Projects().List(ctx)
	if err != nil {
		return err
	}

	for _, invocation := range ClassifyCancellations(running, projects) {
		update := store.InvocationUpdate{
			SetCancellationRequested: true,
		}

		if err := r.store.Invocations().Update(ctx, invocation.Project, invocation.Version, invocation.Function, invocation.ID, t, update); err != nil {
			phaseErrors.WithLabelValues("propagate_cancellations").Inc()
			logger.Error(err, "cancellation propagation failed", "invocation", invocation.ID)
		}
	}

	return nil
}

// scheduleInvocations creates new execution attempts within each
// function's concurrency budget and terminates invocations that have
// come to rest.
func (r *Reconciler) scheduleInvocations(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	running, err := r.store.Invocations().ListAll(ctx, []models.InvocationStatus{models.InvocationStatusRunning})
	if err != nil {
		return err
	}

	ready, err := r.store.Functions().ListAll(ctx, []models.FunctionStatus{models.FunctionStatusReady})
	if err != nil {
		return err
	}

	buckets := ClassifyRunningInvocations(running, ready, t)

	for i := range buckets.CreateExecution {
		invocation := buckets.CreateExecution[i]

		execution := &models.Execution{
			Project:        invocation.Project,
			Version:        invocation.Version,
			Function:       invocation.Function,
			InvocationID:   invocation.ID,
			ID:             identifier.New(constants.ExecutionPrefix),
			WorkerStatus:   models.WorkerStatusPending,
			CreationTime:   t,
			LastUpdateTime: t,
		}

		if err := r.store.Executions().Create(ctx, execution); err != nil {
			phaseErrors.WithLabelValues("schedule_invocations").Inc()
			logger.Error(err, "execution creation failed", "invocation", invocation.ID)

			continue
		}

		executionsCreated.Inc()

		// Bump the invocation so list consumers see the new attempt.
		if err := r.store.Invocations().Update(ctx, invocation.Project, invocation.Version, invocation.Function, invocation.ID, t, store.InvocationUpdate{}); err != nil {
			phaseErrors.WithLabelValues("schedule_invocations").Inc()
			logger.Error(err, "invocation bump failed", "invocation", invocation.ID)
		}
	}

	for i := range buckets.Terminate {
		invocation := buckets.Terminate[i]

		status := models.InvocationStatusTerminated

		update := store.InvocationUpdate{
			Status: &status,
		}

		if err := r.store.Invocations().Update(ctx, invocation.Project, invocation.Version, invocation.Function, invocation.ID, t, update); err != nil {
			phaseErrors.WithLabelValues("schedule_invocations").Inc()
			logger.Error(err, "invocation termination failed", "invocation", invocation.ID)

			continue
		}

		invocationsTerminated.Inc()
	}

	return nil
}

// provisionWorkers moves PENDING executions through PROVISIONING to
// RUNNING.  PROVISIONING is persisted before the driver call so a crash
// in between leaves a marker the sweep phase can recover; a driver
// failure leaves the same marker and is recovered the same way.
func (r *Reconciler) provisionWorkers(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	pending, err := r.store.Executions().ListAll(ctx, []models.WorkerStatus{models.WorkerStatusPending})
	if err != nil {
		return err
	}

	for i := range pending {
		execution := pending[i]

		function, err := r.store.Functions().Get(ctx, execution.Project, execution.Version, execution.Function)
		if err != nil {
			phaseErrors.WithLabelValues("provision_workers").Inc()
			logger.Error(err, "function lookup failed", "execution", execution.ID)

			continue
		}

		if function.Prepared == nil {
			// Executions are only scheduled against READY functions, so
			// this cannot happen short of store corruption.
			logger.Info("skipping execution of unprepared function", "execution", execution.ID)

			continue
		}

		provisioning := models.WorkerStatusProvisioning

		if err := r.store.Executions().Update(ctx, execution.Project, execution.Version, execution.Function, execution.InvocationID, execution.ID, t, store.ExecutionUpdate{WorkerStatus: &provisioning}); err != nil {
			phaseErrors.WithLabelValues("provision_workers").Inc()
			logger.Error(err, "execution update failed", "execution", execution.ID)

			continue
		}

		details, err := r.provisioner.ProvisionWorker(ctx, &provisioners.ProvisionWorkerRequest{
			Project:      execution.Project,
			Version:      execution.Version,
			Function:     execution.Function,
			InvocationID: execution.InvocationID,
			ExecutionID:  execution.ID,
			Resources:    function.Resources,
			Prepared:     *function.Prepared,
		})
		if err != nil {
			// Left in PROVISIONING for the sweep.
			phaseErrors.WithLabelValues("provision_workers").Inc()
			logger.Error(err, "worker provisioning failed", "execution", execution.ID)

			continue
		}

		running := models.WorkerStatusRunning

		update := store.ExecutionUpdate{
			WorkerStatus:  &running,
			WorkerDetails: details,
		}

		if err := r.store.Executions().Update(ctx, execution.Project, execution.Version, execution.Function, execution.InvocationID, execution.ID, t, update); err != nil {
			phaseErrors.WithLabelValues("provision_workers").Inc()
			logger.Error(err, "execution update failed", "execution", execution.ID)
		}
	}

	return nil
}

// pollWorkers mirrors upstream worker deaths into the store.  A worker
// that terminated without reporting an outcome reads as a failed attempt
// to the scheduler.
func (r *Reconciler) pollWorkers(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	running, err := r.store.Executions().ListAll(ctx, []models.WorkerStatus{models.WorkerStatusRunning})
	if err != nil {
		return err
	}

	for i := range running {
		execution := running[i]

		status, err := r.provisioner.CheckWorkerStatus(ctx, execution.WorkerDetails)
		if err != nil {
			phaseErrors.WithLabelValues("poll_workers").Inc()
			logger.Error(err, "worker status check failed", "execution", execution.ID)

			continue
		}

		if status != models.WorkerStatusTerminated {
			continue
		}

		terminated := models.WorkerStatusTerminated

		update := store.ExecutionUpdate{WorkerStatus: &terminated}

		// A worker that died without reporting a final result never
		// stamped a finish time, so the death is it.
		if execution.FinishTime == nil {
			finished := t
			update.FinishTime = &finished
		}

		if err := r.store.Executions().Update(ctx, execution.Project, execution.Version, execution.Function, execution.InvocationID, execution.ID, t, update); err != nil {
			phaseErrors.WithLabelValues("poll_workers").Inc()
			logger.Error(err, "execution update failed", "execution", execution.ID)
		}
	}

	return nil
}

// signalWorkers sends termination signals to the workers of cancelled or
// timed out invocations.  The signal time is persisted after a
// successful send, so a crash in between re-sends, which the driver
// contract makes harmless.
func (r *Reconciler) signalWorkers(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	executions, err := r.store.Executions().ListAll(ctx, []models.WorkerStatus{models.WorkerStatusRunning})
	if err != nil {
		return err
	}

	running, err := r.store.Invocations().ListAll(ctx, []models.InvocationStatus{models.InvocationStatusRunning})
	if err != nil {
		return err
	}

	ready, err := r.store.Functions().ListAll(ctx, []models.FunctionStatus{models.FunctionStatusReady})
	if err != nil {
		return err
	}

	invocations := make(map[string]models.Invocation, len(running))

	for i := range running {
		invocations[running[i].ID] = running[i].Invocation
	}

	specs := make(map[FunctionRef]models.ExecutionSpec, len(ready))

	for i := range ready {
		specs[FunctionRef{ready[i].Project, ready[i].Version, ready[i].Name}] = ready[i].Execution
	}

	for _, execution := range ClassifyRunningExecutions(executions, invocations, specs, t) {
		if err := r.provisioner.SendTerminationSignal(ctx, execution.WorkerDetails); err != nil {
			phaseErrors.WithLabelValues("signal_workers").Inc()
			logger.Error(err, "termination signal failed", "execution", execution.ID)

			continue
		}

		signalled := t

		if err := r.store.Executions().Update(ctx, execution.Project, execution.Version, execution.Function, execution.InvocationID, execution.ID, t, store.ExecutionUpdate{TerminationSignalTime: &signalled}); err != nil {
			phaseErrors.WithLabelValues("signal_workers").Inc()
			logger.Error(err, "execution update failed", "execution", execution.ID)
		}
	}

	return nil
}

// sweepProvisioning terminates executions stranded in PROVISIONING by a
// crash or driver failure between the PROVISIONING marker and the
// RUNNING record.  They carry no outcome, so they count as failed
// attempts and the scheduler retries within the invocation's budget.
func (r *Reconciler) sweepProvisioning(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	stuck, err := r.store.Executions().ListAll(ctx, []models.WorkerStatus{models.WorkerStatusProvisioning})
	if err != nil {
		return err
	}

	for i := range stuck {
		execution := stuck[i]

		terminated := models.WorkerStatusTerminated
		finished := t

		update := store.ExecutionUpdate{
			WorkerStatus: &terminated,
			FinishTime:   &finished,
		}

		if err := r.store.Executions().Update(ctx, execution.Project, execution.Version, execution.Function, execution.InvocationID, execution.ID, t, update); err != nil {
			phaseErrors.WithLabelValues("sweep_provisioning").Inc()
			logger.Error(err, "execution update failed", "execution", execution.ID)
		}
	}

	return nil
}

// collectProjects cascade deletes projects that were marked for deletion
// and whose invocations have all come to rest.
func (r *Reconciler) collectProjects(ctx context.Context, t time.Time) error {
	logger := log.FromContext(ctx)

	projects, err := r.store.Projects().List(ctx)
	if err != nil {
		return err
	}

	running, err := r.store.Invocations().ListAll(ctx, []models.InvocationStatus{models.InvocationStatusRunning})
	if err != nil {
		return err
	}

	for _, project := range ClassifyDeletableProjects(projects, running) {
		if err := r.store.Projects().DeleteWithCascade(ctx, project.Name); err != nil {
			phaseErrors.WithLabelValues("collect_projects").Inc()
			logger.Error(err, "project deletion failed", "project", project.Name)

			continue
		}

		logger.Info("deleted project", "project", project.Name)
	}

	return nil
}
