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

package reconciler

import (
	"sort"
	"time"

	"github.com/eschercloudai/runcorn/pkg/models"
)

// The classifiers are pure functions over in-memory snapshots: they
// never touch the store or the provisioner, which keeps every scheduling
// decision unit testable in isolation.  Each returns a partition of its
// input into action buckets; anything not bucketed is left alone this
// tick.

// FunctionRef names a function across the whole store.
type FunctionRef struct {
	Project string
	Version string
	Name    string
}

// Ref returns the function reference of an invocation.
func invocationFunctionRef(invocation *models.Invocation) FunctionRef {
	return FunctionRef{
		Project: invocation.Project,
		Version: invocation.Version,
		Name:    invocation.Function,
	}
}

// executionFunctionRef returns the function reference of an execution.
func executionFunctionRef(execution *models.Execution) FunctionRef {
	return FunctionRef{
		Project: execution.Project,
		Version: execution.Version,
		Name:    execution.Function,
	}
}

// ClassifyRunningExecutions selects the RUNNING executions whose workers
// must be sent a termination signal: the owning invocation asked for
// cancellation, or it has outrun its timeout budget.  Executions already
// signalled are left alone, so the signal is sent at most once.
func ClassifyRunningExecutions(executions []models.Execution, invocations map[string]models.Invocation, specs map[FunctionRef]models.ExecutionSpec, t time.Time) []models.Execution {
	var signal []models.Execution

	for i := range executions {
		execution := executions[i]

		if execution.TerminationSignalTime != nil {
			continue
		}

		invocation, ok := invocations[execution.InvocationID]
		if !ok {
			continue
		}

		spec, ok := specs[executionFunctionRef(&execution)]
		if !ok {
			continue
		}

		if invocation.Cancelled() || invocation.TimedOut(spec, t) {
			signal = append(signal, execution)
		}
	}

	return signal
}

// ClassifyCancellations selects the RUNNING invocations whose
// cancellation request time must be stamped: their project is marked for
// deletion, or their parent has been cancelled.  Invocations are
// processed in creation time order, oldest first, and cancellations made
// during the pass are visible to later invocations, so a cancellation at
// the top of a parent/child chain propagates all the way down in a
// single tick rather than one generation per tick.
func ClassifyCancellations(invocations []models.InvocationWithExecutions, projects []models.Project) []models.Invocation {
	deletingProjects := map[string]bool{}

	for i := range projects {
		if projects[i].Deleting() {
			deletingProjects[projects[i].Name] = true
		}
	}

	type parentKey struct {
		project  string
		version  string
		function string
		id       string
	}

	cancelled := map[parentKey]bool{}

	byAge := make([]*models.Invocation, len(invocations))

	for i := range invocations {
		byAge[i] = &invocations[i].Invocation
	}

	sort.SliceStable(byAge, func(i, j int) bool {
		return byAge[i].CreationTime.Before(byAge[j].CreationTime)
	})

	keyOf := func(invocation *models.Invocation) parentKey {
		return parentKey{invocation.Project, invocation.Version, invocation.Function, invocation.ID}
	}

	var cancel []models.Invocation

	for _, invocation := range byAge {
		if invocation.Cancelled() {
			cancelled[keyOf(invocation)] = true

			continue
		}

		if deletingProjects[invocation.Project] {
			cancelled[keyOf(invocation)] = true
			cancel = append(cancel, *invocation)

			continue
		}

		if invocation.Parent == nil {
			continue
		}

		parent := parentKey{invocation.Project, invocation.Version, invocation.Parent.FunctionName, invocation.Parent.InvocationID}

		if cancelled[parent] {
			cancelled[keyOf(invocation)] = true
			cancel = append(cancel, *invocation)
		}
	}

	return cancel
}

// InvocationBuckets partitions RUNNING invocations into the actions the
// reconciler takes this tick.
type InvocationBuckets struct {
	// CreateExecution invocations get a fresh attempt.
	CreateExecution []models.InvocationWithExecutions

	// Terminate invocations have come to rest and flip to TERMINATED.
	Terminate []models.InvocationWithExecutions
}

// ClassifyRunningInvocations decides, per RUNNING invocation, whether to
// leave it, terminate it, or spawn a new execution.  Concurrency is
// accounted per function: the remaining capacity starts from the READY
// function's limit minus invocations already holding a live execution,
// and is decremented as new executions are granted, so a single pass
// never over-subscribes a function.  Iteration order over the input is
// the tie-break when capacity is scarce; losers are reconsidered next
// tick.
//
//nolint:cyclop
func ClassifyRunningInvocations(invocations []models.InvocationWithExecutions, readyFunctions []models.Function, t time.Time) InvocationBuckets {
	capacity := map[FunctionRef]int{}
	specs := map[FunctionRef]models.ExecutionSpec{}

	for i := range readyFunctions {
		function := readyFunctions[i]
		ref := FunctionRef{function.Project, function.Version, function.Name}

		capacity[ref] = function.Resources.MaxConcurrency
		specs[ref] = function.Execution
	}

	for i := range invocations {
		if invocations[i].Live() {
			capacity[invocationFunctionRef(&invocations[i].Invocation)]--
		}
	}

	var buckets InvocationBuckets

	for i := range invocations {
		invocation := invocations[i]
		ref := invocationFunctionRef(&invocation.Invocation)

		// Function not READY yet: nothing to do until it is.
		spec, ready := specs[ref]
		if !ready {
			continue
		}

		// Work in progress: wait for it to come to rest.
		if invocation.Live() {
			continue
		}

		if hasTerminalOutcome(invocation.Executions) {
			buckets.Terminate = append(buckets.Terminate, invocation)

			continue
		}

		retriesExhausted := len(invocation.Executions) >= spec.MaxRetries+1

		if invocation.Cancelled() || invocation.TimedOut(spec, t) || retriesExhausted {
			buckets.Terminate = append(buckets.Terminate, invocation)

			continue
		}

		if capacity[ref] >= 1 {
			capacity[ref]--
			buckets.CreateExecution = append(buckets.CreateExecution, invocation)
		}
	}

	return buckets
}

// hasTerminalOutcome reports whether any attempt succeeded or aborted,
// either of which settles the invocation.  FAILED attempts and workers
// that died without an outcome are retryable and don't count.
func hasTerminalOutcome(executions []models.Execution) bool {
	for i := range executions {
		if executions[i].Outcome == nil {
			continue
		}

		if *executions[i].Outcome == models.ExecutionOutcomeSucceeded || *executions[i].Outcome == models.ExecutionOutcomeAborted {
			return true
		}
	}

	return false
}

// ClassifyDeletableProjects selects the projects that are marked for
// deletion and no longer named by any RUNNING invocation, which makes
// them safe to cascade delete.
func ClassifyDeletableProjects(projects []models.Project, running []models.InvocationWithExecutions) []models.Project {
	pinned := map[string]bool{}

	for i := range running {
		pinned[running[i].Project] = true
	}

	var deletable []models.Project

	for i := range projects {
		if projects[i].Deleting() && !pinned[projects[i].Name] {
			deletable = append(deletable, projects[i])
		}
	}

	return deletable
}
