// Package flowcraft provides a top-level convenience entry point for running
// workflows with minimal boilerplate.
//
// Usage:
//
//	import flowcraft "github.com/VitalyOstanin/flowcraft-sub000"
//
//	outcome, err := flowcraft.Run(ctx, "review.yaml", "review the auth changes",
//	    flowcraft.WithProvider(myProvider))
//	outcome, err := flowcraft.Run(ctx, "review.yaml", "review the auth changes",
//	    flowcraft.WithScript("analysis done", "STAGE COMPLETE"))
//
// This is a thin wrapper around [quick.Run]; both produce identical results.
// Use this package when you prefer the shorter import path.
package flowcraft

import (
	"context"

	"github.com/VitalyOstanin/flowcraft-sub000/quick"
	"github.com/VitalyOstanin/flowcraft-sub000/workflow"
)

// Option configures the engine built by [New] and [Run].
type Option = quick.Option

// Outcome is the result of a run: either a final [workflow.Result] or a
// [workflow.Suspension] waiting for human input.
type Outcome = workflow.Outcome

// New creates a [workflow.Engine] with minimal configuration.
// At minimum, a provider must be specified via [WithProvider] or [WithScript].
func New(opts ...Option) (*workflow.Engine, error) {
	return quick.NewEngine(opts...)
}

// Run loads a workflow definition from a YAML file and executes it against the
// given task. A suspended run is reported via [Outcome.Suspended]; resume it
// through the engine returned by [New] when driving the loop yourself.
func Run(ctx context.Context, workflowFile, task string, opts ...Option) (*workflow.Outcome, error) {
	return quick.Run(ctx, workflowFile, task, opts...)
}

// Re-export engine options so callers never need to import quick/.

// WithProvider sets a pre-built model provider.
var WithProvider = quick.WithProvider

// WithScript uses a scripted provider that replays the given responses in order.
var WithScript = quick.WithScript

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithEmitter registers an event emitter for run progress.
var WithEmitter = quick.WithEmitter

// WithHistory sets the run-history store.
var WithHistory = quick.WithHistory

// WithPendingStore sets the store for suspended runs.
var WithPendingStore = quick.WithPendingStore

// WithTools attaches a tool manager.
var WithTools = quick.WithTools

// WithModels applies model selection config, including per-role overrides.
var WithModels = quick.WithModels

// WithEngineOptions passes raw [workflow.Option] values through to the engine.
var WithEngineOptions = quick.WithEngineOptions
