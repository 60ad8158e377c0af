package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// Result is a convention's verdict on how the run proceeds.
type Result int

const (
	// Continue hands control to the next convention.
	Continue Result = iota

	// SkipRemaining ends the run successfully without executing the
	// remaining conventions.
	SkipRemaining
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case SkipRemaining:
		return "skip-remaining"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Convention is one ordered deployment step. Returning an error aborts
// the run; the error propagates after the finalizers have observed the
// failure.
type Convention interface {
	Name() string
	Install(ctx context.Context, dctx *DeploymentContext) (Result, error)
}

// Status is the runner's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusAborted   Status = "aborted"
)

// Runner executes an ordered convention list against one deployment
// context, then its finalizers. Finalizers run on success, skip and
// abort alike (the journal write lives there so a failed run is still
// recorded) unless the context suppressed them.
type Runner struct {
	conventions []Convention
	finalizers  []Convention

	metrics *telemetry.Metrics
	log     *telemetry.Logger

	status Status
}

// NewRunner builds a runner over the given convention lists.
func NewRunner(conventions, finalizers []Convention, metrics *telemetry.Metrics, logger *telemetry.Logger) *Runner {
	return &Runner{
		conventions: conventions,
		finalizers:  finalizers,
		metrics:     metrics,
		log:         logger.NewComponentLogger("pipeline"),
		status:      StatusPending,
	}
}

// Status returns the runner's current state.
func (r *Runner) Status() Status {
	return r.status
}

// Run drives the state machine. The returned error is the aborting
// convention's failure, classified as a ConventionFailure; finalizer
// failures surface only when the main run succeeded.
func (r *Runner) Run(ctx context.Context, dctx *DeploymentContext) error {
	r.status = StatusRunning

	runErr := r.runList(ctx, dctx, r.conventions)

	switch {
	case runErr != nil:
		r.status = StatusAborted
		dctx.MarkFailed()
		dctx.Log.WithError(runErr).Error("deployment aborted")
	case r.status == StatusRunning:
		r.status = StatusCompleted
	}

	if !dctx.JournalSuppressed() {
		finErr := r.runList(ctx, dctx, r.finalizers)
		if finErr != nil {
			if runErr == nil {
				r.status = StatusAborted
				return finErr
			}
			dctx.Log.WithError(finErr).Error("finalizer failed after aborted run")
		}
	}

	return runErr
}

// runList executes conventions in order, honoring skip-remaining before
// each step.
func (r *Runner) runList(ctx context.Context, dctx *DeploymentContext, list []Convention) error {
	for _, convention := range list {
		log := dctx.Log.WithConvention(convention.Name())
		log.Debug("running convention")

		start := time.Now()
		result, err := convention.Install(ctx, dctx)
		r.metrics.ObserveConvention(convention.Name(), time.Since(start))

		if err != nil {
			if packages.KindOf(err) == "" {
				err = packages.NewError(packages.KindConventionFailure,
					fmt.Sprintf("convention %s failed", convention.Name()), err)
			}
			return err
		}

		if result == SkipRemaining {
			log.Info("skipping remaining conventions")
			r.status = StatusSkipped
			return nil
		}
	}
	return nil
}
