package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/servicemessages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// stubConvention scripts one step's outcome and records whether it ran.
type stubConvention struct {
	name   string
	result Result
	err    error

	ran bool
}

func (s *stubConvention) Name() string { return s.name }

func (s *stubConvention) Install(context.Context, *DeploymentContext) (Result, error) {
	s.ran = true
	return s.result, s.err
}

func newTestContext(t *testing.T) *DeploymentContext {
	t.Helper()
	emitter := servicemessages.NewEmitter(&bytes.Buffer{})
	return NewDeploymentContext(NewVariables(), t.TempDir(), emitter, telemetry.Nop())
}

func newTestRunner(conventions, finalizers []Convention) *Runner {
	return NewRunner(conventions, finalizers,
		telemetry.NewMetrics(telemetry.MetricsConfig{}), telemetry.Nop())
}

func TestRunnerRunsAllConventionsInOrder(t *testing.T) {
	a := &stubConvention{name: "a"}
	b := &stubConvention{name: "b"}
	fin := &stubConvention{name: "fin"}
	runner := newTestRunner([]Convention{a, b}, []Convention{fin})

	dctx := newTestContext(t)
	if err := runner.Run(context.Background(), dctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !a.ran || !b.ran || !fin.ran {
		t.Errorf("ran = %t %t %t, want every step and the finalizer", a.ran, b.ran, fin.ran)
	}
	if runner.Status() != StatusCompleted {
		t.Errorf("status = %s, want completed", runner.Status())
	}
	if !dctx.Succeeded() {
		t.Error("a completed run must report success")
	}
}

func TestRunnerSkipRemainingStopsMainListButRunsFinalizers(t *testing.T) {
	first := &stubConvention{name: "first", result: SkipRemaining}
	second := &stubConvention{name: "second"}
	fin := &stubConvention{name: "fin"}
	runner := newTestRunner([]Convention{first, second}, []Convention{fin})

	dctx := newTestContext(t)
	if err := runner.Run(context.Background(), dctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if second.ran {
		t.Error("conventions after a skip-remaining must not execute")
	}
	if !fin.ran {
		t.Error("a skipped run is still reported to the finalizers")
	}
	if runner.Status() != StatusSkipped {
		t.Errorf("status = %s, want skipped", runner.Status())
	}
}

func TestRunnerAbortPropagatesAndStillRecords(t *testing.T) {
	boom := errors.New("disk exploded")
	first := &stubConvention{name: "first", err: boom}
	second := &stubConvention{name: "second"}
	fin := &stubConvention{name: "fin"}
	runner := newTestRunner([]Convention{first, second}, []Convention{fin})

	dctx := newTestContext(t)
	err := runner.Run(context.Background(), dctx)
	if err == nil {
		t.Fatal("expected the convention failure to propagate")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the cause", err)
	}
	if packages.KindOf(err) != packages.KindConventionFailure {
		t.Errorf("kind = %v, want convention-failure", packages.KindOf(err))
	}
	if second.ran {
		t.Error("conventions after an abort must not execute")
	}
	if !fin.ran {
		t.Error("the journal finalizer must run on the failure path")
	}
	if runner.Status() != StatusAborted {
		t.Errorf("status = %s, want aborted", runner.Status())
	}
	if dctx.Succeeded() {
		t.Error("an aborted run must report failure to the finalizers")
	}
}

func TestRunnerClassifiedErrorKeepsItsKind(t *testing.T) {
	exhausted := packages.NewError(packages.KindDownloadExhausted, "all attempts failed", nil)
	step := &stubConvention{name: "fetch", err: exhausted}
	runner := newTestRunner([]Convention{step}, nil)

	err := runner.Run(context.Background(), newTestContext(t))
	if packages.KindOf(err) != packages.KindDownloadExhausted {
		t.Errorf("kind = %v, an already classified error must not be rewrapped", packages.KindOf(err))
	}
}

func TestRunnerSuppressedJournalSkipsFinalizers(t *testing.T) {
	suppress := &stubConvention{name: "check", result: SkipRemaining}
	fin := &stubConvention{name: "fin"}
	runner := newTestRunner([]Convention{suppressing{suppress}}, []Convention{fin})

	dctx := newTestContext(t)
	if err := runner.Run(context.Background(), dctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fin.ran {
		t.Error("a suppressed journal write must not run the finalizers")
	}
}

// suppressing wraps a convention and suppresses the journal before
// delegating, mimicking the already-installed short-circuit.
type suppressing struct{ inner Convention }

func (s suppressing) Name() string { return s.inner.Name() }

func (s suppressing) Install(ctx context.Context, dctx *DeploymentContext) (Result, error) {
	dctx.SuppressJournal()
	return s.inner.Install(ctx, dctx)
}

func TestRunnerFinalizerFailureSurfacesOnSuccessPath(t *testing.T) {
	boom := errors.New("journal write failed")
	step := &stubConvention{name: "work"}
	fin := &stubConvention{name: "fin", err: boom}
	runner := newTestRunner([]Convention{step}, []Convention{fin})

	err := runner.Run(context.Background(), newTestContext(t))
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("err = %v, a finalizer failure after a clean run must propagate", err)
	}
	if runner.Status() != StatusAborted {
		t.Errorf("status = %s, want aborted", runner.Status())
	}
}
