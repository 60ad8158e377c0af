package pipeline

import (
	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/servicemessages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// DeploymentContext is the shared mutable state of one pipeline run. It
// is built per invocation and discarded when the run ends; nothing in
// it is persisted (that is the journal's job).
type DeploymentContext struct {
	Variables        *Variables
	WorkingDirectory string

	// PackageFile is set once a convention has materialized the
	// package from the cache or a feed.
	PackageFile *packages.PackageFile

	Emitter *servicemessages.Emitter
	Log     *telemetry.Logger

	// suppressJournal is set by the already-installed short-circuit:
	// the previous outcome stands, so the final journal write is
	// skipped for this run.
	suppressJournal bool

	// failed is set by the runner before the finalizers execute, so
	// the journal write records the attempt's true outcome.
	failed bool
}

// NewDeploymentContext builds a context for one run.
func NewDeploymentContext(vars *Variables, workingDir string, emitter *servicemessages.Emitter, logger *telemetry.Logger) *DeploymentContext {
	if vars == nil {
		vars = NewVariables()
	}
	return &DeploymentContext{
		Variables:        vars,
		WorkingDirectory: workingDir,
		Emitter:          emitter,
		Log:              logger,
	}
}

// SetOutputVariable records an output variable locally and emits it to
// the orchestrator.
func (c *DeploymentContext) SetOutputVariable(name, value string) error {
	c.Variables.Set(name, value)
	return c.Emitter.SetVariable(name, value, false)
}

// SetSensitiveOutputVariable emits a sensitive output variable for the
// orchestrator's masking without writing it back into the local
// variable map.
func (c *DeploymentContext) SetSensitiveOutputVariable(name, value string) error {
	return c.Emitter.SetVariable(name, value, true)
}

// SuppressJournal marks the run as not needing a journal write.
func (c *DeploymentContext) SuppressJournal() {
	c.suppressJournal = true
}

// JournalSuppressed reports whether the final journal write was
// suppressed.
func (c *DeploymentContext) JournalSuppressed() bool {
	return c.suppressJournal
}

// MarkFailed records that the main convention list aborted.
func (c *DeploymentContext) MarkFailed() {
	c.failed = true
}

// Succeeded reports whether the run completed without aborting.
func (c *DeploymentContext) Succeeded() bool {
	return !c.failed
}
