package pipeline

import (
	"context"

	"github.com/stevedore-deploy/stevedore/pkg/journal"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// JournalRecordConvention is the finalizer that records the attempt's
// outcome. It runs on success and failure alike so the next invocation
// can decide skip-vs-redeploy; the runner skips it only when the
// already-installed check suppressed the write. A journal failure here
// is fatal, never retried.
type JournalRecordConvention struct {
	journal *journal.Store
	metrics *telemetry.Metrics
}

// NewJournalRecordConvention builds the finalizer.
func NewJournalRecordConvention(store *journal.Store, metrics *telemetry.Metrics) *JournalRecordConvention {
	return &JournalRecordConvention{journal: store, metrics: metrics}
}

func (c *JournalRecordConvention) Name() string { return "journal-record" }

func (c *JournalRecordConvention) Install(ctx context.Context, dctx *DeploymentContext) (Result, error) {
	key, err := journalKeyFromVariables(dctx.Variables)
	if err != nil {
		return Continue, err
	}

	entry := journal.Entry{
		RetentionPolicySet: key.RetentionPolicySet,
		PackageID:          key.PackageID,
		Version:            key.Version,
		WasSuccessful:      dctx.Succeeded(),
		ExtractedTo:        dctx.Variables.GetOrDefault(VarInstallationDirectoryPath, ""),
	}

	c.metrics.JournalWrite()
	if err := c.journal.Record(ctx, entry); err != nil {
		return Continue, err
	}

	dctx.Log.WithPackage(key.PackageID, key.Version.String()).
		Debugf("journal entry recorded (successful=%t)", entry.WasSuccessful)
	return Continue, nil
}
