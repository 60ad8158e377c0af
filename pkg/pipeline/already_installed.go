package pipeline

import (
	"context"
	"fmt"

	"github.com/stevedore-deploy/stevedore/pkg/journal"
	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// AlreadyInstalledConvention short-circuits a redeploy of a package
// that previously deployed successfully under the same journal key. A
// prior failed attempt is redeployed, not skipped.
type AlreadyInstalledConvention struct {
	journal *journal.Store
	metrics *telemetry.Metrics
}

// NewAlreadyInstalledConvention builds the check over the given journal.
func NewAlreadyInstalledConvention(store *journal.Store, metrics *telemetry.Metrics) *AlreadyInstalledConvention {
	return &AlreadyInstalledConvention{journal: store, metrics: metrics}
}

func (c *AlreadyInstalledConvention) Name() string { return "already-installed" }

func (c *AlreadyInstalledConvention) Install(ctx context.Context, dctx *DeploymentContext) (Result, error) {
	if !dctx.Variables.IsSet(VarSkipIfAlreadyInstalled) {
		return Continue, nil
	}

	key, err := journalKeyFromVariables(dctx.Variables)
	if err != nil {
		return Continue, err
	}

	c.metrics.JournalRead()
	entry, err := c.journal.GetLatestInstallation(ctx, key.RetentionPolicySet, key.PackageID, key.Version)
	if err != nil {
		return Continue, err
	}
	log := dctx.Log.WithPackage(key.PackageID, key.Version.String())

	switch {
	case entry == nil:
		log.Debug("no previous installation recorded")
		return Continue, nil

	case !entry.WasSuccessful:
		log.Info("previous deployment failed, re-deploying")
		return Continue, nil

	default:
		log.Infof("package already installed at %s, skipping", entry.ExtractedTo)
		if err := dctx.SetOutputVariable(VarInstallationDirectoryPath, entry.ExtractedTo); err != nil {
			return Continue, err
		}
		if err := dctx.SetOutputVariable(VarOriginalPackageDirectoryPath, entry.ExtractedTo); err != nil {
			return Continue, err
		}
		// The previous outcome stands: no new journal entry.
		dctx.SuppressJournal()
		return SkipRemaining, nil
	}
}

// journalKeyFromVariables builds the journal key from the run's
// variables.
func journalKeyFromVariables(vars *Variables) (journal.Key, error) {
	packageID, ok := vars.Get(VarPackageID)
	if !ok || packageID == "" {
		return journal.Key{}, fmt.Errorf("variable %s is not set", VarPackageID)
	}
	rawVersion, ok := vars.Get(VarPackageVersion)
	if !ok || rawVersion == "" {
		return journal.Key{}, fmt.Errorf("variable %s is not set", VarPackageVersion)
	}
	version, err := names.ParseVersion(rawVersion)
	if err != nil {
		return journal.Key{}, fmt.Errorf("variable %s: %w", VarPackageVersion, err)
	}
	return journal.Key{
		RetentionPolicySet: vars.GetOrDefault(VarRetentionPolicySet, "default"),
		PackageID:          packageID,
		Version:            version,
	}, nil
}
