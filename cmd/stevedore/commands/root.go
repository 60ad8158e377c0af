package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stevedore-deploy/stevedore/pkg/config"
	"github.com/stevedore-deploy/stevedore/pkg/feeds"
	"github.com/stevedore-deploy/stevedore/pkg/journal"
	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/pipeline"
	"github.com/stevedore-deploy/stevedore/pkg/servicemessages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stevedore",
		Short: "Stevedore - deployment execution agent",
		Long: `Stevedore runs one deployment step per invocation: it acquires a
package from a configured feed (reusing the local cache when it can),
extracts it into the working directory, and records the outcome in the
installation journal so a later invocation can skip or redeploy.

Structured progress is reported to the orchestrator over stdout using
the ##octopus[...] service-message protocol; logs go to stderr.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/stevedore/stevedore.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newDeployPackageCommand())
	rootCmd.AddCommand(newDownloadPackageCommand())
	rootCmd.AddCommand(newJournalCommand())

	return rootCmd
}

// runtime bundles the collaborators every command wires up from the
// configuration file.
type runtime struct {
	cfg      *config.Config
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	journal  *journal.Store
	resolver *packages.Resolver
	emitter  *servicemessages.Emitter
}

// newRuntime loads the configuration and builds the shared
// collaborators. Close flushes the metrics snapshot and releases the
// journal.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	metrics := telemetry.NewMetrics(cfg.Metrics)

	store, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, err
	}

	cache := packages.NewCache(cfg.Cache.Root, logger)
	resolver := packages.NewResolver(cache, metrics, logger)
	resolver.SetMinFreeBytes(cfg.Cache.MinFreeBytes)

	return &runtime{
		cfg:      cfg,
		log:      logger,
		metrics:  metrics,
		journal:  store,
		resolver: resolver,
		emitter:  servicemessages.NewEmitter(os.Stdout),
	}, nil
}

func (r *runtime) Close() {
	if err := r.metrics.WriteTextfile(); err != nil {
		r.log.WithError(err).Warn("failed to write metrics snapshot")
	}
	if err := r.journal.Close(); err != nil {
		r.log.WithError(err).Warn("failed to close journal")
	}
}

// fetcherFactory builds feed fetchers from the configured definitions.
func (r *runtime) fetcherFactory() pipeline.FetcherFactory {
	return func(feedID string) (packages.Fetcher, error) {
		def, err := r.cfg.FeedByID(feedID)
		if err != nil {
			return nil, err
		}
		return feeds.New(def, r.log)
	}
}

// parseVariables turns repeated --variable k=v flags into the run's
// variable map.
func parseVariables(pairs []string) (*pipeline.Variables, error) {
	vars := pipeline.NewVariables()
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}
		vars.Set(key, value)
	}
	return vars, nil
}
