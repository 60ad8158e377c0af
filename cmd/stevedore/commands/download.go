package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/packages"
)

func newDownloadPackageCommand() *cobra.Command {
	var (
		packageID      string
		packageVersion string
		feedID         string
		force          bool
		maxAttempts    int
		backoff        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "download-package",
		Short: "Resolve a package into the local cache without deploying",
		Long: `Materializes a package from the cache or the configured feed and
prints where it landed. Useful for pre-warming a cache or verifying
feed credentials without running a deployment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			version, err := names.ParseVersion(packageVersion)
			if err != nil {
				return fmt.Errorf("invalid package version: %w", err)
			}
			fetcher, err := rt.fetcherFactory()(feedID)
			if err != nil {
				return err
			}

			if maxAttempts == 0 {
				maxAttempts = rt.cfg.Retry.MaxAttempts
			}
			if backoff == 0 {
				backoff = rt.cfg.Retry.Backoff.Std()
			}

			var lastPercent int
			pf, err := rt.resolver.Resolve(cmd.Context(), packages.ResolveRequest{
				PackageID:     packageID,
				Version:       version,
				FeedID:        feedID,
				ForceDownload: force,
				MaxAttempts:   maxAttempts,
				Backoff:       backoff,
				Progress: func(transferred, total int64) {
					if total <= 0 {
						return
					}
					percent := int(transferred * 100 / total)
					if percent == lastPercent {
						return
					}
					lastPercent = percent
					_ = rt.emitter.Progress(percent, fmt.Sprintf("Downloading %s %s", packageID, version))
				},
			}, fetcher)
			if err != nil {
				return err
			}

			rt.log.WithPackage(packageID, version.String()).
				Infof("package resolved to %s (sha256=%s, %d bytes)", pf.Path, pf.Hash, pf.Size)
			return rt.emitter.CreateArtifact(pf.Path, pf.Identity.PackageID, pf.Size)
		},
	}

	cmd.Flags().StringVar(&packageID, "package-id", "", "package identifier")
	cmd.Flags().StringVar(&packageVersion, "package-version", "", "package version")
	cmd.Flags().StringVar(&feedID, "feed-id", "", "configured feed to acquire from")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the package cache")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "download attempts (default from config)")
	cmd.Flags().DurationVar(&backoff, "backoff", 0, "sleep between download attempts (default from config)")

	_ = cmd.MarkFlagRequired("package-id")
	_ = cmd.MarkFlagRequired("package-version")
	_ = cmd.MarkFlagRequired("feed-id")

	return cmd
}
