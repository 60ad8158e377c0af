package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevedore-deploy/stevedore/pkg/pipeline"
)

func newDeployPackageCommand() *cobra.Command {
	var (
		packageID      string
		packageVersion string
		feedID         string
		variables      []string
		force          bool
		maxAttempts    int
		backoff        time.Duration
		workingDir     string
		operation      string
		skipInstalled  bool
	)

	cmd := &cobra.Command{
		Use:   "deploy-package",
		Short: "Run the full deployment pipeline for one package",
		Long: `Runs the convention pipeline for the requested operation: checks the
installation journal, materializes the package from the cache or feed,
extracts it into the working directory and records the outcome.`,
		Example: `  # Deploy a package from a configured feed
  stevedore deploy-package --package-id Acme.Web --package-version 1.2.0 \
      --feed-id feeds-myget --working-dir /opt/deployments/acme

  # Skip when the same version already deployed successfully
  stevedore deploy-package --package-id Acme.Web --package-version 1.2.0 \
      --feed-id feeds-myget --working-dir /opt/deployments/acme \
      --skip-if-already-installed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			vars, err := parseVariables(variables)
			if err != nil {
				return err
			}
			vars.Set(pipeline.VarPackageID, packageID)
			vars.Set(pipeline.VarPackageVersion, packageVersion)
			vars.Set(pipeline.VarFeedID, feedID)
			if skipInstalled {
				vars.Set(pipeline.VarSkipIfAlreadyInstalled, "True")
			}

			if maxAttempts == 0 {
				maxAttempts = rt.cfg.Retry.MaxAttempts
			}
			if backoff == 0 {
				backoff = rt.cfg.Retry.Backoff.Std()
			}

			conventions, finalizers, err := pipeline.ConventionsFor(operation, pipeline.OperationDeps{
				Journal:  rt.journal,
				Resolver: rt.resolver,
				Fetchers: rt.fetcherFactory(),
				Metrics:  rt.metrics,
				Extract: pipeline.ExtractOptions{
					ForceDownload: force,
					MaxAttempts:   maxAttempts,
					Backoff:       backoff,
				},
			})
			if err != nil {
				return err
			}

			if workingDir == "" {
				workingDir, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to determine working directory: %w", err)
				}
			}

			dctx := pipeline.NewDeploymentContext(vars, workingDir, rt.emitter, rt.log)
			runner := pipeline.NewRunner(conventions, finalizers, rt.metrics, rt.log)
			return runner.Run(cmd.Context(), dctx)
		},
	}

	cmd.Flags().StringVar(&packageID, "package-id", "", "package identifier")
	cmd.Flags().StringVar(&packageVersion, "package-version", "", "package version")
	cmd.Flags().StringVar(&feedID, "feed-id", "", "configured feed to acquire from")
	cmd.Flags().StringArrayVar(&variables, "variable", nil, "deployment variable key=value (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the package cache")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "download attempts (default from config)")
	cmd.Flags().DurationVar(&backoff, "backoff", 0, "sleep between download attempts (default from config)")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "deployment working directory (default: cwd)")
	cmd.Flags().StringVar(&operation, "operation", "deploy-package", "registered operation to run")
	cmd.Flags().BoolVar(&skipInstalled, "skip-if-already-installed", false, "skip when this version already deployed successfully")

	_ = cmd.MarkFlagRequired("package-id")
	_ = cmd.MarkFlagRequired("package-version")
	_ = cmd.MarkFlagRequired("feed-id")

	return cmd
}
