package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stevedore-deploy/stevedore/pkg/names"
)

func newJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the installation journal",
	}
	cmd.AddCommand(newJournalLatestCommand())
	return cmd
}

func newJournalLatestCommand() *cobra.Command {
	var (
		packageID      string
		packageVersion string
		policySet      string
	)

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest journal entry for a package key",
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

			rt.metrics.JournalRead()
			entry, err := rt.journal.GetLatestInstallation(cmd.Context(), policySet, packageID, version)
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no journal entry for (%s, %s, %s)", policySet, packageID, version)
			}

			// The entry goes to stderr with the logs: stdout stays
			// reserved for service messages.
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	}

	cmd.Flags().StringVar(&packageID, "package-id", "", "package identifier")
	cmd.Flags().StringVar(&packageVersion, "package-version", "", "package version")
	cmd.Flags().StringVar(&policySet, "policy-set", "default", "retention policy set the key is scoped to")

	_ = cmd.MarkFlagRequired("package-id")
	_ = cmd.MarkFlagRequired("package-version")

	return cmd
}
