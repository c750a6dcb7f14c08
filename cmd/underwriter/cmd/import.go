package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/commissiontracker/underwriter/internal/core/store"
	"github.com/commissiontracker/underwriter/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <rules.yaml>",
	Short: "Validate and store rule sets from a YAML or JSON file",
	Long: `Import validates every rule set in the file and stores them. Rule sets whose
rules omit priorities are numbered declines first, then most specific first.
Nothing is written when any rule fails validation.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Bool("dry-run", false, "validate only, write nothing")
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()

	sets, err := importer.ParseFile(args[0])
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		if err := importer.New(nil, a.fields, a.logger).Validate(sets); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rule set(s) valid\n", len(sets))
		return nil
	}

	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	st, err := store.New(database, a.fields)
	if err != nil {
		return err
	}
	sum, err := importer.New(st, a.fields, a.logger).Import(ctx, sets)
	if err != nil {
		return err
	}

	for _, id := range sum.RuleSets {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d rule set(s), %d rule(s)\n", len(sum.RuleSets), sum.Rules)
	return nil
}
