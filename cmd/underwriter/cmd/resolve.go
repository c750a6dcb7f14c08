package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/commissiontracker/underwriter/internal/core/api"
	"github.com/commissiontracker/underwriter/internal/core/store"
	"github.com/commissiontracker/underwriter/internal/importer"
	"github.com/commissiontracker/underwriter/internal/rules"
	"github.com/commissiontracker/underwriter/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve applicant facts against rule sets",
	Long: `Resolve evaluates a fact file against rule sets and prints the outcome with
the matched and skipped rules. Rule sets come from --rules (YAML or JSON, same
layout as import) or, with --carrier, from the database.`,
	Args: cobra.NoArgs,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().String("rules", "", "rule set file (YAML or JSON)")
	resolveCmd.Flags().String("facts", "", "fact set JSON file, - for stdin")
	resolveCmd.Flags().String("policy", "", "resolution policy (first_match, most_severe)")
	resolveCmd.Flags().String("carrier", "", "carrier ID for database lookup")
	resolveCmd.Flags().String("product", "", "product ID for database lookup")
	resolveCmd.MarkFlagRequired("facts")
	resolveCmd.MarkFlagsMutuallyExclusive("rules", "carrier")
	resolveCmd.MarkFlagsOneRequired("rules", "carrier")
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()

	rulesPath, _ := cmd.Flags().GetString("rules")
	factsPath, _ := cmd.Flags().GetString("facts")
	carrier, _ := cmd.Flags().GetString("carrier")
	product, _ := cmd.Flags().GetString("product")

	policyName := a.cfg.Engine.Policy
	if cmd.Flags().Changed("policy") {
		policyName, _ = cmd.Flags().GetString("policy")
	}
	policy, err := rules.ParsePolicy(policyName)
	if err != nil {
		return err
	}

	raw, err := readInput(cmd, factsPath)
	if err != nil {
		return err
	}
	var facts types.FactSet
	if err := json.Unmarshal(raw, &facts); err != nil {
		return fmt.Errorf("failed to parse facts: %w", err)
	}

	req := &api.ResolveRequest{CarrierID: carrier, ProductID: product, Facts: facts}
	var source api.RuleSetSource
	if rulesPath != "" {
		if req.RuleSets, err = importer.ParseFile(rulesPath); err != nil {
			return err
		}
	} else {
		database, err := a.openDB(ctx)
		if err != nil {
			return err
		}
		defer database.Close()
		st, err := store.New(database, a.fields)
		if err != nil {
			return err
		}
		source = st
	}

	engine := rules.NewEngine(a.fields, rules.WithLogger(a.logger), rules.WithPolicy(policy))
	svc, err := api.NewService(engine, a.fields, source, a.cfg.Engine.DefaultOutcome, nil, a.logger)
	if err != nil {
		return err
	}
	resp, err := svc.Resolve(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), resp)
}
