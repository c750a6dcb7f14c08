package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/commissiontracker/underwriter/internal/core/api"
	"github.com/commissiontracker/underwriter/internal/rules"
)

var validateCmd = &cobra.Command{
	Use:   "validate <predicate.json>",
	Short: "Validate a predicate document against the field registry",
	Long:  `Validate reads a predicate document ("-" for stdin), prints every validation error as JSON and exits non-zero when the predicate is invalid.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	raw, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}

	svc, err := api.NewService(rules.NewEngine(a.fields), a.fields, nil, a.cfg.Engine.DefaultOutcome, nil, a.logger)
	if err != nil {
		return err
	}
	resp, err := svc.ValidatePredicate(cmd.Context(), &api.ValidateRequest{Predicate: raw})
	if err != nil {
		return err
	}

	if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if !resp.Valid {
		return fmt.Errorf("predicate has %d validation error(s)", len(resp.Errors))
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
