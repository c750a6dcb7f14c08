package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/commissiontracker/underwriter/internal/core/auth"
	"github.com/commissiontracker/underwriter/internal/core/config"
	"github.com/commissiontracker/underwriter/internal/core/store"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key for a tenant",
	Long: `Create signs a new key with an HMAC secret from UW_HMAC_SECRET or
UW_HMAC_SECRET_N and stores its digest. The key is printed once and cannot
be recovered afterwards.`,
	Args: cobra.NoArgs,
	RunE: runAPIKeyCreate,
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's API keys",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyList,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api-key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd)

	apikeyCreateCmd.Flags().String("tenant", "", "tenant (carrier) the key authenticates as")
	apikeyCreateCmd.Flags().String("name", "", "label for the key")
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret to sign with (required when several are configured)")
	apikeyCreateCmd.MarkFlagRequired("tenant")

	apikeyListCmd.Flags().String("tenant", "", "tenant whose keys to list")
	apikeyListCmd.MarkFlagRequired("tenant")
}

// signingSecret picks the secret named by secretID, or the only configured
// one when secretID is empty.
func signingSecret(secretID string) (string, []byte, error) {
	secrets, err := config.HMACSecrets()
	if err != nil {
		return "", nil, err
	}
	if secretID != "" {
		secret, ok := secrets[secretID]
		if !ok {
			return "", nil, fmt.Errorf("secret %s is not configured", secretID)
		}
		return secretID, secret, nil
	}
	switch len(secrets) {
	case 0:
		return "", nil, fmt.Errorf("no HMAC secret configured, set UW_HMAC_SECRET")
	case 1:
		for id, secret := range secrets {
			return id, secret, nil
		}
	}
	ids := make([]string, 0, len(secrets))
	for id := range secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return "", nil, fmt.Errorf("%d HMAC secrets configured, choose one with --secret-id: %v", len(secrets), ids)
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()

	tenant, _ := cmd.Flags().GetString("tenant")
	name, _ := cmd.Flags().GetString("name")
	requested, _ := cmd.Flags().GetString("secret-id")

	secretID, secret, err := signingSecret(requested)
	if err != nil {
		return err
	}
	key, hash, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		return err
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

	created, err := st.CreateAPIKey(ctx, tenant, name, secretID, hash)
	if err != nil {
		return err
	}
	a.logger.Info("created API key", zap.String("api_key_id", created.ID), zap.String("tenant_id", tenant))
	fmt.Fprintf(cmd.OutOrStdout(), "id:  %s\nkey: %s\n", created.ID, key)
	return nil
}

func runAPIKeyList(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()

	tenant, _ := cmd.Flags().GetString("tenant")
	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	st, err := store.New(database, a.fields)
	if err != nil {
		return err
	}

	keys, err := st.ListAPIKeys(ctx, tenant)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLAST USED")
	for _, k := range keys {
		state, used := "active", "-"
		if k.Revoked() {
			state = "revoked"
		}
		if k.LastUsedAt != nil {
			used = k.LastUsedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.ID, k.Name, state, used)
	}
	return w.Flush()
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	ctx := cmd.Context()

	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	st, err := store.New(database, a.fields)
	if err != nil {
		return err
	}

	if err := st.RevokeAPIKey(ctx, args[0]); err != nil {
		return err
	}
	a.logger.Info("revoked API key", zap.String("api_key_id", args[0]))
	fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
	return nil
}
