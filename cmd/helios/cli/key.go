package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage partner API keys",
		Long:    "Create, list, revoke, and rotate the API keys partners use against the Helios API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyRotateCmd())

	return cmd
}

// keyService builds a KeyService against the configured store. The returned
// closer must be deferred.
func keyService() (*service.KeyService, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return service.NewKeyService(st, st, cfg.Limits.PlanFor, logger), func() { st.Close() }, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner       string
		name        string
		scopes      []string
		environment string
		expiresDays int
		allowedIPs  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a partner. The raw secret is shown once and cannot be retrieved again.",
		Example: `  helios key create --owner admin-id --name "Acme Solar" --scope read_leads --scope write_leads
  helios key create --owner admin-id --name "Billing export" --scope read_billing --env production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(owner, name, scopes, environment, expiresDays, allowedIPs)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Admin ID that owns the key (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "Scope to grant (repeatable, required)")
	cmd.Flags().StringVar(&environment, "env", "development", "Key environment: development or production")
	cmd.Flags().IntVar(&expiresDays, "expires-in", 0, "Days until the key expires (0 = never)")
	cmd.Flags().StringArrayVar(&allowedIPs, "allow-ip", nil, "Source IP to allow (repeatable; empty = any)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("scope")

	return cmd
}

func runKeyCreate(owner, name string, scopes []string, environment string, expiresDays int, allowedIPs []string) error {
	keys, closer, err := keyService()
	if err != nil {
		return err
	}
	defer closer()

	created, err := keys.CreateKey(context.Background(), service.CreateKeyParams{
		OwnerID:       owner,
		Name:          name,
		Scopes:        scopes,
		Environment:   model.Environment(environment),
		ExpiresInDays: expiresDays,
		AllowedIPs:    allowedIPs,
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Secret: %s\n", created.Secret)
	fmt.Printf("  ID:     %s\n", created.APIKeyID)
	fmt.Printf("  Scopes: %s\n", strings.Join(scopes, ", "))
	fmt.Println()
	fmt.Println("  Save this secret now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List an owner's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Admin ID whose keys to list (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyList(owner string, jsonOutput bool) error {
	keys, closer, err := keyService()
	if err != nil {
		return err
	}
	defer closer()

	list, err := keys.ListKeys(context.Background(), owner)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Println("No API keys found. Use 'helios key create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-18s %-24s %-10s %-12s\n", "ID", "PREFIX", "NAME", "STATUS", "ENVIRONMENT")
	for _, k := range list {
		fmt.Printf("%-38s %-18s %-24s %-10s %-12s\n", k.ID, k.KeyPrefix, k.Name, k.Status, k.Environment)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var (
		owner  string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Permanently disable an API key. Revocation cannot be undone; rotate instead if the partner needs continued access.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0], owner, reason)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Admin ID that owns the key (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the revocation")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyRevoke(id, owner, reason string) error {
	keys, closer, err := keyService()
	if err != nil {
		return err
	}
	defer closer()

	status, err := keys.RevokeKey(context.Background(), id, owner, reason)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	fmt.Printf("Key %s is now %s\n", id, status)
	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Rotate an API key's secret",
		Long:  "Replace the key's secret with a fresh one. The old secret stops working immediately; scopes, limits, and usage history carry over.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRotate(args[0], owner)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Admin ID that owns the key (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyRotate(id, owner string) error {
	keys, closer, err := keyService()
	if err != nil {
		return err
	}
	defer closer()

	rotated, err := keys.RotateKey(context.Background(), id, owner)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}

	fmt.Println("API key rotated:")
	fmt.Println()
	fmt.Printf("  New secret: %s\n", rotated.Secret)
	fmt.Println()
	fmt.Println("  Save this secret now - it cannot be retrieved again.")
	return nil
}
