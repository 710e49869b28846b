package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/alal76/crm-solution-sub000/internal/core/auth"
	"github.com/alal76/crm-solution-sub000/internal/core/config"
	"github.com/alal76/crm-solution-sub000/internal/core/db"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate an API key for an actor",
	RunE:  runAPIKeyCreate,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api-key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyRevokeCmd)
	apikeyCreateCmd.Flags().String("actor", "", "actor name recorded on executions (required)")
	apikeyCreateCmd.Flags().String("secret-id", "", "HMAC secret id to sign with (defaults to the only configured secret)")
	_ = apikeyCreateCmd.MarkFlagRequired("actor")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	actor, _ := cmd.Flags().GetString("actor")
	secretID, _ := cmd.Flags().GetString("secret-id")

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set WF_HMAC_SECRET environment variable)")
	}
	if secretID == "" {
		if len(secrets) > 1 {
			return fmt.Errorf("--secret-id required when multiple secrets are configured")
		}
		for id := range secrets {
			secretID = id
		}
	}
	secret, ok := secrets[secretID]
	if !ok {
		return fmt.Errorf("unknown secret id %q", secretID)
	}

	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return fmt.Errorf("failed to generate key material: %w", err)
	}
	apiKey := auth.FormatAPIKey(secretID, hex.EncodeToString(random))
	keyHash := auth.ComputeHMAC(secret, apiKey)

	queries, conn, err := openQueries()
	if err != nil {
		return err
	}
	defer conn.Close()

	apiKeyID := uuid.Must(uuid.NewV7()).String()
	_, err = queries.Exec(context.Background(), "insert-api-key",
		apiKeyID, actor, keyHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}

	// The key itself is printed once and never stored.
	fmt.Printf("api_key_id: %s\nactor:      %s\napi_key:    %s\n", apiKeyID, actor, apiKey)
	return nil
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	queries, conn, err := openQueries()
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := queries.Exec(context.Background(), "revoke-api-key",
		time.Now().UTC(), args[0])
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no active key with id %q", args[0])
	}
	fmt.Println("revoked")
	return nil
}

func openQueries() (*db.Queries, *sqlx.DB, error) {
	if dbURL == "" {
		return nil, nil, fmt.Errorf("--db-url required")
	}
	conn, err := db.Open(dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return queries, conn, nil
}
