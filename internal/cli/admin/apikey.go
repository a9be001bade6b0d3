package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloo-solutions/docuchat/internal/config"
	"github.com/cloo-solutions/docuchat/internal/database"
	"github.com/cloo-solutions/docuchat/internal/repository"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, nil
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, revoke, and grant API keys",
	}

	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyRevokeCmd())
	cmd.AddCommand(APIKeyGrantCmd())

	return cmd
}

func APIKeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Create a new API key, optionally with elevated access to every document",
		RunE:  runAPIKeyCreate,
	}

	cmd.Flags().StringP("name", "n", "", "API key name (required)")
	cmd.Flags().Bool("elevated", false, "Grant access to every document")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	name, _ := cmd.Flags().GetString("name")
	elevated, _ := cmd.Flags().GetBool("elevated")
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	authSvc := service.NewAuthService(repository.NewAPIKeyRepository(pool))

	token, key, err := authSvc.CreateAPIKey(ctx, name, elevated)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":       key.ID,
			"name":     key.Name,
			"elevated": key.Elevated,
			"token":    token,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("API key created\n")
		fmt.Printf("Key ID: %s\n", key.ID)
		fmt.Printf("Key Name: %s\n", key.Name)
		fmt.Printf("Elevated: %v\n", key.Elevated)
		fmt.Printf("Token: %s\n", token)
		fmt.Println("\n⚠️  Save this token now. You won't be able to see it again!")
	}

	return nil
}

func APIKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key by its ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runAPIKeyRevoke,
	}

	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")

	return cmd
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	keyID := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	err = apiKeyRepo.Revoke(ctx, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":      keyID,
			"revoked": true,
			"message": "API key revoked successfully",
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("API key %s revoked successfully\n", keyID)
	}

	return nil
}

func APIKeyGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant <id> <document-slug>",
		Short: "Grant a key access to a document",
		Long:  "Record a per-document grant for a non-elevated API key",
		Args:  cobra.ExactArgs(2),
		RunE:  runAPIKeyGrant,
	}

	return cmd
}

func runAPIKeyGrant(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	keyID := args[0]
	slug := args[1]

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	authSvc := service.NewAuthService(repository.NewAPIKeyRepository(pool))
	if err := authSvc.GrantAccess(ctx, keyID, slug); err != nil {
		return fmt.Errorf("failed to grant access: %w", err)
	}

	fmt.Printf("Key %s may now access document %s\n", keyID, slug)
	return nil
}
