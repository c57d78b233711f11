package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"travel-booking/internal/auth"
	"travel-booking/internal/config"
	"travel-booking/internal/db"
	"travel-booking/internal/logging"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "travel-booking",
	Short:        "Travel booking payment service",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the outbox producer and the notification consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger := logging.GetLogger(cfg.Logs)
		if err := db.RunMigrations(db.GetConnStr(cfg.Database)); err != nil {
			return err
		}
		logger.Info("Migrations applied")
		return nil
	},
}

var (
	tokenSubject string
	tokenEmail   string
	tokenName    string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := cfg.ValidateAuth(); err != nil {
			return err
		}
		token, err := auth.IssueToken(tokenSubject, tokenEmail, tokenName, tokenRole, cfg.Auth.Secret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", ".", "directory containing config.yaml and .env")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "local-user", "token subject")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "traveller@example.com", "email claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "Local Traveller", "name claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleUser, "role claim (user or admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
