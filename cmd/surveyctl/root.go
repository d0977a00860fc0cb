package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"survey-platform/internal/app"
	"survey-platform/internal/auth"
	"survey-platform/internal/config"
	"survey-platform/pkg/logger"
)

var (
	cfg config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "surveyctl",
	Short: "Survey platform admin tool",
	Long:  "Batch operations for CATI surveys: contact import, queue maintenance, duplicate detection and report generation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c
		log = logger.New(cfg.App.Env)
		slog.SetDefault(log)
		return nil
	},
	SilenceUsage: true,
}

// openApp connects the stores. Callers must Close the result.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.Open(logger.With(ctx, log), cfg, log)
	if err != nil {
		return nil, eris.Wrap(err, "open stores")
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	tokenUser    string
	tokenCompany string
	tokenRole    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access/refresh token pair for a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return eris.Wrap(err, "auth manager")
		}
		pair, err := m.IssuePair(time.Now(), auth.Identity{UserID: tokenUser, CompanyID: tokenCompany, Role: tokenRole})
		if err != nil {
			return eris.Wrap(err, "issue token")
		}
		return printJSON(cmd.OutOrStdout(), pair)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (required)")
	tokenCmd.Flags().StringVar(&tokenCompany, "company", "", "company id (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "role (required)")
	_ = tokenCmd.MarkFlagRequired("user")
	_ = tokenCmd.MarkFlagRequired("company")
	_ = tokenCmd.MarkFlagRequired("role")
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
