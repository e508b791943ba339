// Package main is the entry point for the polis-mam binary.
// It validates and inspects MAM policy documents and serves the policy
// query API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-mam/pkg/config"
	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/logging"
	"github.com/polisai/polis-mam/pkg/policy"
)

const defaultLogLevel = "info"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-mam
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-mam",
		Short: "Mobile app management policy service",
		Long: `Answers mobile app management data-protection queries (save and open
locations, URL handling, document picker, notification redaction) from a
declarative policy document.

Example:
  polis-mam check save dropbox --account user@contoso.com -f policy.yaml
  polis-mam serve -f policy.yaml --addr :8095`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newValidateCmd(), newInspectCmd(), newCheckCmd(), newServeCmd())
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a policy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(cmd.Context(), args[0], cliLogger(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (name=%q, url rules=%d, universal link rules=%d)\n",
				args[0], snap.Name, len(snap.URLs.Rules), len(snap.UniversalLinks.Rules))
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the full decision table for an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	cmd.Flags().StringP("account", "a", "", "Account to evaluate (omit for no account)")
	cmd.Flags().String("format", "yaml", "Output format (yaml, json)")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	acct, err := accountFlag(cmd)
	if err != nil {
		return err
	}

	snap, err := loadSnapshot(cmd.Context(), args[0], cliLogger(cmd))
	if err != nil {
		return err
	}
	report := policy.NewStatic(snap).BuildReport(acct)

	out := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// accountFlag maps an unset --account flag to domain.NoAccount.
func accountFlag(cmd *cobra.Command) (domain.Account, error) {
	if !cmd.Flags().Changed("account") {
		return domain.NoAccount, nil
	}
	name, err := cmd.Flags().GetString("account")
	if err != nil {
		return domain.NoAccount, fmt.Errorf("failed to get account flag: %w", err)
	}
	return domain.AccountName(name), nil
}

func cliLogger(cmd *cobra.Command) *slog.Logger {
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		level = defaultLogLevel
	}
	return logging.NewLogger(logging.Config{
		Level:  level,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})
}

// loadSnapshot reads, validates and compiles a policy document.
func loadSnapshot(ctx context.Context, path string, logger *slog.Logger) (*domain.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	doc, err := config.LoadDocument(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	return doc.ToDomain(ctx, config.BuildOptions{
		Generation: 1,
		Source:     "file:" + abs,
		BaseDir:    filepath.Dir(abs),
		Logger:     logger,
	})
}
