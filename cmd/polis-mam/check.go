package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/policy"
)

// newCheckCmd answers a single query against a policy document. It prints
// "allowed" or "blocked" and exits non-zero only when the document fails to
// load or the argument cannot be parsed.
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one policy query",
	}
	cmd.PersistentFlags().StringP("file", "f", "", "Policy document (YAML or JSON)")
	cmd.PersistentFlags().StringP("account", "a", "", "Account to evaluate (omit for no account)")
	_ = cmd.MarkPersistentFlagRequired("file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "save <location>",
			Short: "Check whether saving to a location is allowed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				loc, err := parseLocationArg(args[0], domain.ParseSaveLocation, domain.SaveLocationFromCode)
				if err != nil {
					return err
				}
				return runLocationCheck(cmd, func(f *policy.Facade, acct domain.Account) domain.LocationDecision {
					return f.DecideSaveTo(loc, acct)
				})
			},
		},
		&cobra.Command{
			Use:   "open <location>",
			Short: "Check whether opening from a location is allowed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				loc, err := parseLocationArg(args[0], domain.ParseOpenLocation, domain.OpenLocationFromCode)
				if err != nil {
					return err
				}
				return runLocationCheck(cmd, func(f *policy.Facade, acct domain.Account) domain.LocationDecision {
					return f.DecideOpenFrom(loc, acct)
				})
			},
		},
		newURLCheckCmd("url <url>", "Check whether a URL may be opened", domain.URLKindURL),
		newURLCheckCmd("universal-link <url>", "Check whether a universal link may be opened", domain.URLKindUniversalLink),
		&cobra.Command{
			Use:   "picker <mode>",
			Short: "Check whether a document picker mode is allowed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mode, err := domain.ParseDocumentPickerMode(args[0])
				if err != nil {
					return err
				}
				f, err := checkFacade(cmd)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tmode=%s\n", verdict(f.IsDocumentPickerAllowed(mode)), mode)
				return nil
			},
		},
	)
	return cmd
}

func newURLCheckCmd(use, short string, kind domain.URLKind) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid url: %w", err)
			}
			f, err := checkFacade(cmd)
			if err != nil {
				return err
			}
			decision := f.DecideURL(cmd.Context(), kind, target)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tsource=%s", verdict(decision.Allowed), decision.Source)
			if decision.Reason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\treason=%s", decision.Reason)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func runLocationCheck(cmd *cobra.Command, decide func(*policy.Facade, domain.Account) domain.LocationDecision) error {
	acct, err := accountFlag(cmd)
	if err != nil {
		return err
	}
	f, err := checkFacade(cmd)
	if err != nil {
		return err
	}
	decision := decide(f, acct)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\ttier=%s\taccount=%s\n", verdict(decision.Allowed), decision.Tier, acct)
	return nil
}

func checkFacade(cmd *cobra.Command) (*policy.Facade, error) {
	path, err := cmd.Flags().GetString("file")
	if err != nil {
		return nil, fmt.Errorf("failed to get file flag: %w", err)
	}
	logger := cliLogger(cmd)
	snap, err := loadSnapshot(cmd.Context(), path, logger)
	if err != nil {
		return nil, err
	}
	return policy.NewStatic(snap, policy.WithLogger(logger)), nil
}

// parseLocationArg accepts a location name or a numeric SDK code.
func parseLocationArg[L any](raw string, parse func(string) (L, error), fromCode func(int) L) (L, error) {
	if code, err := strconv.Atoi(raw); err == nil {
		return fromCode(code), nil
	}
	return parse(raw)
}

func verdict(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "blocked"
}
