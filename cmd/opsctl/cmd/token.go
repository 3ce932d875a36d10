package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/backoffice/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer tokens",
}

var tokenSubject int64

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a token for a subject id (integration and support use)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(tokenSubject)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a token and print its subject id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			return err
		}
		subject, err := tokens.Verify(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), subject)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().Int64Var(&tokenSubject, "subject", 0, "subject (seller) id")
	_ = tokenIssueCmd.MarkFlagRequired("subject")

	tokenCmd.AddCommand(tokenIssueCmd, tokenVerifyCmd)
}
