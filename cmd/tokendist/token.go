package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tokendist.org/internal/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <address>",
	Short: "Sign a bearer token for an address with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		iss, err := auth.NewIssuer(cfg.Auth.Secret, auth.WithTTL(cfg.Auth.TokenTTL))
		if err != nil {
			return err
		}
		token, _, err := iss.GenerateToken(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
}
