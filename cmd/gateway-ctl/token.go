package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/config"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/auth"
)

func newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token <service>",
		Short: "Issue a service token signed with GATEWAY_AUTH_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.AuthSecret == "" {
				return fmt.Errorf("GATEWAY_AUTH_SECRET is not set")
			}
			tokens, err := auth.NewServiceTokens(cfg.AuthSecret, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthTokenTTL)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
