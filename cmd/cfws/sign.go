package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rickgao/cf-feed/internal/auth"
)

func newSignCmd() *cobra.Command {
	var challenge, secret string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a challenge with an API secret",
		Long: "Sign prints base64(HMAC-SHA512(secret, SHA256(challenge))), the value sent\n" +
			"as signed_challenge on private requests. The secret defaults to $CF_API_SECRET.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("CF_API_SECRET")
			}
			if secret == "" {
				return fail(cmd, errors.New("no secret: pass --secret or set CF_API_SECRET"))
			}

			signed, err := auth.SignChallenge(challenge, secret)
			if err != nil {
				return fail(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&challenge, "challenge", "", "challenge string received from the server")
	cmd.Flags().StringVar(&secret, "secret", "", "base64 API secret")
	_ = cmd.MarkFlagRequired("challenge")
	return cmd
}
