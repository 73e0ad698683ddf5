package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"logibid/internal/auth"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an HS256 bearer token for the ledger API (needs AUTH_HMAC_SECRET)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		secret := os.Getenv("AUTH_HMAC_SECRET")
		if secret == "" {
			return errors.New("AUTH_HMAC_SECRET is not set")
		}
		if tokenSubject == "" {
			return errors.New("--subject is required")
		}
		tok, err := auth.NewHMAC(secret).Issue(tokenSubject, tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "viewer", "viewer or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "validity, 0 for no expiry")
}
