package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"aidpanel.org/internal/auth"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Print the effective rate limit profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tMAX\tWINDOW")
		for _, p := range cfg.Profiles().All() {
			fmt.Fprintf(w, "%s\t%d\t%s\n", p.Name, p.Max, p.Window)
		}
		return w.Flush()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Sign a development bearer token with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireAuthSecret(); err != nil {
			return err
		}
		authn, err := auth.NewAuthenticator(cfg.Auth.Secret,
			auth.WithIssuer(cfg.Auth.Issuer), auth.WithAudience(cfg.Auth.Audience))
		if err != nil {
			return err
		}
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := authn.GenerateToken(auth.Identity{ID: args[0], Email: email, Name: name}, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("name", "", "Display name claim")
	tokenCmd.Flags().String("email", "", "Email claim")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}
