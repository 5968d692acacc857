package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aidpanel.org/internal/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "aidpanel-api",
	Short: "Authorization, rate limiting and workflow handoff API for the aid dashboard",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return applyFlags(cmd, cfg)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("pg-dsn", "", "PostgreSQL DSN (env: AIDPANEL_PG_DSN)")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis URL for shared counters (env: REDIS_URL)")
	rootCmd.PersistentFlags().Int("rate-limit-max", 0, "Standard profile request limit (env: RATE_LIMIT_MAX)")

	rootCmd.AddCommand(serveCmd, profilesCmd, tokenCmd)
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("pg-dsn") {
		c.DatabaseDSN, _ = flags.GetString("pg-dsn")
	}
	if flags.Changed("redis-url") {
		c.RedisURL, _ = flags.GetString("redis-url")
	}
	if flags.Changed("rate-limit-max") {
		c.RateLimit.StandardMax, _ = flags.GetInt("rate-limit-max")
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		c.Addr, _ = flags.GetString("addr")
	}
	return c.Validate()
}
