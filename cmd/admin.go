package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiliantyler/kil.dev-sub000/repository"
)

func clearLeaderboardCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-leaderboard",
		Short: "Remove every entry from the leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required")
			}
			client, err := repository.ConnectRedis(cmd.Context(), cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			board := repository.NewLeaderboardStore(client, repository.DefaultRetryPolicy(), logger)
			if err := board.Clear(cmd.Context()); err != nil {
				return err
			}
			logger.Info("leaderboard cleared")
			return nil
		},
	}
}

// hashPasswordCmd prints a value suitable for ADMIN_PASSWORD_HASH.
func hashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
