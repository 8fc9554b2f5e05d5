package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lifestream-ingest/internal/database"
)

var (
	userAthleteID    int64
	userAccessToken  string
	userRefreshToken string
	userExpiresAt    int64
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <user>",
	Short: "Register a user, or replace their tokens",
	Long: `Register a user with the tokens from an upstream OAuth exchange.

Examples:
  cli user add alice --athlete-id 12345 --access-token abc --refresh-token def --expires-at 1718000000`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

func init() {
	userAddCmd.Flags().Int64Var(&userAthleteID, "athlete-id", 0, "Upstream athlete ID")
	userAddCmd.Flags().StringVar(&userAccessToken, "access-token", "", "OAuth access token")
	userAddCmd.Flags().StringVar(&userRefreshToken, "refresh-token", "", "OAuth refresh token")
	userAddCmd.Flags().Int64Var(&userExpiresAt, "expires-at", 0, "Access token expiry (unix seconds)")
	for _, name := range []string{"athlete-id", "access-token", "refresh-token"} {
		_ = userAddCmd.MarkFlagRequired(name)
	}

	userCmd.AddCommand(userAddCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	user := &database.User{
		UserID:       args[0],
		AthleteID:    userAthleteID,
		AccessToken:  userAccessToken,
		RefreshToken: userRefreshToken,
		ExpiresAt:    userExpiresAt,
	}
	if err := e.db.UpsertUser(ctx, user); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ User %s registered (athlete %d)\n", user.UserID, user.AthleteID)
	return nil
}
