package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playlistctl/internal/spotify"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Spotify authorization",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the OAuth flow and save the token",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		client, cleanup, err := newAuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		_, name, err := client.CurrentUser(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("logged in as %s\n", name)
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a valid token is saved",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		if err := validateSpotifyConfig(); err != nil {
			return err
		}

		client := spotify.NewClient(&config.Spotify, logger.Named("spotify"), nil)
		if !client.HasToken() {
			fmt.Println("not logged in (no saved token)")
			return nil
		}

		if err := client.AuthenticateSilent(ctx); err != nil {
			fmt.Printf("token saved but not usable: %v\n", err)
			return nil
		}

		_, name, err := client.CurrentUser(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("logged in as %s\n", name)
		return nil
	},
}

func init() {
	authCmd.AddCommand(authLoginCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
