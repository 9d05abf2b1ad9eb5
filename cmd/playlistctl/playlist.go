package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"playlistctl/internal/apply"
	"playlistctl/internal/core"
)

var playlistCmd = &cobra.Command{
	Use:   "playlist",
	Short: "List and create playlists",
}

var playlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the authenticated user's playlists",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		client, cleanup, err := newAuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		playlists, err := client.UserPlaylists(ctx)
		if err != nil {
			return err
		}

		for _, p := range playlists {
			fmt.Printf("%s\t%s\t%d tracks\t(%s)\n", p.ID, p.Name, p.Total, p.Owner)
		}
		return nil
	},
}

var playlistCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new playlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		description, _ := cmd.Flags().GetString("description")
		public, _ := cmd.Flags().GetBool("public")

		client, cleanup, err := newAuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		meta, err := client.CreatePlaylist(ctx, args[0], description, public)
		if err != nil {
			return err
		}

		fmt.Printf("created %s (%s)\n", meta.Name, meta.ID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <playlist-id>",
	Short: "Write the playlist's track URIs, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		client, cleanup, err := newAuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		items, err := client.PlaylistItems(ctx, args[0])
		if err != nil {
			return err
		}

		out := os.Stdout
		if path, _ := cmd.Flags().GetString("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		for _, uri := range trackURIs(items) {
			fmt.Fprintln(out, uri)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <playlist-id> <file>",
	Short: "Set the playlist contents from a file of track URIs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		applyFlag, _ := cmd.Flags().GetBool("apply")
		forceFlag, _ := cmd.Flags().GetBool("force")

		desired, err := readURIFile(args[1])
		if err != nil {
			return err
		}

		client, cleanup, err := newAuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		meta, err := client.PlaylistMeta(ctx, args[0])
		if err != nil {
			return err
		}
		items, err := client.PlaylistItems(ctx, args[0])
		if err != nil {
			return err
		}

		result, err := apply.Run(ctx, client, args[0], apply.Plan{
			Before:  trackURIs(items),
			Desired: desired,
		}, apply.Options{
			Apply:            applyFlag,
			Force:            forceFlag,
			ExpectedSnapshot: meta.SnapshotID,
			ChunkSize:        config.Apply.ChunkSize,
		}, logger.Named("apply"))
		if err != nil {
			return err
		}

		printResult(meta, result, applyFlag)
		return nil
	},
}

var coverCmd = &cobra.Command{
	Use:   "cover <playlist-id> <image.jpg>",
	Short: "Upload a JPEG playlist cover",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		img, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("failed to open cover image: %w", err)
		}
		defer img.Close()

		client, cleanup, err := newAuthenticatedClient(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := client.UploadCover(ctx, args[0], img); err != nil {
			return err
		}

		fmt.Println("cover uploaded")
		return nil
	},
}

// readURIFile parses one track URI per line, skipping blanks and #-comments.
func readURIFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open URI file: %w", err)
	}
	defer f.Close()

	var uris []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "spotify:track:") {
			return nil, core.UsageErrorf("not a track URI: %s", line)
		}
		uris = append(uris, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URI file: %w", err)
	}
	return uris, nil
}

func init() {
	playlistCreateCmd.Flags().String("description", "", "playlist description")
	playlistCreateCmd.Flags().Bool("public", false, "make the playlist public")
	exportCmd.Flags().String("out", "", "output file (default stdout)")
	addApplyFlags(importCmd)

	playlistCmd.AddCommand(playlistListCmd, playlistCreateCmd)
	rootCmd.AddCommand(playlistCmd, exportCmd, importCmd, coverCmd)
}
