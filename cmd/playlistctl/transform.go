package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playlistctl/internal/apply"
	"playlistctl/internal/core"
	"playlistctl/internal/plan"
)

// planFunc computes the desired ordering for one transform from the loaded
// playlist items.
type planFunc func(items []core.PlaylistItem) (plan.Result, error)

func addApplyFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("apply", false, "commit the change instead of previewing")
	cmd.Flags().Bool("force", false, "skip the concurrent-edit guard when applying")
}

// runTransform is the shared load/plan/apply pipeline behind every transform
// command.
func runTransform(cmd *cobra.Command, playlistID string, fn planFunc) error {
	ctx, cancel := commandContext()
	defer cancel()

	applyFlag, _ := cmd.Flags().GetBool("apply")
	forceFlag, _ := cmd.Flags().GetBool("force")

	client, cleanup, err := newAuthenticatedClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	meta, err := client.PlaylistMeta(ctx, playlistID)
	if err != nil {
		return err
	}
	items, err := client.PlaylistItems(ctx, playlistID)
	if err != nil {
		return err
	}

	planned, err := fn(items)
	if err != nil {
		return err
	}

	result, err := apply.Run(ctx, client, playlistID, apply.Plan{
		Before:          trackURIs(items),
		Desired:         planned.URIs,
		DroppedEpisodes: planned.DroppedEpisodes,
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
}

func trackURIs(items []core.PlaylistItem) []string {
	uris := make([]string, 0, len(items))
	for _, it := range items {
		if it.Kind == core.KindTrack && it.URI != "" {
			uris = append(uris, it.URI)
		}
	}
	return uris
}

func printResult(meta *core.PlaylistMeta, result *core.ApplyResult, applyRequested bool) {
	fmt.Printf("playlist: %s (%s)\n", meta.Name, meta.ID)
	fmt.Printf("tracks: %d before, %d after", result.BeforeCount, result.AfterCount)
	if result.RemovedCount > 0 {
		fmt.Printf(", %d removed", result.RemovedCount)
	}
	if result.DroppedEpisodes > 0 {
		fmt.Printf(", %d episodes dropped", result.DroppedEpisodes)
	}
	fmt.Println()

	switch {
	case !result.Changed:
		fmt.Println("no change")
	case result.Applied:
		fmt.Printf("applied (snapshot %s)\n", result.SnapshotID)
	case applyRequested:
		fmt.Println("not applied")
	default:
		fmt.Println("preview only; re-run with --apply to commit")
	}
}

var shuffleCmd = &cobra.Command{
	Use:   "shuffle <playlist-id>",
	Short: "Randomly reorder a playlist, whole or in groups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupSize, _ := cmd.Flags().GetInt("group-size")
		groups, _ := cmd.Flags().GetInt("groups")
		if groupSize < 0 || groups < 0 {
			return core.UsageErrorf("group sizes must be non-negative")
		}
		if groupSize > 0 && groups > 0 {
			return core.UsageErrorf("--group-size and --groups are mutually exclusive")
		}

		params := plan.ShuffleParams{GroupSize: groupSize, Groups: groups}
		if cmd.Flags().Changed("seed") {
			seed, _ := cmd.Flags().GetInt64("seed")
			params.Seed = &seed
		}

		return runTransform(cmd, args[0], func(items []core.PlaylistItem) (plan.Result, error) {
			return plan.Shuffle(items, params), nil
		})
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup <playlist-id>",
	Short: "Remove duplicate tracks by URI or normalized title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := plan.DedupParams{}

		switch keep, _ := cmd.Flags().GetString("keep"); keep {
		case "first":
			params.Keep = plan.KeepFirst
		case "last":
			params.Keep = plan.KeepLast
		default:
			return core.UsageErrorf("--keep must be first or last, got %q", keep)
		}

		switch by, _ := cmd.Flags().GetString("by"); by {
		case "uri":
			params.Match = plan.MatchURI
		case "title":
			params.Match = plan.MatchTitle
		default:
			return core.UsageErrorf("--by must be uri or title, got %q", by)
		}

		return runTransform(cmd, args[0], func(items []core.PlaylistItem) (plan.Result, error) {
			return plan.Dedup(items, params), nil
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <playlist-id>",
	Short: "Drop unplayable tracks and tracks unavailable in a market",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		if market == "" {
			market = config.Spotify.Market
		}

		return runTransform(cmd, args[0], func(items []core.PlaylistItem) (plan.Result, error) {
			return plan.Cleanup(items, market), nil
		})
	},
}

var sortCmd = &cobra.Command{
	Use:   "sort <playlist-id>",
	Short: "Stably sort a playlist by added date or popularity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key plan.SortKey
		switch by, _ := cmd.Flags().GetString("by"); by {
		case "added":
			key = plan.SortByAddedAt
		case "popularity":
			key = plan.SortByPopularity
		default:
			return core.UsageErrorf("--by must be added or popularity, got %q", by)
		}
		desc, _ := cmd.Flags().GetBool("desc")

		return runTransform(cmd, args[0], func(items []core.PlaylistItem) (plan.Result, error) {
			return plan.Sort(items, key, desc), nil
		})
	},
}

var trimCmd = &cobra.Command{
	Use:   "trim <playlist-id>",
	Short: "Keep only the first or last N tracks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 0 {
			return core.UsageErrorf("--keep must be non-negative, got %d", keep)
		}
		fromEnd, _ := cmd.Flags().GetBool("from-end")

		return runTransform(cmd, args[0], func(items []core.PlaylistItem) (plan.Result, error) {
			return plan.Trim(items, keep, fromEnd), nil
		})
	},
}

var reverseCmd = &cobra.Command{
	Use:   "reverse <playlist-id>",
	Short: "Reverse the playlist order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransform(cmd, args[0], func(items []core.PlaylistItem) (plan.Result, error) {
			return plan.Reverse(items), nil
		})
	},
}

func init() {
	shuffleCmd.Flags().Int64("seed", 0, "seed for a deterministic permutation")
	shuffleCmd.Flags().Int("group-size", 0, "shuffle within consecutive groups of this size")
	shuffleCmd.Flags().Int("groups", 0, "shuffle within this many near-equal groups")

	dedupCmd.Flags().String("keep", "first", "which duplicate occurrence to keep (first, last)")
	dedupCmd.Flags().String("by", "uri", "how duplicates are matched (uri, title)")

	cleanupCmd.Flags().String("market", "", "two-letter market code for availability filtering")

	sortCmd.Flags().String("by", "added", "sort key (added, popularity)")
	sortCmd.Flags().Bool("desc", false, "sort in descending order")

	trimCmd.Flags().Int("keep", 0, "number of tracks to keep")
	trimCmd.Flags().Bool("from-end", false, "keep the last N tracks instead of the first")
	_ = trimCmd.MarkFlagRequired("keep")

	for _, cmd := range []*cobra.Command{shuffleCmd, dedupCmd, cleanupCmd, sortCmd, trimCmd, reverseCmd} {
		addApplyFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
}
