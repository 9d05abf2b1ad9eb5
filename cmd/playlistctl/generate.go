package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playlistctl/internal/apply"
	"playlistctl/internal/generate"
)

var generateCmd = &cobra.Command{
	Use:   "generate <playlist-id>",
	Short: "Grow a playlist from seed tracks via recommendations",
	Long: `Generate builds a pool of recommended tracks from 3-5 seed track URIs,
filtered by popularity, duration, playability, and market, optionally
steered by the averaged seed profile and capped per musical key. By default
the pool is appended to the playlist; --replace overwrites it.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringArray("seed", nil, "seed track URI (repeat 3-5 times)")
	generateCmd.Flags().Int("target-size", 0, "number of tracks to generate (default from config)")
	generateCmd.Flags().Int("min-popularity", -1, "popularity floor 0-100 (default from config)")
	generateCmd.Flags().Int("max-duration-ms", 0, "per-track duration ceiling in ms (default from config)")
	generateCmd.Flags().String("market", "", "two-letter market code for availability filtering")
	generateCmd.Flags().Bool("seed-profile", false, "steer recommendations toward the averaged seed attributes")
	generateCmd.Flags().Bool("key-diversity", false, "cap the share of any single musical key")
	generateCmd.Flags().Int("max-key-share", 0, "per-key share cap in percent (requires --key-diversity)")
	generateCmd.Flags().Bool("replace", false, "replace the playlist contents instead of appending")
	addApplyFlags(generateCmd)

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	playlistID := args[0]

	seeds, _ := cmd.Flags().GetStringArray("seed")
	applyFlag, _ := cmd.Flags().GetBool("apply")
	forceFlag, _ := cmd.Flags().GetBool("force")
	replaceFlag, _ := cmd.Flags().GetBool("replace")

	opts := generate.Options{
		TargetSize:         config.Generate.TargetSize,
		MinPopularity:      config.Generate.MinPopularity,
		MaxDurationMs:      config.Generate.MaxDurationMs,
		MaxKeySharePercent: config.Generate.MaxKeySharePercent,
		Market:             config.Spotify.Market,
	}
	if v, _ := cmd.Flags().GetInt("target-size"); v != 0 {
		opts.TargetSize = v
	}
	if cmd.Flags().Changed("min-popularity") {
		opts.MinPopularity, _ = cmd.Flags().GetInt("min-popularity")
	}
	if v, _ := cmd.Flags().GetInt("max-duration-ms"); v != 0 {
		opts.MaxDurationMs = v
	}
	if v, _ := cmd.Flags().GetString("market"); v != "" {
		opts.Market = v
	}
	opts.SeedProfile, _ = cmd.Flags().GetBool("seed-profile")
	opts.KeyDiversity, _ = cmd.Flags().GetBool("key-diversity")
	if cmd.Flags().Changed("max-key-share") {
		opts.MaxKeySharePercent, _ = cmd.Flags().GetInt("max-key-share")
		opts.KeyShareSet = true
	}

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
	current := trackURIs(items)

	// Tracks already on the playlist never re-enter through recommendations.
	opts.Exclude = current

	gen := generate.New(client, client, client, logger.Named("generate"))
	result, err := gen.Generate(ctx, seeds, opts)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	printGenerateStats(result)

	desired := buildDesired(current, result.URIs, replaceFlag)

	applied, err := apply.Run(ctx, client, playlistID, apply.Plan{
		Before:  current,
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

	printResult(meta, applied, applyFlag)
	return nil
}

// buildDesired merges the generated pool into the playlist. Append mode
// keeps the current sequence and adds only pool entries not already present
// (seeds may overlap the playlist); replace mode takes the pool as-is.
func buildDesired(current, pool []string, replace bool) []string {
	if replace {
		return pool
	}

	present := make(map[string]struct{}, len(current))
	for _, uri := range current {
		present[uri] = struct{}{}
	}

	desired := append([]string(nil), current...)
	for _, uri := range pool {
		if _, ok := present[uri]; ok {
			continue
		}
		desired = append(desired, uri)
	}
	return desired
}

func printGenerateStats(result *generate.Result) {
	fmt.Printf("generated %d tracks in %d rounds", len(result.URIs), result.Stats.Rounds)
	if result.Shortfall > 0 {
		fmt.Printf(" (%d short of target)", result.Shortfall)
	}
	fmt.Println()

	s := result.Stats
	dropped := s.DroppedNoName + s.DroppedExcluded + s.DroppedUnplayable +
		s.DroppedPopularity + s.DroppedDuration + s.DroppedMarket + s.DroppedByKey
	if dropped > 0 {
		fmt.Printf("filtered: %d excluded, %d unplayable, %d low popularity, %d too long, %d out of market, %d key cap, %d unnamed\n",
			s.DroppedExcluded, s.DroppedUnplayable, s.DroppedPopularity,
			s.DroppedDuration, s.DroppedMarket, s.DroppedByKey, s.DroppedNoName)
	}
	if s.SeedProfileUsed {
		fmt.Println("seed profile: active")
	}
	if s.KeyDiversityActive {
		fmt.Println("key diversity: active")
	}
}
