// Package generate produces a target-sized, filtered, key-diversified pool
// of track URIs from seed tracks by iteratively querying a recommendation
// source. Optional sub-fetches (seed profile, musical keys) degrade with a
// warning instead of failing the run; invalid parameters and an unavailable
// primary recommendation endpoint fail fast.
package generate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"playlistctl/internal/core"
)

const (
	// MinSeeds is the minimum number of unique seed tracks
	MinSeeds = 3
	// MaxSeeds is the maximum number of seed tracks the remote API accepts
	MaxSeeds = 5
	// MaxTargetSize is the largest pool the generator will build
	MaxTargetSize = 100
)

// Options are the per-run generation parameters. Zero values for MaxRounds,
// StagnationLimit, and BatchSize fall back to the configured defaults.
type Options struct {
	TargetSize         int
	MinPopularity      int
	MaxDurationMs      int
	Market             string
	Exclude            []string
	SeedProfile        bool
	KeyDiversity       bool
	MaxKeySharePercent int
	KeyShareSet        bool
	MaxRounds          int
	StagnationLimit    int
	BatchSize          int
}

// Result is the outcome of one generation run. A shortfall against the
// target is reported here as a warning, never as an error; the caller
// decides whether a partial pool is acceptable.
type Result struct {
	URIs      []string
	Shortfall int
	Stats     core.FilterStats
	Warnings  []string
}

type Generator struct {
	recommender core.RecommendationSource
	features    core.AudioFeatureSource
	tracks      core.TrackSource
	logger      *zap.Logger
}

func New(recommender core.RecommendationSource, features core.AudioFeatureSource, tracks core.TrackSource, logger *zap.Logger) *Generator {
	return &Generator{
		recommender: recommender,
		features:    features,
		tracks:      tracks,
		logger:      logger,
	}
}

// Generate builds a pool of up to opts.TargetSize track URIs. Seed URIs are
// always first in their given order. All parameter validation happens
// before the first network call.
func (g *Generator) Generate(ctx context.Context, seedURIs []string, opts Options) (*Result, error) {
	opts = withDefaults(opts)
	if err := validate(seedURIs, opts); err != nil {
		return nil, err
	}

	result := &Result{}
	seeds := uniqueSeeds(seedURIs, result)

	if len(seeds) < MinSeeds {
		return nil, core.UsageErrorf("need at least %d unique seed tracks, got %d", MinSeeds, len(seeds))
	}

	p := newPool(opts.TargetSize)
	for _, uri := range seeds {
		p.add(uri)
	}

	keyDiversity := opts.KeyDiversity
	result.Stats.KeyDiversityActive = keyDiversity

	var targets *core.TargetAttributes
	var seedFeatures map[string]core.TrackFeatures

	if opts.SeedProfile {
		pops, feats, err := g.fetchSeedData(ctx, seeds)
		switch {
		case err == nil:
			targets = deriveProfile(seeds, pops, feats, opts.MinPopularity)
			seedFeatures = feats
			result.Stats.SeedProfileUsed = true
		case core.IsEndpointUnavailable(err):
			g.logger.Warn("Seed profile endpoint unavailable, continuing without targets", zap.Error(err))
			result.Warnings = append(result.Warnings, "seed profile unavailable, falling back to popularity floor")
		default:
			return nil, fmt.Errorf("failed to derive seed profile: %w", err)
		}
	}

	if keyDiversity {
		feats := seedFeatures
		if feats == nil {
			var err error
			feats, err = g.features.AudioFeatures(ctx, seeds)
			if err != nil {
				if !core.IsEndpointUnavailable(err) {
					return nil, fmt.Errorf("failed to fetch seed keys: %w", err)
				}
				g.logger.Warn("Key endpoint unavailable, disabling key diversity for this run", zap.Error(err))
				result.Warnings = append(result.Warnings, "audio key lookup unavailable, key diversity disabled")
				keyDiversity = false
				result.Stats.KeyDiversityActive = false
			}
		}
		for _, uri := range seeds {
			if f, ok := feats[uri]; ok {
				p.countKey(f.Key)
			}
		}
	}

	keyCap := keyShareCap(opts.TargetSize, opts.MaxKeySharePercent)
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, uri := range opts.Exclude {
		excluded[uri] = struct{}{}
	}

	query := core.RecommendationQuery{
		Market:        opts.Market,
		MinPopularity: opts.MinPopularity,
		MaxDurationMs: opts.MaxDurationMs,
		BatchSize:     opts.BatchSize,
		Targets:       targets,
	}

	lastAdded := seeds
	stagnantRounds := 0

	for round := 0; round < opts.MaxRounds && !p.full(); round++ {
		result.Stats.Rounds++

		roundSeeds := rotatingSeeds(lastAdded)
		batch, err := g.recommender.Recommend(ctx, roundSeeds, query)
		if err != nil {
			return nil, fmt.Errorf("recommendation fetch failed: %w", err)
		}

		survivors := g.filterBatch(batch, p, excluded, opts, &result.Stats)

		if keyDiversity && len(survivors) > 0 {
			capped, err := g.capByKey(ctx, survivors, p, keyCap, &result.Stats)
			if err != nil {
				if !core.IsEndpointUnavailable(err) {
					return nil, fmt.Errorf("failed to fetch candidate keys: %w", err)
				}
				g.logger.Warn("Key endpoint unavailable mid-run, disabling key diversity", zap.Error(err))
				result.Warnings = append(result.Warnings, "audio key lookup unavailable, key diversity disabled")
				keyDiversity = false
				result.Stats.KeyDiversityActive = false
			} else {
				survivors = capped
			}
		}

		var added []string
		for _, uri := range survivors {
			if p.add(uri) {
				added = append(added, uri)
			}
		}

		g.logger.Debug("Generation round complete",
			zap.Int("round", round+1),
			zap.Int("candidates", len(batch)),
			zap.Int("added", len(added)),
			zap.Int("accepted", len(p.accepted)))

		if len(added) == 0 {
			stagnantRounds++
			if stagnantRounds >= opts.StagnationLimit {
				g.logger.Info("Stopping generation after stagnant rounds",
					zap.Int("stagnantRounds", stagnantRounds),
					zap.Int("accepted", len(p.accepted)))
				break
			}
			continue
		}

		stagnantRounds = 0
		lastAdded = added
	}

	result.URIs = p.accepted
	result.Shortfall = p.shortfall()
	if result.Shortfall > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("generated %d of %d requested tracks", len(result.URIs), opts.TargetSize))
	}

	return result, nil
}

// filterBatch runs each candidate through the ordered rejection filters.
// The first matching filter wins and increments its own counter; candidates
// already in the pool (or earlier in the same batch) are skipped silently.
func (g *Generator) filterBatch(batch []core.Candidate, p *pool, excluded map[string]struct{}, opts Options, stats *core.FilterStats) []string {
	var survivors []string
	inBatch := make(map[string]struct{}, len(batch))

	for _, c := range batch {
		if c.URI == "" {
			continue
		}
		if _, dup := inBatch[c.URI]; dup || p.contains(c.URI) {
			continue
		}
		inBatch[c.URI] = struct{}{}

		switch {
		case strings.TrimSpace(c.Name) == "":
			stats.DroppedNoName++
		case hasURI(excluded, c.URI):
			stats.DroppedExcluded++
		case c.IsPlayable != nil && !*c.IsPlayable:
			stats.DroppedUnplayable++
		case c.Popularity >= 0 && c.Popularity < opts.MinPopularity:
			stats.DroppedPopularity++
		case c.DurationMs > 0 && c.DurationMs > opts.MaxDurationMs:
			stats.DroppedDuration++
		case opts.Market != "" && len(c.AvailableMarkets) > 0 && !marketAvailable(c.AvailableMarkets, opts.Market):
			stats.DroppedMarket++
		default:
			survivors = append(survivors, c.URI)
		}
	}

	return survivors
}

// capByKey enforces the per-key cap on the surviving batch, incrementing
// key counters for the candidates it lets through. Candidates whose key is
// unknown are never capped.
func (g *Generator) capByKey(ctx context.Context, survivors []string, p *pool, keyCap int, stats *core.FilterStats) ([]string, error) {
	feats, err := g.features.AudioFeatures(ctx, survivors)
	if err != nil {
		return nil, err
	}

	capped := make([]string, 0, len(survivors))
	for _, uri := range survivors {
		key := -1
		if f, ok := feats[uri]; ok {
			key = f.Key
		}
		if p.keyAtCap(key, keyCap) {
			stats.DroppedByKey++
			continue
		}
		p.countKey(key)
		capped = append(capped, uri)
	}

	return capped, nil
}

// rotatingSeeds returns up to MaxSeeds of the most recently accepted URIs,
// most recent first.
func rotatingSeeds(lastAdded []string) []string {
	n := len(lastAdded)
	count := n
	if count > MaxSeeds {
		count = MaxSeeds
	}

	seeds := make([]string, 0, count)
	for i := n - 1; i >= n-count; i-- {
		seeds = append(seeds, lastAdded[i])
	}
	return seeds
}

// keyShareCap converts the share percentage into an absolute per-key cap,
// rounded up, never below one.
func keyShareCap(targetSize, sharePercent int) int {
	c := (targetSize*sharePercent + 99) / 100
	if c < 1 {
		c = 1
	}
	return c
}

// uniqueSeeds deduplicates the raw seed list preserving order, warning on
// each dropped duplicate.
func uniqueSeeds(raw []string, result *Result) []string {
	seen := make(map[string]struct{}, len(raw))
	unique := make([]string, 0, len(raw))
	for _, uri := range raw {
		if _, dup := seen[uri]; dup {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate seed dropped: %s", uri))
			continue
		}
		seen[uri] = struct{}{}
		unique = append(unique, uri)
	}
	return unique
}

func withDefaults(opts Options) Options {
	defaults := core.DefaultConfig().Generate
	if opts.MaxRounds == 0 {
		opts.MaxRounds = defaults.MaxRounds
	}
	if opts.StagnationLimit == 0 {
		opts.StagnationLimit = defaults.StagnationLimit
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.MaxKeySharePercent == 0 {
		opts.MaxKeySharePercent = defaults.MaxKeySharePercent
	}
	return opts
}

func validate(seedURIs []string, opts Options) error {
	if len(seedURIs) < MinSeeds || len(seedURIs) > MaxSeeds {
		return core.UsageErrorf("seed count must be between %d and %d, got %d", MinSeeds, MaxSeeds, len(seedURIs))
	}
	if opts.TargetSize < 1 || opts.TargetSize > MaxTargetSize {
		return core.UsageErrorf("target size must be between 1 and %d, got %d", MaxTargetSize, opts.TargetSize)
	}
	if opts.MinPopularity < 0 || opts.MinPopularity > 100 {
		return core.UsageErrorf("min popularity must be between 0 and 100, got %d", opts.MinPopularity)
	}
	if opts.MaxDurationMs <= 0 {
		return core.UsageErrorf("max duration must be positive, got %d", opts.MaxDurationMs)
	}
	if opts.MaxKeySharePercent < 1 || opts.MaxKeySharePercent > 100 {
		return core.UsageErrorf("max key share must be between 1 and 100, got %d", opts.MaxKeySharePercent)
	}
	if opts.KeyShareSet && !opts.KeyDiversity {
		return core.UsageErrorf("max key share requires key diversity to be enabled")
	}
	return nil
}

func hasURI(set map[string]struct{}, uri string) bool {
	_, ok := set[uri]
	return ok
}

func marketAvailable(markets []string, market string) bool {
	for _, m := range markets {
		if m == market {
			return true
		}
	}
	return false
}
