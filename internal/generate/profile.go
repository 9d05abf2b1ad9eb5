package generate

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"playlistctl/internal/core"
)

// fetchSeedData issues the seed popularity and audio-feature lookups
// concurrently and joins them. Both must complete; an error in either
// propagates to the caller, which decides whether it is the degradable
// endpoint-unavailable class.
func (g *Generator) fetchSeedData(ctx context.Context, seeds []string) (map[string]int, map[string]core.TrackFeatures, error) {
	var (
		pops  map[string]int
		feats map[string]core.TrackFeatures
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		pops, err = g.tracks.TrackPopularity(egCtx, seeds)
		return err
	})

	eg.Go(func() error {
		var err error
		feats, err = g.features.AudioFeatures(egCtx, seeds)
		return err
	})

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	return pops, feats, nil
}

// deriveProfile averages the seed attributes into recommendation targets.
// Each attribute is averaged across the seeds that report it; the target
// popularity is the rounded mean clamped to [0,100], defaulting to the
// popularity floor when no seed reported one.
func deriveProfile(seeds []string, pops map[string]int, feats map[string]core.TrackFeatures, defaultPopularity int) *core.TargetAttributes {
	target := &core.TargetAttributes{Popularity: defaultPopularity}

	var popSum, popCount int
	for _, uri := range seeds {
		if p, ok := pops[uri]; ok && p >= 0 {
			popSum += p
			popCount++
		}
	}
	if popCount > 0 {
		mean := int(math.Round(float64(popSum) / float64(popCount)))
		if mean < 0 {
			mean = 0
		}
		if mean > 100 {
			mean = 100
		}
		target.Popularity = mean
	}

	var sum core.TargetAttributes
	var featCount int
	for _, uri := range seeds {
		f, ok := feats[uri]
		if !ok {
			continue
		}
		featCount++
		sum.Acousticness += f.Acousticness
		sum.Danceability += f.Danceability
		sum.Energy += f.Energy
		sum.Instrumentalness += f.Instrumentalness
		sum.Liveness += f.Liveness
		sum.Speechiness += f.Speechiness
		sum.Valence += f.Valence
		sum.Tempo += f.Tempo
		sum.Loudness += f.Loudness
	}
	if featCount > 0 {
		n := float64(featCount)
		target.Acousticness = sum.Acousticness / n
		target.Danceability = sum.Danceability / n
		target.Energy = sum.Energy / n
		target.Instrumentalness = sum.Instrumentalness / n
		target.Liveness = sum.Liveness / n
		target.Speechiness = sum.Speechiness / n
		target.Valence = sum.Valence / n
		target.Tempo = sum.Tempo / n
		target.Loudness = sum.Loudness / n
	}

	return target
}
