// Package plan computes desired playlist orderings from a loaded snapshot.
// Every operation is a pure function from an item sequence to a URI
// sequence; episodes and unresolvable entries never survive into the output,
// they are dropped and counted. Parameter validation happens at the caller
// boundary, not here: these functions do not fail on well-formed input.
package plan

import (
	"sort"

	"playlistctl/internal/core"
	"playlistctl/pkg/fuzzy"
)

// Result is the output of one planning operation: the desired URI sequence
// and the number of episode/unknown entries that were dropped to produce it.
type Result struct {
	URIs            []string
	DroppedEpisodes int
}

type KeepMode int

const (
	// KeepFirst keeps the first occurrence of each duplicate
	KeepFirst KeepMode = iota
	// KeepLast keeps the last occurrence of each duplicate
	KeepLast
)

type MatchMode int

const (
	// MatchURI treats two entries as duplicates when their URIs are equal
	MatchURI MatchMode = iota
	// MatchTitle treats two entries as duplicates when their normalized
	// titles are equal (feat/remix/remaster decorations stripped)
	MatchTitle
)

type SortKey int

const (
	// SortByAddedAt orders by the time the entry was added to the playlist
	SortByAddedAt SortKey = iota
	// SortByPopularity orders by track popularity
	SortByPopularity
)

// ShuffleParams selects one of three mutually exclusive shuffle modes:
// whole-sequence (GroupSize and Groups both zero), fixed-size grouping, or
// fixed-count grouping. A non-nil Seed makes the permutation deterministic.
type ShuffleParams struct {
	Seed      *int64
	GroupSize int
	Groups    int
}

// splitTracks separates track items from episode/unknown items. Only tracks
// with a resolvable URI participate in any planning operation.
func splitTracks(items []core.PlaylistItem) (tracks []core.PlaylistItem, dropped int) {
	tracks = make([]core.PlaylistItem, 0, len(items))
	for _, it := range items {
		if it.Kind == core.KindTrack && it.URI != "" {
			tracks = append(tracks, it)
		} else {
			dropped++
		}
	}
	return tracks, dropped
}

func uris(tracks []core.PlaylistItem) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.URI
	}
	return out
}

// Shuffle randomly permutes the track URIs. Degenerate inputs (0 or 1
// tracks) are returned unchanged.
func Shuffle(items []core.PlaylistItem, p ShuffleParams) Result {
	tracks, dropped := splitTracks(items)
	out := uris(tracks)

	if len(out) < 2 {
		return Result{URIs: out, DroppedEpisodes: dropped}
	}

	var r *rng
	if p.Seed != nil {
		r = newRNG(*p.Seed)
	} else {
		r = newTimeRNG()
	}

	switch {
	case p.GroupSize > 0:
		shuffleFixedSize(r, out, p.GroupSize)
	case p.Groups > 0:
		shuffleFixedCount(r, out, p.Groups)
	default:
		r.shuffle(out)
	}

	return Result{URIs: out, DroppedEpisodes: dropped}
}

// shuffleFixedSize splits into consecutive chunks of size elements (last
// chunk may be shorter) and shuffles within each chunk, preserving chunk
// order.
func shuffleFixedSize(r *rng, out []string, size int) {
	for start := 0; start < len(out); start += size {
		end := start + size
		if end > len(out) {
			end = len(out)
		}
		r.shuffle(out[start:end])
	}
}

// shuffleFixedCount splits into exactly groups chunks whose sizes differ by
// at most one, earlier chunks taking the remainder, and shuffles within
// each.
func shuffleFixedCount(r *rng, out []string, groups int) {
	if groups > len(out) {
		groups = len(out)
	}
	base := len(out) / groups
	rem := len(out) % groups

	start := 0
	for g := 0; g < groups; g++ {
		size := base
		if g < rem {
			size++
		}
		r.shuffle(out[start : start+size])
		start += size
	}
}

// DedupParams selects which occurrence of a duplicate survives and how
// duplicates are identified. Title matching keys on the normalized track
// name and falls back to the URI for unnamed tracks.
type DedupParams struct {
	Keep  KeepMode
	Match MatchMode
}

// Dedup removes duplicate tracks, keeping either the first or last
// occurrence per key. The relative order of surviving entries always
// matches their original positions.
func Dedup(items []core.PlaylistItem, p DedupParams) Result {
	tracks, dropped := splitTracks(items)

	var normalizer *fuzzy.Normalizer
	if p.Match == MatchTitle {
		normalizer = fuzzy.NewNormalizer()
	}

	key := func(t core.PlaylistItem) string {
		if p.Match == MatchTitle && t.Name != "" {
			return "title:" + normalizer.NormalizeTitle(t.Name)
		}
		return "uri:" + t.URI
	}

	if p.Keep == KeepFirst {
		seen := make(map[string]struct{}, len(tracks))
		out := make([]string, 0, len(tracks))
		for _, t := range tracks {
			k := key(t)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, t.URI)
		}
		return Result{URIs: out, DroppedEpisodes: dropped}
	}

	// keep=last: walk backward keeping first sighting, then reverse so the
	// survivors stay in original relative order.
	seen := make(map[string]struct{}, len(tracks))
	out := make([]string, 0, len(tracks))
	for i := len(tracks) - 1; i >= 0; i-- {
		k := key(tracks[i])
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, tracks[i].URI)
	}
	reverse(out)
	return Result{URIs: out, DroppedEpisodes: dropped}
}

// Cleanup drops episodes, tracks explicitly marked unplayable, and - when a
// market code is given - tracks whose declared market list excludes that
// market. An empty or absent market list never causes a drop: missing data
// must not imply unavailability.
func Cleanup(items []core.PlaylistItem, market string) Result {
	tracks, dropped := splitTracks(items)
	out := make([]string, 0, len(tracks))

	for _, t := range tracks {
		if t.IsPlayable != nil && !*t.IsPlayable {
			continue
		}
		if market != "" && len(t.AvailableMarkets) > 0 && !containsMarket(t.AvailableMarkets, market) {
			continue
		}
		out = append(out, t.URI)
	}

	return Result{URIs: out, DroppedEpisodes: dropped}
}

func containsMarket(markets []string, market string) bool {
	for _, m := range markets {
		if m == market {
			return true
		}
	}
	return false
}

// Sort stably orders tracks by added-at timestamp (missing values sort as
// epoch zero) or by popularity (missing values as -1, below everything).
func Sort(items []core.PlaylistItem, by SortKey, descending bool) Result {
	tracks, dropped := splitTracks(items)

	less := func(a, b core.PlaylistItem) bool {
		if by == SortByPopularity {
			return a.Popularity < b.Popularity
		}
		return a.AddedAt.Before(b.AddedAt)
	}

	sort.SliceStable(tracks, func(i, j int) bool {
		if descending {
			return less(tracks[j], tracks[i])
		}
		return less(tracks[i], tracks[j])
	})

	return Result{URIs: uris(tracks), DroppedEpisodes: dropped}
}

// Trim keeps the first (or last) keep track URIs in original order. keep=0
// yields an empty result; negative values are rejected at the caller
// boundary before this is reached.
func Trim(items []core.PlaylistItem, keep int, fromEnd bool) Result {
	tracks, dropped := splitTracks(items)
	out := uris(tracks)

	if keep >= len(out) {
		return Result{URIs: out, DroppedEpisodes: dropped}
	}
	if fromEnd {
		out = out[len(out)-keep:]
	} else {
		out = out[:keep]
	}
	return Result{URIs: out, DroppedEpisodes: dropped}
}

// Reverse reverses the track URI order. Applying it twice restores the
// original sequence.
func Reverse(items []core.PlaylistItem) Result {
	tracks, dropped := splitTracks(items)
	out := uris(tracks)
	reverse(out)
	return Result{URIs: out, DroppedEpisodes: dropped}
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
