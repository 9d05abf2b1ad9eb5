package core

import (
	"context"
	"time"
)

type ItemKind int

const (
	// KindTrack represents a regular playable track entry
	KindTrack ItemKind = iota
	// KindEpisode represents a podcast episode entry
	KindEpisode
	// KindUnknown represents an entry the loader could not resolve
	KindUnknown
)

func (k ItemKind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindEpisode:
		return "episode"
	default:
		return "unknown"
	}
}

// PlaylistItem is one playlist entry as seen by the planners. Index is the
// zero-based position in the full playlist at load time. URI is set only for
// resolvable tracks. Popularity is -1 when the remote system did not report
// one. IsPlayable is nil when playability was not reported.
type PlaylistItem struct {
	Index            int
	Kind             ItemKind
	URI              string
	Name             string
	Popularity       int
	DurationMs       int
	IsPlayable       *bool
	AvailableMarkets []string
	AddedAt          time.Time
}

// PlaylistMeta is the playlist metadata captured when items are loaded.
// SnapshotID is the opaque version token used by the apply guard.
type PlaylistMeta struct {
	ID         string
	Name       string
	Owner      string
	SnapshotID string
	Total      int
}

// Candidate is one recommendation result with exactly the fields the
// generator filters on. Popularity is -1 when unknown, DurationMs is 0 when
// unknown, IsPlayable is nil when unreported.
type Candidate struct {
	URI              string
	Name             string
	Popularity       int
	DurationMs       int
	IsPlayable       *bool
	AvailableMarkets []string
}

// TrackFeatures is the per-track audio feature vector. Key is in [0,11] or
// -1 when the analysis did not report one.
type TrackFeatures struct {
	URI              string
	Key              int
	Acousticness     float64
	Danceability     float64
	Energy           float64
	Instrumentalness float64
	Liveness         float64
	Speechiness      float64
	Valence          float64
	Tempo            float64
	Loudness         float64
}

// TargetAttributes are averaged seed-profile targets passed to the
// recommendation endpoint instead of a flat popularity floor.
type TargetAttributes struct {
	Popularity       int
	Acousticness     float64
	Danceability     float64
	Energy           float64
	Instrumentalness float64
	Liveness         float64
	Speechiness      float64
	Valence          float64
	Tempo            float64
	Loudness         float64
}

// RecommendationQuery carries the quality parameters for one candidate batch.
// When Targets is non-nil the target attributes replace the MinPopularity
// floor in the remote query (local filtering still applies either way).
type RecommendationQuery struct {
	Market        string
	MinPopularity int
	MaxDurationMs int
	BatchSize     int
	Targets       *TargetAttributes
}

// FilterStats accumulates drop counters and profile-usage flags for one
// generation run. It is purely observational and never feeds back into the
// algorithm.
type FilterStats struct {
	DroppedNoName      int
	DroppedExcluded    int
	DroppedUnplayable  int
	DroppedPopularity  int
	DroppedDuration    int
	DroppedMarket      int
	DroppedByKey       int
	Rounds             int
	SeedProfileUsed    bool
	KeyDiversityActive bool
}

// ApplyResult is the outcome of a guarded mutation. Applied is true only if
// Changed was true, the caller requested apply, and the snapshot guard
// passed or was bypassed.
type ApplyResult struct {
	BeforeCount     int
	AfterCount      int
	RemovedCount    int
	DroppedEpisodes int
	Changed         bool
	Applied         bool
	SnapshotID      string
}

// PlaylistLoader fetches playlist metadata and normalized items.
type PlaylistLoader interface {
	PlaylistMeta(ctx context.Context, playlistID string) (*PlaylistMeta, error)
	PlaylistItems(ctx context.Context, playlistID string) ([]PlaylistItem, error)
}

// RecommendationSource returns a batch of candidates for up to 5 seed URIs.
// A permission/not-found class response surfaces as an endpoint-unavailable
// error so the caller can distinguish it from transient failures.
type RecommendationSource interface {
	Recommend(ctx context.Context, seedURIs []string, q RecommendationQuery) ([]Candidate, error)
}

// AudioFeatureSource resolves audio features for up to 100 track URIs.
// Tracks without analysis data are absent from the result map.
type AudioFeatureSource interface {
	AudioFeatures(ctx context.Context, uris []string) (map[string]TrackFeatures, error)
}

// TrackSource resolves per-track popularity for up to 100 track URIs.
type TrackSource interface {
	TrackPopularity(ctx context.Context, uris []string) (map[string]int, error)
}

// MutationGateway performs the remote playlist writes used by the apply
// protocol. ReplaceItems overwrites the playlist contents, AppendItems adds
// to the end; both return the new snapshot token.
type MutationGateway interface {
	SnapshotID(ctx context.Context, playlistID string) (string, error)
	ReplaceItems(ctx context.Context, playlistID string, uris []string) (string, error)
	AppendItems(ctx context.Context, playlistID string, uris []string) (string, error)
}
