// Package spotify provides the Spotify Web API gateway: playlist loading and
// normalization, recommendation and audio-feature fetching, and the chunked
// mutation calls used by the guarded apply protocol.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"playlistctl/internal/core"
	httpserver "playlistctl/internal/http"
	"playlistctl/internal/store"
)

const (
	// FilePermission is the permission for token files
	FilePermission = 0600
	// PageLimit is the per-request page size for playlist item loading
	PageLimit = 100
	// FeatureBatchLimit is the per-request cap of the audio-feature endpoint
	FeatureBatchLimit = 100
	// TrackBatchLimit is the per-request cap of the track lookup endpoint
	TrackBatchLimit = 50
	// FeatureLRUSize bounds the in-process audio-feature cache
	FeatureLRUSize = 2048
	// AuthState is the OAuth state parameter for the loopback flow
	AuthState = "playlistctl-auth-state"

	trackURIPrefix = "spotify:track:"
)

type Client struct {
	config   *core.SpotifyConfig
	logger   *zap.Logger
	client   *spotify.Client
	auth     *spotifyauth.Authenticator
	limiter  *rate.Limiter
	features *lru.Cache[string, core.TrackFeatures]
	cache    *store.FeatureCache
}

// NewClient creates a gateway client. cache may be nil to disable the
// persistent audio-feature cache.
func NewClient(config *core.SpotifyConfig, logger *zap.Logger, cache *store.FeatureCache) *Client {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(config.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistReadPrivate,
			spotifyauth.ScopePlaylistModifyPublic,
			spotifyauth.ScopePlaylistModifyPrivate,
			spotifyauth.ScopeImageUpload,
		),
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithClientSecret(config.ClientSecret),
	)

	featureLRU, _ := lru.New[string, core.TrackFeatures](FeatureLRUSize)

	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}

	return &Client{
		config:   config,
		logger:   logger,
		auth:     auth,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		features: featureLRU,
		cache:    cache,
	}
}

// Authenticate loads the saved token or runs the loopback OAuth flow.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.loadToken()
	if err == nil {
		client := spotify.New(c.auth.Client(ctx, token), spotify.WithRetry(true))
		if _, userErr := client.CurrentUser(ctx); userErr == nil {
			c.client = client
			return nil
		}
		c.logger.Warn("Saved token invalid, starting OAuth flow")
	} else {
		c.logger.Info("No saved token found, starting OAuth flow")
	}

	return c.startOAuthFlow(ctx)
}

// HasToken reports whether a saved token file exists and parses.
func (c *Client) HasToken() bool {
	_, err := c.loadToken()
	return err == nil
}

// AuthenticateSilent uses the saved token without ever starting the browser
// flow. Used by status checks that must not block on user interaction.
func (c *Client) AuthenticateSilent(ctx context.Context) error {
	token, err := c.loadToken()
	if err != nil {
		return fmt.Errorf("no saved token: %w", err)
	}

	client := spotify.New(c.auth.Client(ctx, token), spotify.WithRetry(true))
	if _, err := client.CurrentUser(ctx); err != nil {
		return c.classify(fmt.Errorf("saved token rejected: %w", err))
	}
	c.client = client
	return nil
}

// CurrentUser returns the authenticated user's id and display name.
func (c *Client) CurrentUser(ctx context.Context) (id, displayName string, err error) {
	if c.client == nil {
		return "", "", fmt.Errorf("client not authenticated")
	}

	if err := c.wait(ctx); err != nil {
		return "", "", err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	user, err := c.client.CurrentUser(callCtx)
	if err != nil {
		return "", "", c.classify(fmt.Errorf("failed to get current user: %w", err))
	}
	return user.ID, user.DisplayName, nil
}

// PlaylistMeta fetches playlist metadata including the snapshot token.
func (c *Client) PlaylistMeta(ctx context.Context, playlistID string) (*core.PlaylistMeta, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	playlist, err := c.client.GetPlaylist(callCtx, spotify.ID(playlistID))
	if err != nil {
		return nil, c.classify(fmt.Errorf("failed to get playlist: %w", err))
	}

	return &core.PlaylistMeta{
		ID:         string(playlist.ID),
		Name:       playlist.Name,
		Owner:      playlist.Owner.DisplayName,
		SnapshotID: playlist.SnapshotID,
		Total:      int(playlist.Tracks.Total),
	}, nil
}

// PlaylistItems loads and normalizes all playlist entries, paging through
// the full playlist.
func (c *Client) PlaylistItems(ctx context.Context, playlistID string) ([]core.PlaylistItem, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	var items []core.PlaylistItem
	offset := 0

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := c.callContext(ctx)
		page, err := c.client.GetPlaylistItems(callCtx, spotify.ID(playlistID),
			spotify.Limit(PageLimit), spotify.Offset(offset))
		cancel()
		if err != nil {
			return nil, c.classify(fmt.Errorf("failed to get playlist items: %w", err))
		}

		for i := range page.Items {
			items = append(items, normalizeItem(&page.Items[i], len(items)))
		}

		if len(page.Items) < PageLimit {
			break
		}
		offset += PageLimit
	}

	c.logger.Debug("Loaded playlist items",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(items)))

	return items, nil
}

// normalizeItem maps a raw playlist entry onto the planner representation.
// Local files and entries without a track id keep KindUnknown so planners
// preserve them untouched.
func normalizeItem(item *spotify.PlaylistItem, index int) core.PlaylistItem {
	normalized := core.PlaylistItem{
		Index:      index,
		Kind:       core.KindUnknown,
		Popularity: -1,
	}

	if item.AddedAt != "" {
		if ts, err := time.Parse(spotify.TimestampLayout, item.AddedAt); err == nil {
			normalized.AddedAt = ts
		}
	}

	switch {
	case item.Track.Episode != nil:
		normalized.Kind = core.KindEpisode
		normalized.Name = item.Track.Episode.Name
	case item.Track.Track != nil && !item.IsLocal && item.Track.Track.ID != "":
		t := item.Track.Track
		normalized.Kind = core.KindTrack
		normalized.URI = string(t.URI)
		normalized.Name = t.Name
		normalized.Popularity = int(t.Popularity)
		normalized.DurationMs = int(t.Duration)
		normalized.IsPlayable = t.IsPlayable
		normalized.AvailableMarkets = t.AvailableMarkets
	}

	return normalized
}

// SnapshotID fetches just the playlist's current version token, used by the
// apply guard.
func (c *Client) SnapshotID(ctx context.Context, playlistID string) (string, error) {
	meta, err := c.PlaylistMeta(ctx, playlistID)
	if err != nil {
		return "", err
	}
	return meta.SnapshotID, nil
}

// ReplaceItems overwrites the playlist contents with the given URIs. The
// replace endpoint returns no snapshot token, so the new token is re-read
// afterwards.
func (c *Client) ReplaceItems(ctx context.Context, playlistID string, uris []string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("client not authenticated")
	}

	ids, err := urisToIDs(uris)
	if err != nil {
		return "", err
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.client.ReplacePlaylistTracks(callCtx, spotify.ID(playlistID), ids...); err != nil {
		return "", c.classify(fmt.Errorf("failed to replace playlist items: %w", err))
	}

	c.logger.Debug("Replaced playlist items",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(uris)))

	return c.SnapshotID(ctx, playlistID)
}

// AppendItems adds the given URIs to the end of the playlist and returns
// the new snapshot token.
func (c *Client) AppendItems(ctx context.Context, playlistID string, uris []string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("client not authenticated")
	}

	ids, err := urisToIDs(uris)
	if err != nil {
		return "", err
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	snapshot, err := c.client.AddTracksToPlaylist(callCtx, spotify.ID(playlistID), ids...)
	if err != nil {
		return "", c.classify(fmt.Errorf("failed to append playlist items: %w", err))
	}

	c.logger.Debug("Appended playlist items",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(uris)))

	return snapshot, nil
}

// Recommend fetches one candidate batch for the given seed URIs. The
// recommendation endpoint returns stripped-down tracks, so the batch is
// re-fetched through the track endpoint to fill in the fields the
// pool filters need.
func (c *Client) Recommend(ctx context.Context, seedURIs []string, q core.RecommendationQuery) ([]core.Candidate, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	seedIDs, err := urisToIDs(seedURIs)
	if err != nil {
		return nil, err
	}

	attrs := spotify.NewTrackAttributes().MaxDuration(q.MaxDurationMs)
	if q.Targets != nil {
		t := q.Targets
		attrs = attrs.
			TargetPopularity(t.Popularity).
			TargetAcousticness(t.Acousticness).
			TargetDanceability(t.Danceability).
			TargetEnergy(t.Energy).
			TargetInstrumentalness(t.Instrumentalness).
			TargetLiveness(t.Liveness).
			TargetSpeechiness(t.Speechiness).
			TargetValence(t.Valence).
			TargetTempo(t.Tempo).
			TargetLoudness(t.Loudness)
	} else {
		attrs = attrs.MinPopularity(q.MinPopularity)
	}

	opts := []spotify.RequestOption{spotify.Limit(q.BatchSize)}
	if q.Market != "" {
		opts = append(opts, spotify.Market(q.Market))
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	recs, err := c.client.GetRecommendations(callCtx, spotify.Seeds{Tracks: seedIDs}, attrs, opts...)
	cancel()
	if err != nil {
		return nil, c.classify(fmt.Errorf("failed to get recommendations: %w", err))
	}

	ids := make([]spotify.ID, 0, len(recs.Tracks))
	for i := range recs.Tracks {
		if recs.Tracks[i].ID != "" {
			ids = append(ids, recs.Tracks[i].ID)
		}
	}

	tracks, err := c.fullTracks(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]core.Candidate, 0, len(tracks))
	for _, t := range tracks {
		if t == nil {
			continue
		}
		candidates = append(candidates, core.Candidate{
			URI:              string(t.URI),
			Name:             t.Name,
			Popularity:       int(t.Popularity),
			DurationMs:       int(t.Duration),
			IsPlayable:       t.IsPlayable,
			AvailableMarkets: t.AvailableMarkets,
		})
	}

	c.logger.Debug("Fetched recommendation batch",
		zap.Int("seeds", len(seedIDs)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// TrackPopularity resolves per-track popularity for the given URIs.
func (c *Client) TrackPopularity(ctx context.Context, uris []string) (map[string]int, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	ids, err := urisToIDs(uris)
	if err != nil {
		return nil, err
	}

	tracks, err := c.fullTracks(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make(map[string]int, len(tracks))
	for _, t := range tracks {
		if t != nil {
			result[string(t.URI)] = int(t.Popularity)
		}
	}
	return result, nil
}

func (c *Client) fullTracks(ctx context.Context, ids []spotify.ID) ([]*spotify.FullTrack, error) {
	var tracks []*spotify.FullTrack

	for start := 0; start < len(ids); start += TrackBatchLimit {
		end := start + TrackBatchLimit
		if end > len(ids) {
			end = len(ids)
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := c.callContext(ctx)
		batch, err := c.client.GetTracks(callCtx, ids[start:end])
		cancel()
		if err != nil {
			return nil, c.classify(fmt.Errorf("failed to get tracks: %w", err))
		}
		tracks = append(tracks, batch...)
	}

	return tracks, nil
}

// AudioFeatures resolves audio features for the given URIs, checking the
// in-process LRU, then the persistent cache, then the API. Tracks without
// analysis data are absent from the result.
func (c *Client) AudioFeatures(ctx context.Context, uris []string) (map[string]core.TrackFeatures, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	result := make(map[string]core.TrackFeatures, len(uris))
	var missing []string

	for _, uri := range uris {
		if f, ok := c.features.Get(uri); ok {
			result[uri] = f
		} else {
			missing = append(missing, uri)
		}
	}

	if len(missing) > 0 && c.cache != nil {
		cached, err := c.cache.Get(missing)
		if err != nil {
			c.logger.Warn("Feature cache read failed", zap.Error(err))
		} else {
			remaining := missing[:0]
			for _, uri := range missing {
				if f, ok := cached[uri]; ok {
					result[uri] = f
					c.features.Add(uri, f)
				} else {
					remaining = append(remaining, uri)
				}
			}
			missing = remaining
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.fetchAudioFeatures(ctx, missing)
	if err != nil {
		return nil, err
	}

	fresh := make([]core.TrackFeatures, 0, len(fetched))
	for uri, f := range fetched {
		result[uri] = f
		c.features.Add(uri, f)
		fresh = append(fresh, f)
	}
	if c.cache != nil && len(fresh) > 0 {
		if err := c.cache.Put(fresh); err != nil {
			c.logger.Warn("Feature cache write failed", zap.Error(err))
		}
	}

	return result, nil
}

func (c *Client) fetchAudioFeatures(ctx context.Context, uris []string) (map[string]core.TrackFeatures, error) {
	result := make(map[string]core.TrackFeatures, len(uris))

	for start := 0; start < len(uris); start += FeatureBatchLimit {
		end := start + FeatureBatchLimit
		if end > len(uris) {
			end = len(uris)
		}

		ids, err := urisToIDs(uris[start:end])
		if err != nil {
			return nil, err
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := c.callContext(ctx)
		batch, err := c.client.GetAudioFeatures(callCtx, ids...)
		cancel()
		if err != nil {
			return nil, c.classify(fmt.Errorf("failed to get audio features: %w", err))
		}

		for _, af := range batch {
			if af == nil {
				continue
			}
			uri := trackURIPrefix + string(af.ID)
			result[uri] = core.TrackFeatures{
				URI:              uri,
				Key:              int(af.Key),
				Acousticness:     float64(af.Acousticness),
				Danceability:     float64(af.Danceability),
				Energy:           float64(af.Energy),
				Instrumentalness: float64(af.Instrumentalness),
				Liveness:         float64(af.Liveness),
				Speechiness:      float64(af.Speechiness),
				Valence:          float64(af.Valence),
				Tempo:            float64(af.Tempo),
				Loudness:         float64(af.Loudness),
			}
		}
	}

	return result, nil
}

// UserPlaylists lists the authenticated user's playlists.
func (c *Client) UserPlaylists(ctx context.Context) ([]core.PlaylistMeta, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	var playlists []core.PlaylistMeta
	offset := 0

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := c.callContext(ctx)
		page, err := c.client.CurrentUsersPlaylists(callCtx, spotify.Limit(50), spotify.Offset(offset))
		cancel()
		if err != nil {
			return nil, c.classify(fmt.Errorf("failed to list playlists: %w", err))
		}

		for i := range page.Playlists {
			p := &page.Playlists[i]
			playlists = append(playlists, core.PlaylistMeta{
				ID:         string(p.ID),
				Name:       p.Name,
				Owner:      p.Owner.DisplayName,
				SnapshotID: p.SnapshotID,
				Total:      int(p.Tracks.Total),
			})
		}

		if len(page.Playlists) < 50 {
			break
		}
		offset += 50
	}

	return playlists, nil
}

// CreatePlaylist creates a playlist for the authenticated user.
func (c *Client) CreatePlaylist(ctx context.Context, name, description string, public bool) (*core.PlaylistMeta, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	userID, _, err := c.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	playlist, err := c.client.CreatePlaylistForUser(callCtx, userID, name, description, public, false)
	if err != nil {
		return nil, c.classify(fmt.Errorf("failed to create playlist: %w", err))
	}

	c.logger.Info("Created playlist",
		zap.String("playlistID", string(playlist.ID)),
		zap.String("name", name))

	return &core.PlaylistMeta{
		ID:         string(playlist.ID),
		Name:       playlist.Name,
		Owner:      playlist.Owner.DisplayName,
		SnapshotID: playlist.SnapshotID,
	}, nil
}

// UploadCover replaces the playlist cover with the JPEG read from img.
func (c *Client) UploadCover(ctx context.Context, playlistID string, img io.Reader) error {
	if c.client == nil {
		return fmt.Errorf("client not authenticated")
	}

	if err := c.wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.client.SetPlaylistImage(callCtx, spotify.ID(playlistID), img); err != nil {
		return c.classify(fmt.Errorf("failed to upload cover: %w", err))
	}

	c.logger.Info("Uploaded playlist cover", zap.String("playlistID", playlistID))
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	return nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.config.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// classify maps raw transport errors onto the shared error kinds so callers
// can pattern-match on kinds instead of status codes.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}

	var spotifyErr spotify.Error
	if errors.As(err, &spotifyErr) {
		switch spotifyErr.Status {
		case http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: %v", core.ErrEndpointUnavailable, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", core.ErrNetwork, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}

	return err
}

func (c *Client) startOAuthFlow(ctx context.Context) error {
	redirect, err := url.Parse(c.config.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect URL: %w", err)
	}

	callback := httpserver.NewCallbackServer(redirect.Host, redirect.Path, AuthState, c.logger.Named("callback"))
	if err := callback.Start(); err != nil {
		return fmt.Errorf("failed to start callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = callback.Shutdown(shutdownCtx)
	}()

	authURL := c.auth.AuthURL(AuthState)
	fmt.Printf("Please visit the following URL to authorize the application:\n%s\n", authURL)

	code, err := callback.WaitForCode(ctx)
	if err != nil {
		return fmt.Errorf("authorization not completed: %w", err)
	}

	token, err := c.auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if saveErr := c.saveToken(token); saveErr != nil {
		c.logger.Warn("Failed to save token", zap.Error(saveErr))
	}

	client := spotify.New(c.auth.Client(ctx, token), spotify.WithRetry(true))

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return c.classify(fmt.Errorf("failed to get current user: %w", err))
	}
	c.client = client

	c.logger.Info("OAuth flow completed successfully", zap.String("user", user.DisplayName))
	return nil
}

func (c *Client) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.config.TokenPath)
	if err != nil {
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("token file is empty")
	}
	return &token, nil
}

func (c *Client) saveToken(token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := os.WriteFile(c.config.TokenPath, data, FilePermission); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func urisToIDs(uris []string) ([]spotify.ID, error) {
	ids := make([]spotify.ID, 0, len(uris))
	for _, uri := range uris {
		id := strings.TrimPrefix(uri, trackURIPrefix)
		if id == "" || strings.Contains(id, ":") {
			return nil, core.UsageErrorf("not a track URI: %s", uri)
		}
		ids = append(ids, spotify.ID(id))
	}
	return ids, nil
}
