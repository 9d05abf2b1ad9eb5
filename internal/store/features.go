package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"playlistctl/internal/core"
)

// FeatureCache is a sqlite-backed cache of per-track audio features. Audio
// analysis is immutable for a given track, so entries never expire; the
// cache only saves repeat lookups across invocations.
type FeatureCache struct {
	db     *sql.DB
	logger *zap.Logger
}

const featureSchema = `
CREATE TABLE IF NOT EXISTS audio_features (
	uri              TEXT PRIMARY KEY,
	musical_key      INTEGER NOT NULL,
	acousticness     REAL NOT NULL,
	danceability     REAL NOT NULL,
	energy           REAL NOT NULL,
	instrumentalness REAL NOT NULL,
	liveness         REAL NOT NULL,
	speechiness      REAL NOT NULL,
	valence          REAL NOT NULL,
	tempo            REAL NOT NULL,
	loudness         REAL NOT NULL
);
`

// OpenFeatureCache opens (creating if needed) the cache database at path.
func OpenFeatureCache(path string, logger *zap.Logger) (*FeatureCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature cache: %w", err)
	}

	if _, err := db.Exec(featureSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize feature cache schema: %w", err)
	}

	return &FeatureCache{db: db, logger: logger}, nil
}

// Get returns the cached features for the given URIs. URIs without an entry
// are simply absent from the result map.
func (c *FeatureCache) Get(uris []string) (map[string]core.TrackFeatures, error) {
	result := make(map[string]core.TrackFeatures, len(uris))
	if len(uris) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(uris))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(uris))
	for i, uri := range uris {
		args[i] = uri
	}

	query := `SELECT uri, musical_key, acousticness, danceability, energy,
		instrumentalness, liveness, speechiness, valence, tempo, loudness
		FROM audio_features WHERE uri IN (` + placeholders + `)`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f core.TrackFeatures
		if err := rows.Scan(&f.URI, &f.Key, &f.Acousticness, &f.Danceability,
			&f.Energy, &f.Instrumentalness, &f.Liveness, &f.Speechiness,
			&f.Valence, &f.Tempo, &f.Loudness); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		result[f.URI] = f
	}

	return result, rows.Err()
}

// Put stores features, replacing any existing entries for the same URIs.
func (c *FeatureCache) Put(features []core.TrackFeatures) error {
	if len(features) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO audio_features
		(uri, musical_key, acousticness, danceability, energy,
		 instrumentalness, liveness, speechiness, valence, tempo, loudness)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range features {
		if _, err := stmt.Exec(f.URI, f.Key, f.Acousticness, f.Danceability,
			f.Energy, f.Instrumentalness, f.Liveness, f.Speechiness,
			f.Valence, f.Tempo, f.Loudness); err != nil {
			return fmt.Errorf("failed to cache features for %s: %w", f.URI, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache transaction: %w", err)
	}

	c.logger.Debug("Cached audio features", zap.Int("count", len(features)))
	return nil
}

// Close closes the underlying database.
func (c *FeatureCache) Close() error {
	return c.db.Close()
}
