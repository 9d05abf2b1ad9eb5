// Package core defines the shared data model, configuration, and error
// taxonomy for the playlist planners, generator, and apply protocol.
package core

import (
	"time"
)

type Config struct {
	Spotify  SpotifyConfig
	Generate GenerateConfig
	Apply    ApplyConfig
	Cache    CacheConfig
	Log      LogConfig
}

type SpotifyConfig struct {
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	TokenPath         string
	Market            string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

type GenerateConfig struct {
	TargetSize         int
	MinPopularity      int
	MaxDurationMs      int
	MaxKeySharePercent int
	MaxRounds          int
	StagnationLimit    int
	BatchSize          int
}

type ApplyConfig struct {
	ChunkSize int
}

type CacheConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL:       "http://127.0.0.1:8913/callback",
			TokenPath:         "./spotify_token.json",
			RequestTimeout:    15 * time.Second,
			RequestsPerSecond: 8,
		},
		Generate: GenerateConfig{
			TargetSize:         100,
			MinPopularity:      30,
			MaxDurationMs:      600000,
			MaxKeySharePercent: 25,
			MaxRounds:          8,
			StagnationLimit:    2,
			BatchSize:          50,
		},
		Apply: ApplyConfig{
			ChunkSize: 100,
		},
		Cache: CacheConfig{
			Path: "./playlistctl_cache.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
