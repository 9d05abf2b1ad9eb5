// Package main provides the playlistctl CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"playlistctl/internal/core"
	"playlistctl/internal/spotify"
	"playlistctl/internal/store"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "playlistctl",
	Short: "playlistctl - Spotify playlist transforms and generation",
	Long: `playlistctl reworks Spotify playlists from the command line: shuffle,
dedup, cleanup, sort, trim, and reverse transforms, plus recommendation-based
playlist generation. Every mutating command previews by default and only
writes with --apply, guarded against concurrent edits.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the shared error kinds onto distinct exit codes so scripts
// can tell bad invocations and lost guard races from real failures.
func exitCode(err error) int {
	switch {
	case core.IsUsage(err):
		return 2
	case core.IsConflict(err):
		return 3
	default:
		return 1
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify client secret")
	rootCmd.PersistentFlags().String("spotify-redirect-url", "", "OAuth redirect URL (loopback)")
	rootCmd.PersistentFlags().String("spotify-token-path", "", "path to the saved OAuth token")
	rootCmd.PersistentFlags().String("cache-path", "", "path to the audio-feature cache database")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("PLAYLISTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	if v := viper.GetString("spotify-redirect-url"); v != "" {
		cfg.Spotify.RedirectURL = v
	}
	if v := viper.GetString("spotify-token-path"); v != "" {
		cfg.Spotify.TokenPath = v
	}
	if v := viper.GetString("spotify-market"); v != "" {
		cfg.Spotify.Market = v
	}
	if v := viper.GetString("cache-path"); v != "" {
		cfg.Cache.Path = v
	}

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateSpotifyConfig() error {
	if config.Spotify.ClientID == "" {
		return core.UsageErrorf("spotify client ID is required")
	}
	if config.Spotify.ClientSecret == "" {
		return core.UsageErrorf("spotify client secret is required")
	}
	return nil
}

// commandContext returns a context cancelled on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newAuthenticatedClient builds the gateway client with the persistent
// feature cache attached and completes authentication.
func newAuthenticatedClient(ctx context.Context) (*spotify.Client, func(), error) {
	if err := validateSpotifyConfig(); err != nil {
		return nil, nil, err
	}

	var cache *store.FeatureCache
	if config.Cache.Path != "" {
		opened, err := store.OpenFeatureCache(config.Cache.Path, logger.Named("cache"))
		if err != nil {
			logger.Warn("Feature cache unavailable, continuing without it", zap.Error(err))
		} else {
			cache = opened
		}
	}

	client := spotify.NewClient(&config.Spotify, logger.Named("spotify"), cache)
	if err := client.Authenticate(ctx); err != nil {
		if cache != nil {
			_ = cache.Close()
		}
		return nil, nil, fmt.Errorf("failed to authenticate with Spotify: %w", err)
	}

	cleanup := func() {
		if cache != nil {
			_ = cache.Close()
		}
	}
	return client, cleanup, nil
}
