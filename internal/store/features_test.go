package store

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"playlistctl/internal/core"
)

func testCache(t *testing.T) *FeatureCache {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := OpenFeatureCache(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open feature cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	return cache
}

func TestFeatureCache_RoundTrip(t *testing.T) {
	cache := testCache(t)

	want := core.TrackFeatures{
		URI:          "spotify:track:a",
		Key:          7,
		Acousticness: 0.25,
		Danceability: 0.8,
		Energy:       0.6,
		Tempo:        120.5,
		Loudness:     -6.5,
	}
	if err := cache.Put([]core.TrackFeatures{want}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := cache.Get([]string{"spotify:track:a", "spotify:track:missing"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("Expected 1 cached entry, got %d", len(got))
	}
	f, ok := got["spotify:track:a"]
	if !ok {
		t.Fatal("Cached URI missing from result")
	}
	if f.Key != 7 || f.Tempo != 120.5 || f.Danceability != 0.8 {
		t.Errorf("Cached features mismatch: %+v", f)
	}
}

func TestFeatureCache_ReplaceExisting(t *testing.T) {
	cache := testCache(t)

	first := core.TrackFeatures{URI: "spotify:track:a", Key: 1}
	second := core.TrackFeatures{URI: "spotify:track:a", Key: 9}

	if err := cache.Put([]core.TrackFeatures{first}); err != nil {
		t.Fatalf("First put failed: %v", err)
	}
	if err := cache.Put([]core.TrackFeatures{second}); err != nil {
		t.Fatalf("Second put failed: %v", err)
	}

	got, err := cache.Get([]string{"spotify:track:a"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["spotify:track:a"].Key != 9 {
		t.Errorf("Expected replaced key 9, got %d", got["spotify:track:a"].Key)
	}
}

func TestFeatureCache_EmptyQueries(t *testing.T) {
	cache := testCache(t)

	if err := cache.Put(nil); err != nil {
		t.Errorf("Empty put should succeed, got %v", err)
	}

	got, err := cache.Get(nil)
	if err != nil {
		t.Errorf("Empty get should succeed, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Empty get should return empty map, got %v", got)
	}
}
