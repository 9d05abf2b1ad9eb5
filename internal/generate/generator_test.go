package generate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"playlistctl/internal/core"
)

type fakeRecommender struct {
	batches   [][]core.Candidate
	calls     int
	seedsSeen [][]string
	err       error
}

func (f *fakeRecommender) Recommend(_ context.Context, seeds []string, _ core.RecommendationQuery) ([]core.Candidate, error) {
	f.seedsSeen = append(f.seedsSeen, seeds)
	if f.err != nil {
		return nil, f.err
	}
	var batch []core.Candidate
	if f.calls < len(f.batches) {
		batch = f.batches[f.calls]
	} else if len(f.batches) > 0 {
		batch = f.batches[len(f.batches)-1]
	}
	f.calls++
	return batch, nil
}

type fakeFeatures struct {
	features map[string]core.TrackFeatures
	err      error
	calls    int
}

func (f *fakeFeatures) AudioFeatures(_ context.Context, uris []string) (map[string]core.TrackFeatures, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := make(map[string]core.TrackFeatures, len(uris))
	for _, uri := range uris {
		if feat, ok := f.features[uri]; ok {
			result[uri] = feat
		}
	}
	return result, nil
}

type fakeTracks struct {
	popularity map[string]int
	err        error
}

func (f *fakeTracks) TrackPopularity(_ context.Context, uris []string) (map[string]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	result := make(map[string]int, len(uris))
	for _, uri := range uris {
		if p, ok := f.popularity[uri]; ok {
			result[uri] = p
		}
	}
	return result, nil
}

func cand(uri string) core.Candidate {
	return core.Candidate{URI: uri, Name: "name of " + uri, Popularity: 50, DurationMs: 200000}
}

func newTestGenerator(rec *fakeRecommender, feats *fakeFeatures, tracks *fakeTracks) *Generator {
	if feats == nil {
		feats = &fakeFeatures{}
	}
	if tracks == nil {
		tracks = &fakeTracks{}
	}
	return New(rec, feats, tracks, zap.NewNop())
}

func baseOptions() Options {
	return Options{
		TargetSize:    6,
		MinPopularity: 30,
		MaxDurationMs: 600000,
	}
}

func TestGenerate_SeedsFirstAndDeduped(t *testing.T) {
	rec := &fakeRecommender{batches: [][]core.Candidate{
		{cand("c"), cand("d"), cand("e"), cand("f")},
	}}
	g := newTestGenerator(rec, nil, nil)

	result, err := g.Generate(context.Background(), []string{"a", "b", "c"}, baseOptions())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	want := []string{"a", "b", "c", "d", "e", "f"}
	if !reflect.DeepEqual(result.URIs, want) {
		t.Errorf("Expected %v, got %v", want, result.URIs)
	}
	if result.Shortfall != 0 {
		t.Errorf("Expected no shortfall, got %d", result.Shortfall)
	}
}

func TestGenerate_StagnationStops(t *testing.T) {
	// Every round returns only URIs the pool already holds.
	rec := &fakeRecommender{batches: [][]core.Candidate{
		{cand("a"), cand("b")},
	}}
	g := newTestGenerator(rec, nil, nil)

	opts := baseOptions()
	opts.TargetSize = 10

	result, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if rec.calls != 2 {
		t.Errorf("Expected exactly 2 rounds before stagnation stop, got %d", rec.calls)
	}
	if result.Shortfall != 7 {
		t.Errorf("Expected shortfall 7, got %d", result.Shortfall)
	}
	if len(result.Warnings) == 0 {
		t.Error("Shortfall should be reported as a warning")
	}
}

func TestGenerate_RotatingSeeds(t *testing.T) {
	rec := &fakeRecommender{batches: [][]core.Candidate{
		{cand("d"), cand("e")},
		{},
		{},
	}}
	g := newTestGenerator(rec, nil, nil)

	opts := baseOptions()
	opts.TargetSize = 20

	if _, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(rec.seedsSeen) < 3 {
		t.Fatalf("Expected at least 3 rounds, got %d", len(rec.seedsSeen))
	}

	// First round seeds from the original seeds, most recent first.
	if !reflect.DeepEqual(rec.seedsSeen[0], []string{"c", "b", "a"}) {
		t.Errorf("First round seeds wrong: %v", rec.seedsSeen[0])
	}
	// Second round seeds from the newly added batch.
	if !reflect.DeepEqual(rec.seedsSeen[1], []string{"e", "d"}) {
		t.Errorf("Second round seeds should be last additions: %v", rec.seedsSeen[1])
	}
	// Third round added nothing, so the rotating set stays on the last
	// successful additions.
	if !reflect.DeepEqual(rec.seedsSeen[2], []string{"e", "d"}) {
		t.Errorf("Stagnant round should reuse last successful additions: %v", rec.seedsSeen[2])
	}
}

func TestGenerate_FilterCounters(t *testing.T) {
	playableFalse := false
	rec := &fakeRecommender{batches: [][]core.Candidate{{
		{URI: "noname", Name: "  ", Popularity: 50, DurationMs: 1000},
		cand("excluded"),
		{URI: "unplayable", Name: "x", Popularity: 50, DurationMs: 1000, IsPlayable: &playableFalse},
		{URI: "unpopular", Name: "x", Popularity: 5, DurationMs: 1000},
		{URI: "toolong", Name: "x", Popularity: 50, DurationMs: 999999999},
		{URI: "wrongmarket", Name: "x", Popularity: 50, DurationMs: 1000, AvailableMarkets: []string{"JP"}},
		{URI: "unknownpop", Name: "x", Popularity: -1, DurationMs: 1000},
		cand("good"),
	}}}
	g := newTestGenerator(rec, nil, nil)

	opts := baseOptions()
	opts.TargetSize = 10
	opts.MaxRounds = 1
	opts.Market = "US"
	opts.Exclude = []string{"excluded"}

	result, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	stats := result.Stats
	if stats.DroppedNoName != 1 {
		t.Errorf("DroppedNoName = %d, want 1", stats.DroppedNoName)
	}
	if stats.DroppedExcluded != 1 {
		t.Errorf("DroppedExcluded = %d, want 1", stats.DroppedExcluded)
	}
	if stats.DroppedUnplayable != 1 {
		t.Errorf("DroppedUnplayable = %d, want 1", stats.DroppedUnplayable)
	}
	if stats.DroppedPopularity != 1 {
		t.Errorf("DroppedPopularity = %d, want 1", stats.DroppedPopularity)
	}
	if stats.DroppedDuration != 1 {
		t.Errorf("DroppedDuration = %d, want 1", stats.DroppedDuration)
	}
	if stats.DroppedMarket != 1 {
		t.Errorf("DroppedMarket = %d, want 1", stats.DroppedMarket)
	}

	// Unknown popularity passes the popularity filter.
	found := false
	for _, uri := range result.URIs {
		if uri == "unknownpop" {
			found = true
		}
	}
	if !found {
		t.Error("Candidate with unknown popularity should not be filtered")
	}
}

func TestGenerate_KeyDiversityCap(t *testing.T) {
	rec := &fakeRecommender{batches: [][]core.Candidate{{
		cand("k0-1"), cand("k0-2"), cand("k0-3"), cand("k7"), cand("nokey"),
	}}}
	feats := &fakeFeatures{features: map[string]core.TrackFeatures{
		"a":    {URI: "a", Key: 2},
		"b":    {URI: "b", Key: 3},
		"c":    {URI: "c", Key: 4},
		"k0-1": {URI: "k0-1", Key: 0},
		"k0-2": {URI: "k0-2", Key: 0},
		"k0-3": {URI: "k0-3", Key: 0},
		"k7":   {URI: "k7", Key: 7},
	}}
	g := newTestGenerator(rec, feats, nil)

	opts := baseOptions()
	opts.TargetSize = 10
	opts.MaxRounds = 1
	opts.KeyDiversity = true
	opts.MaxKeySharePercent = 20 // cap = ceil(10*20/100) = 2
	opts.KeyShareSet = true

	result, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	accepted := make(map[string]bool)
	for _, uri := range result.URIs {
		accepted[uri] = true
	}

	if !accepted["k0-1"] || !accepted["k0-2"] {
		t.Error("First two key-0 candidates should be accepted")
	}
	if accepted["k0-3"] {
		t.Error("Third key-0 candidate should be capped")
	}
	if !accepted["k7"] || !accepted["nokey"] {
		t.Error("Other-key and unknown-key candidates should pass")
	}
	if result.Stats.DroppedByKey != 1 {
		t.Errorf("DroppedByKey = %d, want 1", result.Stats.DroppedByKey)
	}
	if !result.Stats.KeyDiversityActive {
		t.Error("Key diversity should remain active")
	}
}

func TestGenerate_KeyDiversityDisablesOnUnavailable(t *testing.T) {
	rec := &fakeRecommender{batches: [][]core.Candidate{{cand("d"), cand("e"), cand("f")}}}
	feats := &fakeFeatures{err: fmt.Errorf("%w: audio-features returned 403", core.ErrEndpointUnavailable)}
	g := newTestGenerator(rec, feats, nil)

	opts := baseOptions()
	opts.KeyDiversity = true

	result, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Unavailable key endpoint should degrade, not fail: %v", err)
	}

	if result.Stats.KeyDiversityActive {
		t.Error("Key diversity should be disabled after endpoint failure")
	}
	if len(result.Warnings) == 0 {
		t.Error("Degradation should surface a warning")
	}
	want := []string{"a", "b", "c", "d", "e", "f"}
	if !reflect.DeepEqual(result.URIs, want) {
		t.Errorf("Candidates should pass uncapped, got %v", result.URIs)
	}
}

func TestGenerate_SeedProfileDegrades(t *testing.T) {
	rec := &fakeRecommender{batches: [][]core.Candidate{{cand("d"), cand("e"), cand("f")}}}
	feats := &fakeFeatures{err: fmt.Errorf("%w: audio-features returned 403", core.ErrEndpointUnavailable)}
	g := newTestGenerator(rec, feats, &fakeTracks{popularity: map[string]int{"a": 60}})

	opts := baseOptions()
	opts.SeedProfile = true

	result, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Unavailable profile endpoint should degrade, not fail: %v", err)
	}

	if result.Stats.SeedProfileUsed {
		t.Error("Seed profile should be marked unused after degradation")
	}
	if len(result.Warnings) == 0 {
		t.Error("Degradation should surface a warning")
	}
}

func TestGenerate_SeedProfileNetworkFailureIsFatal(t *testing.T) {
	rec := &fakeRecommender{}
	feats := &fakeFeatures{err: fmt.Errorf("%w: connection reset", core.ErrNetwork)}
	g := newTestGenerator(rec, feats, nil)

	opts := baseOptions()
	opts.SeedProfile = true

	if _, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts); err == nil {
		t.Fatal("Network failure in seed profile should propagate")
	}
	if rec.calls != 0 {
		t.Error("No recommendation call should happen after a fatal profile error")
	}
}

func TestGenerate_RecommendationFailureIsFatal(t *testing.T) {
	rec := &fakeRecommender{err: fmt.Errorf("%w: recommendations returned 404", core.ErrEndpointUnavailable)}
	g := newTestGenerator(rec, nil, nil)

	_, err := g.Generate(context.Background(), []string{"a", "b", "c"}, baseOptions())
	if err == nil {
		t.Fatal("Primary recommendation failure must be fatal")
	}
	if !core.IsEndpointUnavailable(err) {
		t.Errorf("Error should keep its unavailable class, got %v", err)
	}
}

func TestGenerate_Validation(t *testing.T) {
	g := newTestGenerator(&fakeRecommender{}, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		seeds []string
		mod   func(*Options)
	}{
		{"too few seeds", []string{"a", "b"}, nil},
		{"too many seeds", []string{"a", "b", "c", "d", "e", "f"}, nil},
		{"too few unique seeds", []string{"a", "a", "b"}, nil},
		{"target too small", []string{"a", "b", "c"}, func(o *Options) { o.TargetSize = 0 }},
		{"target too large", []string{"a", "b", "c"}, func(o *Options) { o.TargetSize = 101 }},
		{"popularity out of range", []string{"a", "b", "c"}, func(o *Options) { o.MinPopularity = 101 }},
		{"duration not positive", []string{"a", "b", "c"}, func(o *Options) { o.MaxDurationMs = -1 }},
		{"key share without diversity", []string{"a", "b", "c"}, func(o *Options) {
			o.KeyShareSet = true
			o.MaxKeySharePercent = 10
		}},
		{"key share out of range", []string{"a", "b", "c"}, func(o *Options) {
			o.KeyDiversity = true
			o.KeyShareSet = true
			o.MaxKeySharePercent = 200
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOptions()
			if tt.mod != nil {
				tt.mod(&opts)
			}
			_, err := g.Generate(ctx, tt.seeds, opts)
			if err == nil {
				t.Fatal("Expected usage error")
			}
			if !core.IsUsage(err) {
				t.Errorf("Expected usage class, got %v", err)
			}
		})
	}
}

func TestGenerate_DuplicateSeedsWarn(t *testing.T) {
	rec := &fakeRecommender{batches: [][]core.Candidate{{cand("d"), cand("e"), cand("f")}}}
	g := newTestGenerator(rec, nil, nil)

	result, err := g.Generate(context.Background(), []string{"a", "b", "c", "a"}, baseOptions())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(result.Warnings) == 0 {
		t.Error("Dropped duplicate seed should produce a warning")
	}
	want := []string{"a", "b", "c", "d", "e", "f"}
	if !reflect.DeepEqual(result.URIs, want) {
		t.Errorf("Expected %v, got %v", want, result.URIs)
	}
}

func TestGenerate_TargetSmallerThanSeeds(t *testing.T) {
	rec := &fakeRecommender{}
	g := newTestGenerator(rec, nil, nil)

	opts := baseOptions()
	opts.TargetSize = 2

	result, err := g.Generate(context.Background(), []string{"a", "b", "c"}, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !reflect.DeepEqual(result.URIs, []string{"a", "b"}) {
		t.Errorf("Pool should cap seeds at target size, got %v", result.URIs)
	}
	if rec.calls != 0 {
		t.Errorf("Full pool should not trigger any fetch, got %d calls", rec.calls)
	}
}

func TestDeriveProfile(t *testing.T) {
	seeds := []string{"a", "b", "c"}
	pops := map[string]int{"a": 60, "b": 81}
	feats := map[string]core.TrackFeatures{
		"a": {URI: "a", Energy: 0.4, Tempo: 100},
		"b": {URI: "b", Energy: 0.8, Tempo: 140},
	}

	target := deriveProfile(seeds, pops, feats, 30)

	if target.Popularity != 71 {
		t.Errorf("Popularity mean should round to 71, got %d", target.Popularity)
	}
	if target.Energy != 0.6 {
		t.Errorf("Energy mean should be 0.6, got %f", target.Energy)
	}
	if target.Tempo != 120 {
		t.Errorf("Tempo mean should be 120, got %f", target.Tempo)
	}
}

func TestDeriveProfile_NoPopularityFallsBack(t *testing.T) {
	target := deriveProfile([]string{"a"}, nil, nil, 30)
	if target.Popularity != 30 {
		t.Errorf("Missing popularity should fall back to floor, got %d", target.Popularity)
	}
}

func TestKeyShareCap(t *testing.T) {
	tests := []struct {
		target, share, want int
	}{
		{100, 25, 25},
		{10, 25, 3},
		{1, 1, 1},
		{3, 50, 2},
	}
	for _, tt := range tests {
		if got := keyShareCap(tt.target, tt.share); got != tt.want {
			t.Errorf("keyShareCap(%d, %d) = %d, want %d", tt.target, tt.share, got, tt.want)
		}
	}
}

func TestGenerate_ErrorClassesDistinguishable(t *testing.T) {
	usageErr := core.UsageErrorf("bad")
	if !errors.Is(usageErr, core.ErrUsage) {
		t.Error("Usage errors should match ErrUsage")
	}
	if core.IsEndpointUnavailable(usageErr) {
		t.Error("Usage errors should not match the unavailable class")
	}
}
