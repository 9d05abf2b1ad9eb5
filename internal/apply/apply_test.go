package apply

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"playlistctl/internal/core"
)

type fakeGateway struct {
	snapshot     string
	snapshotErr  error
	replaceCalls [][]string
	appendCalls  [][]string
	writeCount   int
}

func (f *fakeGateway) SnapshotID(_ context.Context, _ string) (string, error) {
	return f.snapshot, f.snapshotErr
}

func (f *fakeGateway) ReplaceItems(_ context.Context, _ string, uris []string) (string, error) {
	f.replaceCalls = append(f.replaceCalls, append([]string(nil), uris...))
	f.writeCount++
	return "snap-after-write", nil
}

func (f *fakeGateway) AppendItems(_ context.Context, _ string, uris []string) (string, error) {
	f.appendCalls = append(f.appendCalls, append([]string(nil), uris...))
	f.writeCount++
	return "snap-after-write", nil
}

func run(t *testing.T, gw *fakeGateway, plan Plan, opts Options) *core.ApplyResult {
	t.Helper()

	result, err := Run(context.Background(), gw, "playlist1", plan, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result
}

func TestRun_PreviewNeverWrites(t *testing.T) {
	gw := &fakeGateway{snapshot: "snap1"}
	plan := Plan{Before: []string{"a", "b"}, Desired: []string{"b", "a"}}

	result := run(t, gw, plan, Options{Apply: false, ExpectedSnapshot: "snap1"})

	if !result.Changed {
		t.Error("Permutation should count as changed")
	}
	if result.Applied {
		t.Error("Preview must never apply")
	}
	if gw.writeCount != 0 {
		t.Errorf("Preview must not write, got %d writes", gw.writeCount)
	}
}

func TestRun_UnchangedNeverWrites(t *testing.T) {
	gw := &fakeGateway{snapshot: "snap1"}
	plan := Plan{Before: []string{"a", "b"}, Desired: []string{"a", "b"}}

	result := run(t, gw, plan, Options{Apply: true, ExpectedSnapshot: "snap1"})

	if result.Changed {
		t.Error("Identical sequences should not count as changed")
	}
	if result.Applied {
		t.Error("Unchanged plan must not apply")
	}
	if gw.writeCount != 0 {
		t.Errorf("Unchanged plan must not write, got %d writes", gw.writeCount)
	}
}

func TestRun_SnapshotMismatchAborts(t *testing.T) {
	gw := &fakeGateway{snapshot: "snap2"}
	plan := Plan{Before: []string{"a"}, Desired: []string{"b"}}

	_, err := Run(context.Background(), gw, "playlist1", plan,
		Options{Apply: true, ExpectedSnapshot: "snap1"}, zap.NewNop())

	if err == nil {
		t.Fatal("Snapshot mismatch should fail")
	}
	if !core.IsConflict(err) {
		t.Errorf("Expected conflict class, got %v", err)
	}
	if gw.writeCount != 0 {
		t.Errorf("Guard failure must abort before any write, got %d writes", gw.writeCount)
	}
}

func TestRun_ForceBypassesGuard(t *testing.T) {
	gw := &fakeGateway{snapshot: "snap2"}
	plan := Plan{Before: []string{"a"}, Desired: []string{"b"}}

	result := run(t, gw, plan, Options{Apply: true, Force: true, ExpectedSnapshot: "stale"})

	if !result.Applied {
		t.Error("Forced apply should commit despite stale snapshot")
	}
	if len(gw.replaceCalls) != 1 {
		t.Errorf("Expected 1 replace call, got %d", len(gw.replaceCalls))
	}
}

func TestRun_ChunkedWrites(t *testing.T) {
	gw := &fakeGateway{snapshot: "snap1"}

	desired := make([]string, 250)
	for i := range desired {
		desired[i] = string(rune('a' + i%26))
	}
	plan := Plan{Before: []string{"x"}, Desired: desired}

	result := run(t, gw, plan, Options{Apply: true, ExpectedSnapshot: "snap1", ChunkSize: 100})

	if len(gw.replaceCalls) != 1 {
		t.Fatalf("First chunk must replace, got %d replace calls", len(gw.replaceCalls))
	}
	if len(gw.appendCalls) != 2 {
		t.Fatalf("Remaining chunks must append, got %d append calls", len(gw.appendCalls))
	}
	if len(gw.replaceCalls[0]) != 100 || len(gw.appendCalls[0]) != 100 || len(gw.appendCalls[1]) != 50 {
		t.Errorf("Chunk sizes wrong: %d, %d, %d",
			len(gw.replaceCalls[0]), len(gw.appendCalls[0]), len(gw.appendCalls[1]))
	}

	// Order preserved across chunks.
	var rejoined []string
	rejoined = append(rejoined, gw.replaceCalls[0]...)
	rejoined = append(rejoined, gw.appendCalls[0]...)
	rejoined = append(rejoined, gw.appendCalls[1]...)
	if !reflect.DeepEqual(rejoined, desired) {
		t.Error("Chunks out of order")
	}

	if result.SnapshotID != "snap-after-write" {
		t.Errorf("Snapshot should come from last chunk call, got %s", result.SnapshotID)
	}
}

func TestRun_EmptyDesiredClearsPlaylist(t *testing.T) {
	gw := &fakeGateway{snapshot: "snap1"}
	plan := Plan{Before: []string{"a", "b"}, Desired: nil}

	result := run(t, gw, plan, Options{Apply: true, ExpectedSnapshot: "snap1"})

	if !result.Applied {
		t.Error("Clearing should apply")
	}
	if len(gw.replaceCalls) != 1 || len(gw.replaceCalls[0]) != 0 {
		t.Errorf("Clear should issue one empty replace, got %v", gw.replaceCalls)
	}
	if result.RemovedCount != 2 {
		t.Errorf("RemovedCount should be 2, got %d", result.RemovedCount)
	}
}

func TestChanged(t *testing.T) {
	tests := []struct {
		name    string
		before  []string
		after   []string
		changed bool
	}{
		{"equal", []string{"a", "b"}, []string{"a", "b"}, false},
		{"both empty", nil, nil, false},
		{"different length", []string{"a"}, []string{"a", "b"}, true},
		{"permutation", []string{"a", "b"}, []string{"b", "a"}, true},
		{"different content", []string{"a"}, []string{"b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := changed(tt.before, tt.after); got != tt.changed {
				t.Errorf("changed(%v, %v) = %v, want %v", tt.before, tt.after, got, tt.changed)
			}
		})
	}
}
