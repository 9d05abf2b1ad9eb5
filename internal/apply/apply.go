// Package apply turns a computed plan into either a dry preview or a
// committed remote mutation with optimistic-concurrency protection.
package apply

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"playlistctl/internal/core"
)

// DefaultChunkSize is the remote API's per-call item limit.
const DefaultChunkSize = 100

// Plan pairs the playlist's URI sequence at load time with the desired
// sequence, plus the episode count the planner dropped along the way.
type Plan struct {
	Before          []string
	Desired         []string
	DroppedEpisodes int
}

// Options control one guarded apply. ExpectedSnapshot is the version token
// captured when the items were loaded; Force bypasses the snapshot guard.
type Options struct {
	Apply            bool
	Force            bool
	ExpectedSnapshot string
	ChunkSize        int
}

// Run executes the preview/guard/commit protocol. Previews (apply=false) and
// unchanged plans never touch the network. With apply requested and a real
// change, the current snapshot token is re-fetched and compared against the
// expected one unless forced; a mismatch aborts before any write. Committed
// writes are chunked: the first chunk replaces the playlist contents,
// subsequent chunks append, and the reported snapshot token is the one from
// the last chunk call.
func Run(ctx context.Context, gw core.MutationGateway, playlistID string, plan Plan, opts Options, logger *zap.Logger) (*core.ApplyResult, error) {
	result := &core.ApplyResult{
		BeforeCount:     len(plan.Before),
		AfterCount:      len(plan.Desired),
		DroppedEpisodes: plan.DroppedEpisodes,
		Changed:         changed(plan.Before, plan.Desired),
	}
	if removed := result.BeforeCount - result.AfterCount; removed > 0 {
		result.RemovedCount = removed
	}

	if !opts.Apply || !result.Changed {
		logger.Debug("Preview only, no remote mutation",
			zap.Bool("apply", opts.Apply),
			zap.Bool("changed", result.Changed))
		return result, nil
	}

	if !opts.Force {
		current, err := gw.SnapshotID(ctx, playlistID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch current snapshot: %w", err)
		}
		if current != opts.ExpectedSnapshot {
			return nil, core.ConflictErrorf(
				"playlist %s changed since it was loaded (expected snapshot %s, got %s); re-run the preview or use force",
				playlistID, opts.ExpectedSnapshot, current)
		}
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	snapshot, err := writeChunked(ctx, gw, playlistID, plan.Desired, chunkSize, logger)
	if err != nil {
		return nil, err
	}

	result.Applied = true
	result.SnapshotID = snapshot

	logger.Info("Playlist mutation applied",
		zap.String("playlistID", playlistID),
		zap.Int("beforeCount", result.BeforeCount),
		zap.Int("afterCount", result.AfterCount),
		zap.String("snapshotID", snapshot))

	return result, nil
}

// writeChunked commits the desired sequence in chunks: replace semantics for
// the first chunk, append for the rest. The first/rest distinction is
// index-driven on purpose; conflating the two silently corrupts playlist
// contents.
func writeChunked(ctx context.Context, gw core.MutationGateway, playlistID string, desired []string, chunkSize int, logger *zap.Logger) (string, error) {
	if len(desired) == 0 {
		snapshot, err := gw.ReplaceItems(ctx, playlistID, nil)
		if err != nil {
			return "", fmt.Errorf("failed to clear playlist: %w", err)
		}
		return snapshot, nil
	}

	var snapshot string
	for start := 0; start < len(desired); start += chunkSize {
		end := start + chunkSize
		if end > len(desired) {
			end = len(desired)
		}
		chunk := desired[start:end]

		var err error
		if start == 0 {
			snapshot, err = gw.ReplaceItems(ctx, playlistID, chunk)
		} else {
			snapshot, err = gw.AppendItems(ctx, playlistID, chunk)
		}
		if err != nil {
			return "", fmt.Errorf("failed to write chunk at offset %d: %w", start, err)
		}

		logger.Debug("Wrote playlist chunk",
			zap.Int("offset", start),
			zap.Int("size", len(chunk)))
	}

	return snapshot, nil
}

// changed reports whether the sequences differ in length or content at any
// position. Order matters: a permutation counts as changed.
func changed(before, after []string) bool {
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if before[i] != after[i] {
			return true
		}
	}
	return false
}
