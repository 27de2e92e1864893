package pull

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/localsync/syncengine/internal/transport"
)

// materializeChunks fetches every chunk of a snapshot page concurrently,
// bounded by maxConcurrency, and returns their rows concatenated in chunk
// order. Used on the plugin path (§4.4.1): afterPull hooks need the whole
// page before the apply transaction opens, so streaming row-by-row into the
// transaction isn't an option.
func materializeChunks(ctx context.Context, t transport.Transport, chunks []transport.ChunkDescriptor, maxConcurrency int) ([]map[string]any, error) {
	rowsByChunk := make([][]map[string]any, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			stream, err := t.FetchSnapshotChunkStream(gctx, chunk.ID)
			if err != nil {
				return fmt.Errorf("fetch chunk %s: %w", chunk.ID, err)
			}
			defer stream.Close()

			var rows []map[string]any
			err = DecodeChunk(chunk.ID, stream, chunk.SHA256, func(b RowBatch) error {
				rows = append(rows, b.Rows...)
				return nil
			})
			if err != nil {
				return err
			}
			rowsByChunk[i] = rows
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, rows := range rowsByChunk {
		out = append(out, rows...)
	}
	return out, nil
}

// streamChunkBatch is one batch handed to the streaming apply path, with
// isFirstPage/isLastPage computed across the whole page rather than a
// single chunk.
type streamChunkBatch struct {
	Rows        []map[string]any
	IsFirstPage bool
	IsLastPage  bool
}

// streamChunks fetches and decodes a snapshot page's chunks one at a time,
// invoking onBatch for every row batch with page-wide first/last flags.
// Used on the no-plugin path, where each batch is applied directly inside
// the running transaction as it arrives rather than materialized upfront.
func streamChunks(ctx context.Context, t transport.Transport, chunks []transport.ChunkDescriptor, onBatch func(streamChunkBatch) error) error {
	for ci, chunk := range chunks {
		stream, err := t.FetchSnapshotChunkStream(ctx, chunk.ID)
		if err != nil {
			return fmt.Errorf("fetch chunk %s: %w", chunk.ID, err)
		}

		decodeErr := DecodeChunk(chunk.ID, stream, chunk.SHA256, func(b RowBatch) error {
			return onBatch(streamChunkBatch{
				Rows:        b.Rows,
				IsFirstPage: ci == 0 && b.IsFirstInChunk,
				IsLastPage:  ci == len(chunks)-1 && b.IsLastInChunk,
			})
		})
		closeErr := stream.Close()
		if decodeErr != nil {
			return decodeErr
		}
		if closeErr != nil {
			return fmt.Errorf("close chunk %s stream: %w", chunk.ID, closeErr)
		}
	}
	return nil
}
