package pull

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// srf1Magic is the 4-byte ASCII magic required once at the start of each
// chunk's decompressed byte stream (spec §4.4.1, §6, §9 "SRF1 magic
// validation across chunk boundaries" — resolved as specified: required
// per chunk, not once per response).
var srf1Magic = [4]byte{'S', 'R', 'F', '1'}

// SnapshotBatchSize is the row-batch size frames are buffered into before
// calling applySnapshot (spec §4.4.1).
const SnapshotBatchSize = 500

// RowBatch is one buffered group of decoded rows from a chunk stream,
// local to that chunk: IsFirstInChunk/IsLastInChunk tell the caller whether
// this is the first or last batch of this chunk's stream; the caller
// composes these across multiple chunks to derive the snapshot-wide
// isFirstPage/isLastPage flags (only the first batch of the first chunk,
// and the last batch of the last chunk, carry those).
type RowBatch struct {
	Rows           []map[string]any
	IsFirstInChunk bool
	IsLastInChunk  bool
}

// ErrChunkIntegrity is returned when a chunk's streamed bytes hash to a
// value different from its advertised sha256 (P5).
type ErrChunkIntegrity struct {
	ChunkID string
	Want    string
	Got     string
}

func (e *ErrChunkIntegrity) Error() string {
	return fmt.Sprintf("srf1: chunk %s integrity mismatch: want %s got %s", e.ChunkID, e.Want, e.Got)
}

// DecodeChunk reads one SRF1-framed chunk from r (the raw transport
// stream, gzip envelope still attached if present), hashing the stream as
// it arrives — pre-decompression, exactly the bytes delivered by the
// transport — and comparing against wantSHA256 once the stream is
// exhausted. If wantSHA256 is empty, verification is skipped. onBatch is
// called once per buffered batch of up to SnapshotBatchSize rows.
func DecodeChunk(chunkID string, r io.Reader, wantSHA256 string, onBatch func(RowBatch) error) error {
	hasher := sha256.New()
	teed := io.TeeReader(r, hasher)

	buffered := bufio.NewReader(teed)
	magicPeek, err := buffered.Peek(2)
	var payload io.Reader = buffered
	if err == nil && len(magicPeek) == 2 && magicPeek[0] == 0x1f && magicPeek[1] == 0x8b {
		gz, gzErr := gzip.NewReader(buffered)
		if gzErr != nil {
			return fmt.Errorf("srf1: open gzip envelope: %w", gzErr)
		}
		defer gz.Close()
		payload = gz
	}

	if err := readMagic(payload); err != nil {
		return fmt.Errorf("srf1: chunk %s: %w", chunkID, err)
	}

	var pending []map[string]any
	first := true
	flush := func(last bool) error {
		if len(pending) == 0 && !(first && last) {
			return nil
		}
		batch := RowBatch{Rows: pending, IsFirstInChunk: first, IsLastInChunk: last}
		first = false
		pending = nil
		return onBatch(batch)
	}

	for {
		row, ok, err := readFrame(payload)
		if err != nil {
			return fmt.Errorf("srf1: chunk %s: %w", chunkID, err)
		}
		if !ok {
			break
		}
		pending = append(pending, row)
		if len(pending) >= SnapshotBatchSize {
			if err := flush(false); err != nil {
				return err
			}
		}
	}
	if err := flush(true); err != nil {
		return err
	}

	// Drain any remaining bytes on the raw stream (e.g. gzip trailer) so
	// the hash covers everything the transport sent.
	if _, err := io.Copy(io.Discard, teed); err != nil && err != io.EOF {
		return fmt.Errorf("srf1: chunk %s: drain: %w", chunkID, err)
	}

	if wantSHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if got != wantSHA256 {
			return &ErrChunkIntegrity{ChunkID: chunkID, Want: wantSHA256, Got: got}
		}
	}
	return nil
}

func readMagic(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if buf != srf1Magic {
		return fmt.Errorf("bad magic %q, want %q", buf, srf1Magic)
	}
	return nil
}

// readFrame reads one {uint32 BE length, JSON payload} frame, returning
// ok=false at clean EOF.
func readFrame(r io.Reader) (map[string]any, bool, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, fmt.Errorf("read frame payload: %w", err)
	}

	var row map[string]any
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, false, fmt.Errorf("decode frame json: %w", err)
	}
	return row, true, nil
}
