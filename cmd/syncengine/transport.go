package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/localsync/syncengine/internal/transport"
)

// httpTransport is the concrete transport.Transport this binary supplies to
// the engine. The library itself only declares the contract
// (internal/transport/contract.go) — an embedding application brings its
// own, the way bff-service's downstream clients wrap net/http per
// collaborator rather than the framework doing it for them.
type httpTransport struct {
	baseURL string
	client  *http.Client
}

func newHTTPTransport(baseURL string) *httpTransport {
	return &httpTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *httpTransport) Sync(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("encode sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sync/v1", &buf)
	if err != nil {
		return nil, fmt.Errorf("build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError{status: resp.StatusCode, body: readLimited(resp.Body)}
	}

	var out transport.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	return &out, nil
}

func (t *httpTransport) FetchSnapshotChunk(ctx context.Context, chunkID string) ([]byte, error) {
	rc, err := t.FetchSnapshotChunkStream(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (t *httpTransport) FetchSnapshotChunkStream(ctx context.Context, chunkID string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/sync/v1/chunks/"+chunkID, nil)
	if err != nil {
		return nil, fmt.Errorf("build chunk request: %w", err)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %s: %w", chunkID, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, httpStatusError{status: resp.StatusCode, body: readLimited(resp.Body)}
	}
	return resp.Body, nil
}

// httpStatusError satisfies syncerr.HTTPError so Classify keys off the
// response's actual status code instead of sniffing the error message.
type httpStatusError struct {
	status int
	body   string
}

func (e httpStatusError) Error() string {
	return fmt.Sprintf("sync server returned %d: %s", e.status, e.body)
}

func (e httpStatusError) StatusCode() int { return e.status }

func readLimited(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return string(b)
}
