package network

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// ExportClient posts one index's worth of relocated documents to a remote
// peer's document-import endpoint, carrying the origin/import proxy
// headers so the recipient can attribute the resulting task back to this
// node. Plain net/http per spec.md §4.9 — raft only decides who runs the
// rebalance, it is never the transport.
type ExportClient struct {
	HTTPClient *http.Client
}

// NewExportClient returns an ExportClient with a bounded per-request
// timeout, since an unreachable remote must not stall the rebalance task
// indefinitely.
func NewExportClient() *ExportClient {
	return &ExportClient{HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// ExportRequest is one export call: the remote to send to, the index the
// documents belong to, the NDJSON-encoded document payload (nil/empty for
// the "no documents" signal empty indexes still send), and the headers to
// attach.
type ExportRequest struct {
	Remote Remote
	Index  string
	NDJSON []byte
	Origin Origin
	Import ImportMetadata
}

// Do sends one export. A non-2xx response or transport error is returned
// verbatim; the caller (rebalance.go) logs it and retains the documents
// rather than treating it as fatal, per spec.md §4.9's "export failures
// are logged and documents retained (no data loss)".
func (c *ExportClient) Do(ctx context.Context, req ExportRequest) error {
	url := req.Remote.URL + "/indexes/" + req.Index + "/documents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.NDJSON))
	if err != nil {
		return fmt.Errorf("network: build export request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-ndjson")
	if req.Remote.WriteAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Remote.WriteAPIKey)
	}
	req.Origin.SetOriginHeaders(httpReq.Header)
	req.Import.SetImportHeaders(httpReq.Header)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("network: export to remote %q: %w", req.Import.Remote, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("network: remote %q rejected export with status %d", req.Import.Remote, resp.StatusCode)
	}
	return nil
}
