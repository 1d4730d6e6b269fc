package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/geenii/geenii-shell/internal/history"
)

// Sink indexes sidecar lifecycle events into OpenSearch (or Elasticsearch)
// over its REST API: one POST of the JSON event to baseURL/index/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) (*Sink, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("opensearch sink: empty base URL")
	}
	if index == "" || strings.ContainsAny(index, "/ ") {
		return nil, fmt.Errorf("opensearch sink: invalid index %q", index)
	}
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: baseURL, index: index}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle keep-alive connections.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
