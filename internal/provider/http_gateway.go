package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// HTTPGateway posts messages as JSON to an SMS gateway endpoint.
type HTTPGateway struct {
	url        string
	senderID   string
	httpClient *http.Client
}

func NewHTTPGateway(url, senderID string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		url:      url,
		senderID: senderID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send expects a 200 or 202 with a JSON body carrying the gateway's message id.
func (g *HTTPGateway) Send(ctx context.Context, m domain.Message) (*SendResponse, error) {
	body, err := json.Marshal(SendRequest{
		To:        m.To,
		From:      g.senderID,
		Body:      m.Body,
		Reference: m.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.ID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected gateway status: %d", resp.StatusCode)
	}

	var sendResp SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &sendResp, nil
}

var _ Gateway = (*HTTPGateway)(nil)
