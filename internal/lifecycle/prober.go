package lifecycle

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fentz26/tether/internal/models"
)

// HTTPProber checks daemon reachability through its health endpoint.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober. Pass nil to use http.DefaultClient.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProber{client: client}
}

// Probe performs a health check against the paired daemon.
func (p *HTTPProber) Probe(ctx context.Context, d *models.ConnectionDescriptor) error {
	url := fmt.Sprintf("http://%s:%d/health", d.Host, d.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon health check returned %d", resp.StatusCode)
	}
	return nil
}
