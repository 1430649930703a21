package stabilize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ServiceRef identifies one managed service on the control plane.
type ServiceRef struct {
	Service string
	Cluster string
}

// Key returns a stable identity for deduplicating concurrent polls.
func (r ServiceRef) Key() string {
	return r.Cluster + "/" + r.Service
}

// Snapshot is one control-plane-reported view of a service's replicas.
type Snapshot struct {
	Desired int    `json:"desiredCount"`
	Running int    `json:"runningCount"`
	Pending int    `json:"pendingCount"`
	Status  string `json:"status"`
}

// Stable reports replica convergence: every desired replica is running
// and none are pending.
func (s Snapshot) Stable() bool {
	return s.Running == s.Desired && s.Pending == 0
}

// ControlPlane is the read-only "describe service" surface of a container
// orchestration control plane. Implementations are external collaborators;
// the poller only issues idempotent reads through this interface.
type ControlPlane interface {
	DescribeService(ctx context.Context, ref ServiceRef) (Snapshot, error)
}

// HTTPControlPlane queries a JSON describe-service endpoint:
// GET {base}/clusters/{cluster}/services/{service}.
type HTTPControlPlane struct {
	base   string
	client *http.Client
	token  string
}

// HTTPOption configures an HTTPControlPlane.
type HTTPOption func(*HTTPControlPlane)

// WithHTTPClient overrides the HTTP client (timeouts, transport).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPControlPlane) { p.client = c }
}

// WithToken sets a bearer token for the control plane.
func WithToken(token string) HTTPOption {
	return func(p *HTTPControlPlane) { p.token = token }
}

// NewHTTPControlPlane creates a control-plane client for the given base URL.
func NewHTTPControlPlane(base string, opts ...HTTPOption) *HTTPControlPlane {
	p := &HTTPControlPlane{
		base:   base,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DescribeService implements ControlPlane.
func (p *HTTPControlPlane) DescribeService(ctx context.Context, ref ServiceRef) (Snapshot, error) {
	endpoint := fmt.Sprintf("%s/clusters/%s/services/%s",
		p.base, url.PathEscape(ref.Cluster), url.PathEscape(ref.Service))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("describe service %s: %w", ref.Key(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("describe service %s: unexpected status %d", ref.Key(), resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode service %s: %w", ref.Key(), err)
	}
	return snap, nil
}
