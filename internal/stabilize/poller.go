// Package stabilize polls a managed-service control plane until the
// running replica count converges with the desired count or a deadline
// expires.
package stabilize

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultInterval is the fixed delay between status fetches.
const DefaultInterval = 10 * time.Second

// PollOutcome reports how a stabilization wait ended. Stable is true only
// when the last snapshot had Running == Desired and Pending == 0.
type PollOutcome struct {
	Stable   bool
	TimedOut bool
	Snapshot Snapshot
}

// Poller waits for service stabilization. It performs read-only status
// fetches and is safe to use concurrently across services; concurrent
// waits on the same service share one in-flight describe call.
type Poller struct {
	cp       ControlPlane
	interval time.Duration
	group    singleflight.Group
	logger   *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval overrides the poll interval (tests use millisecond
// intervals; production keeps the default).
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller creates a Poller over an explicitly constructed control-plane
// client.
func NewPoller(cp ControlPlane, opts ...PollerOption) *Poller {
	p := &Poller{
		cp:       cp,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitStable polls ref at the fixed interval until the service converges
// or maxWait of wall-clock time elapses. Convergence returns immediately
// without a further poll. On deadline the last fetched snapshot is
// returned with TimedOut set — the service may still converge later, so
// this is an outcome, not an error. Context cancellation aborts the wait
// mid-interval and returns ctx.Err().
func (p *Poller) AwaitStable(ctx context.Context, ref ServiceRef, maxWait time.Duration) (*PollOutcome, error) {
	start := time.Now()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		snap, err := p.describe(ctx, ref)
		if err != nil {
			return nil, err
		}

		if snap.Stable() {
			p.logger.Info("service stable",
				"service", ref.Key(), "running", snap.Running, "waited", time.Since(start))
			return &PollOutcome{Stable: true, Snapshot: snap}, nil
		}

		p.logger.Debug("service not yet stable",
			"service", ref.Key(),
			"desired", snap.Desired, "running", snap.Running, "pending", snap.Pending)

		if time.Since(start)+p.interval > maxWait {
			p.logger.Warn("stabilization wait exceeded",
				"service", ref.Key(), "max_wait", maxWait,
				"desired", snap.Desired, "running", snap.Running, "pending", snap.Pending)
			return &PollOutcome{TimedOut: true, Snapshot: snap}, nil
		}

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// describe fetches a snapshot, collapsing concurrent fetches for the same
// service into one control-plane call.
func (p *Poller) describe(ctx context.Context, ref ServiceRef) (Snapshot, error) {
	v, err, _ := p.group.Do(ref.Key(), func() (any, error) {
		return p.cp.DescribeService(ctx, ref)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}
