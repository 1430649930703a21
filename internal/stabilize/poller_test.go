package stabilize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockControlPlane replays a scripted sequence of snapshots; the last
// entry repeats once the script is exhausted.
type mockControlPlane struct {
	mu        sync.Mutex
	snapshots []Snapshot
	err       error
	calls     int
}

func (m *mockControlPlane) DescribeService(_ context.Context, _ ServiceRef) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Snapshot{}, m.err
	}
	idx := m.calls
	if idx >= len(m.snapshots) {
		idx = len(m.snapshots) - 1
	}
	m.calls++
	return m.snapshots[idx], nil
}

func (m *mockControlPlane) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testRef() ServiceRef {
	return ServiceRef{Service: "api", Cluster: "prod"}
}

func TestAwaitStableImmediate(t *testing.T) {
	cp := &mockControlPlane{snapshots: []Snapshot{
		{Desired: 3, Running: 3, Pending: 0, Status: "ACTIVE"},
	}}
	p := NewPoller(cp, WithInterval(10*time.Millisecond))

	start := time.Now()
	outcome, err := p.AwaitStable(context.Background(), testRef(), 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Stable {
		t.Error("expected stable")
	}
	if outcome.TimedOut {
		t.Error("expected timedOut=false")
	}
	if cp.callCount() != 1 {
		t.Errorf("expected exactly 1 poll, got %d", cp.callCount())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("immediate convergence took %v", elapsed)
	}
}

func TestAwaitStableConvergesAfterOneInterval(t *testing.T) {
	// Scenario: (3,1,2) then (3,3,0) one interval later.
	cp := &mockControlPlane{snapshots: []Snapshot{
		{Desired: 3, Running: 1, Pending: 2, Status: "ACTIVE"},
		{Desired: 3, Running: 3, Pending: 0, Status: "ACTIVE"},
	}}
	interval := 20 * time.Millisecond
	p := NewPoller(cp, WithInterval(interval))

	start := time.Now()
	outcome, err := p.AwaitStable(context.Background(), testRef(), 300*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if !outcome.Stable {
		t.Error("expected stable")
	}
	if outcome.Snapshot.Running != 3 || outcome.Snapshot.Pending != 0 {
		t.Errorf("unexpected snapshot: %+v", outcome.Snapshot)
	}
	if cp.callCount() != 2 {
		t.Errorf("expected 2 polls, got %d", cp.callCount())
	}
	// Roughly one interval, nowhere near the 300s budget.
	if elapsed < interval || elapsed > time.Second {
		t.Errorf("converged after %v, want roughly one %v interval", elapsed, interval)
	}
}

func TestAwaitStableTimesOutWithLastSnapshot(t *testing.T) {
	cp := &mockControlPlane{snapshots: []Snapshot{
		{Desired: 3, Running: 2, Pending: 1, Status: "ACTIVE"},
	}}
	p := NewPoller(cp, WithInterval(5*time.Millisecond))

	outcome, err := p.AwaitStable(context.Background(), testRef(), 25*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Stable {
		t.Error("expected stable=false")
	}
	if !outcome.TimedOut {
		t.Error("expected timedOut=true")
	}
	if outcome.Snapshot.Running != 2 || outcome.Snapshot.Pending != 1 {
		t.Errorf("expected last observed snapshot, got %+v", outcome.Snapshot)
	}
	if cp.callCount() == 0 {
		t.Error("expected at least one poll before timing out")
	}
}

func TestAwaitStableStableInvariant(t *testing.T) {
	// Running == Desired but replicas still pending: not stable.
	cp := &mockControlPlane{snapshots: []Snapshot{
		{Desired: 2, Running: 2, Pending: 1, Status: "ACTIVE"},
	}}
	p := NewPoller(cp, WithInterval(5*time.Millisecond))

	outcome, err := p.AwaitStable(context.Background(), testRef(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Stable {
		t.Error("pending replicas must prevent stability")
	}
}

func TestAwaitStableCancelledMidInterval(t *testing.T) {
	cp := &mockControlPlane{snapshots: []Snapshot{
		{Desired: 3, Running: 1, Pending: 2, Status: "ACTIVE"},
	}}
	// Long interval: cancellation must not wait it out.
	p := NewPoller(cp, WithInterval(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.AwaitStable(ctx, testRef(), time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, should abort mid-interval", elapsed)
	}
}

func TestAwaitStableControlPlaneError(t *testing.T) {
	cp := &mockControlPlane{err: errors.New("describe failed: access denied")}
	p := NewPoller(cp, WithInterval(5*time.Millisecond))

	_, err := p.AwaitStable(context.Background(), testRef(), time.Second)
	if err == nil {
		t.Fatal("expected error from the control plane to propagate")
	}
}

func TestHTTPControlPlaneDescribe(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(Snapshot{Desired: 3, Running: 3, Pending: 0, Status: "ACTIVE"})
	}))
	defer srv.Close()

	cp := NewHTTPControlPlane(srv.URL, WithToken("sekrit"))
	snap, err := cp.DescribeService(context.Background(), testRef())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}

	if gotPath != "/clusters/prod/services/api" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if !snap.Stable() {
		t.Errorf("expected stable snapshot, got %+v", snap)
	}
}

func TestHTTPControlPlaneNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such service", http.StatusNotFound)
	}))
	defer srv.Close()

	cp := NewHTTPControlPlane(srv.URL)
	_, err := cp.DescribeService(context.Background(), testRef())
	if err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestPollerAgainstHTTPControlPlane(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		snap := Snapshot{Desired: 2, Running: 1, Pending: 1, Status: "ACTIVE"}
		if n >= 2 {
			snap = Snapshot{Desired: 2, Running: 2, Pending: 0, Status: "ACTIVE"}
		}
		json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	p := NewPoller(NewHTTPControlPlane(srv.URL), WithInterval(5*time.Millisecond))
	outcome, err := p.AwaitStable(context.Background(), testRef(), 5*time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !outcome.Stable {
		t.Errorf("expected stable, got %+v", outcome)
	}
}

func TestServiceRefKey(t *testing.T) {
	ref := ServiceRef{Service: "api", Cluster: "prod"}
	if ref.Key() != "prod/api" {
		t.Errorf("Key() = %q", ref.Key())
	}
}

func TestSnapshotStable(t *testing.T) {
	tests := []struct {
		snap Snapshot
		want bool
	}{
		{Snapshot{Desired: 3, Running: 3, Pending: 0}, true},
		{Snapshot{Desired: 3, Running: 2, Pending: 1}, false},
		{Snapshot{Desired: 3, Running: 3, Pending: 1}, false},
		{Snapshot{Desired: 0, Running: 0, Pending: 0}, true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d_%d_%d", tc.snap.Desired, tc.snap.Running, tc.snap.Pending), func(t *testing.T) {
			if got := tc.snap.Stable(); got != tc.want {
				t.Errorf("Stable() = %v, want %v for %+v", got, tc.want, tc.snap)
			}
		})
	}
}
