package executor

import (
	"context"
	"testing"
	"time"
)

func TestHostLimiterBounds(t *testing.T) {
	l := NewHostLimiter(1)

	release, err := l.Acquire(context.Background(), "web1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// Second acquire on the same host must block until release.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "web1"); err == nil {
		t.Error("expected second acquire to block and hit the deadline")
	}

	release()
	release2, err := l.Acquire(context.Background(), "web1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestHostLimiterIndependentHosts(t *testing.T) {
	l := NewHostLimiter(1)

	r1, err := l.Acquire(context.Background(), "web1")
	if err != nil {
		t.Fatalf("acquire web1: %v", err)
	}
	defer r1()

	// A different host has its own budget.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := l.Acquire(ctx, "web2")
	if err != nil {
		t.Fatalf("acquire web2 should not block: %v", err)
	}
	r2()
}

func TestHostLimiterUnlimited(t *testing.T) {
	var l *HostLimiter // nil limiter: no bounds
	release, err := l.Acquire(context.Background(), "web1")
	if err != nil {
		t.Fatalf("nil limiter acquire: %v", err)
	}
	release()

	l = NewHostLimiter(0)
	release, err = l.Acquire(context.Background(), "web1")
	if err != nil {
		t.Fatalf("zero limiter acquire: %v", err)
	}
	release()
}
