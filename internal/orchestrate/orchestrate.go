// Package orchestrate composes the executor, classifier, and remediation
// planner into a bounded single-retry workflow: one remediation attempt
// and at most one re-run of the original command, never more.
package orchestrate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agent462/drover/internal/diagnose"
	"github.com/agent462/drover/internal/executor"
	"github.com/agent462/drover/internal/remedy"
)

// Stage names which attempt produced the final outcome.
type Stage string

const (
	// StageInitial: the first run decided the outcome (success, retry
	// disabled, not retryable, or no fix known).
	StageInitial Stage = "initial"
	// StageRemediation: the derived fix itself failed; the original
	// command was not re-run.
	StageRemediation Stage = "remediation"
	// StageRetry: the remediation succeeded and the original command was
	// re-run; the outcome is the retry's outcome.
	StageRetry Stage = "retry"
)

// Planner derives a remediation command from output and the original
// command. It is injectable so tests can verify it is never consulted on
// paths that must not remediate.
type Planner func(output, originalCommand string) (string, bool)

// RetryResult aggregates at most two executions of the original command
// plus at most one remediation attempt.
type RetryResult struct {
	Success            bool
	Diagnosis          diagnose.Diagnosis
	RemediationCommand string // empty when no fix was derived
	Retried            bool
	Stage              Stage
	Result             *executor.ExecutionResult // result of the deciding attempt
}

// Orchestrator runs commands with optional single-shot auto-remediation.
type Orchestrator struct {
	runner  executor.Runner
	planner Planner
	locks   *hostLocks
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPlanner overrides the remediation planner (tests).
func WithPlanner(p Planner) Option {
	return func(o *Orchestrator) { o.planner = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator over the given Runner.
func New(runner executor.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:  runner,
		planner: remedy.Generate,
		locks:   newHostLocks(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteWithRemediation runs spec once and, when the run fails with a
// retryable signature and autoRetry is set, applies exactly one derived
// remediation followed by exactly one re-run of the original command.
//
// A non-nil error means the connection failed and the command never ran;
// no classification happens in that case. All command failures — including
// a failed remediation — come back as a structured RetryResult.
func (o *Orchestrator) ExecuteWithRemediation(ctx context.Context, spec executor.CommandSpec, autoRetry bool) (*RetryResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	// Serialize against other orchestrations targeting the same host so
	// a remediation+retry pair is never interleaved with a concurrent
	// command there (two parallel apt-get updates race on the lock).
	unlock := o.locks.lock(spec.Host)
	defer unlock()

	res, err := o.runner.Run(ctx, spec)
	if err != nil {
		return nil, err
	}

	d := diagnose.Classify(res.CombinedOutput(), spec.Command)

	if res.Success {
		// Diagnosis is informational only on success paths.
		return &RetryResult{
			Success:   true,
			Diagnosis: d,
			Stage:     StageInitial,
			Result:    res,
		}, nil
	}

	if !autoRetry || !d.CanRetry {
		return &RetryResult{
			Diagnosis: d,
			Stage:     StageInitial,
			Result:    res,
		}, nil
	}

	fix, ok := o.planner(res.CombinedOutput(), spec.Command)
	if !ok {
		o.logger.Info("no automatic fix known",
			"host", spec.Host, "command", spec.Command, "kind", d.Kind())
		return &RetryResult{
			Diagnosis: d,
			Stage:     StageInitial,
			Result:    res,
		}, nil
	}

	o.logger.Info("applying remediation",
		"host", spec.Host, "kind", d.Kind(), "remediation", fix)

	fixSpec := spec
	fixSpec.Command = fix
	fixRes, err := o.runner.Run(ctx, fixSpec)
	if err != nil || !fixRes.Success {
		if err != nil {
			o.logger.Warn("remediation could not run", "host", spec.Host, "error", err)
		} else {
			o.logger.Warn("remediation failed",
				"host", spec.Host, "exit_code", fixRes.ExitCode)
		}
		// Reported distinctly from an un-remediated failure so callers
		// can tell "no fix attempted" apart from "fix attempted and
		// still broken".
		return &RetryResult{
			Diagnosis:          d,
			RemediationCommand: fix,
			Stage:              StageRemediation,
			Result:             fixRes,
		}, nil
	}

	// Exactly one retry of the original command; its outcome is final.
	retryRes, err := o.runner.Run(ctx, spec)
	if err != nil {
		return nil, err
	}

	return &RetryResult{
		Success:            retryRes.Success,
		Diagnosis:          d,
		RemediationCommand: fix,
		Retried:            true,
		Stage:              StageRetry,
		Result:             retryRes,
	}, nil
}

// hostLocks serializes orchestrations per host. Locks are created on
// first use and kept for the orchestrator's lifetime; the set of hosts
// in one deployment is small.
type hostLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newHostLocks() *hostLocks {
	return &hostLocks{locks: make(map[string]*sync.Mutex)}
}

func (h *hostLocks) lock(host string) (unlock func()) {
	h.mu.Lock()
	l, ok := h.locks[host]
	if !ok {
		l = &sync.Mutex{}
		h.locks[host] = l
	}
	h.mu.Unlock()

	l.Lock()
	return l.Unlock
}
