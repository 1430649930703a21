package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/agent462/drover/internal/ssh"
)

// Runner is the seam between the orchestration layer and the transport.
// It runs exactly one command per call. A non-nil error means the command
// never executed (connection or auth failure); command failures are
// reported inside the ExecutionResult.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec) (*ExecutionResult, error)
}

// Executor implements Runner over one-shot SSH connections: one session,
// one command, immediate teardown.
type Executor struct {
	dialer  *ssh.Dialer
	limiter *HostLimiter
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithHostLimiter bounds concurrent sessions per host.
func WithHostLimiter(l *HostLimiter) Option {
	return func(e *Executor) { e.limiter = l }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor around an explicitly constructed Dialer.
func New(dialer *ssh.Dialer, opts ...Option) *Executor {
	e := &Executor{
		dialer: dialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes spec.Command on spec.Host, enforcing spec.Timeout.
//
// On timeout the remote session is killed and the result carries exit
// code -1 plus whatever output was captured; retryability of a timeout is
// the classifier's call, so a timeout is a result, not an error. Only
// connection/auth failures return a non-nil error (ssh.ConnectError).
func (e *Executor) Run(ctx context.Context, spec CommandSpec) (*ExecutionResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	release, err := e.limiter.Acquire(ctx, spec.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	client, err := e.dialer.Dial(runCtx, spec.Host, spec.AuthRef)
	if err != nil {
		e.logger.Debug("connect failed", "host", spec.Host, "error", err)
		return nil, err
	}
	defer client.Close()

	start := time.Now()
	stdout, stderr, exitCode, runErr := e.runCommand(runCtx, client, spec)
	duration := time.Since(start)

	result := &ExecutionResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Success:  exitCode == 0,
		Duration: duration,
		Command:  spec.Command,
	}

	if runErr != nil {
		// Deadline/cancellation: terminated without a normal process
		// exit. Partial output stays classifiable.
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) {
			result.ExitCode = -1
			result.Success = false
			result.TimedOut = errors.Is(runErr, context.DeadlineExceeded)
			e.logger.Warn("command timed out",
				"host", spec.Host, "command", spec.Command, "after", duration)
			return result, nil
		}
		// Session broke mid-command: the command may or may not have run.
		return nil, ssh.WrapConnectError(spec.Host, runErr)
	}

	e.logger.Debug("command finished",
		"host", spec.Host, "exit_code", exitCode, "duration", duration)
	return result, nil
}

func (e *Executor) runCommand(ctx context.Context, client *ssh.Client, spec CommandSpec) (stdout, stderr []byte, exitCode int, err error) {
	if spec.Sudo {
		sudoPassword, perr := e.dialer.SudoPassword(ctx, spec.AuthRef)
		if perr != nil {
			return nil, nil, -1, perr
		}
		if sudoPassword != "" {
			return client.RunCommandWithSudo(ctx, spec.Command, sudoPassword)
		}
		return client.RunCommand(ctx, "sudo "+spec.Command)
	}
	return client.RunCommand(ctx, spec.Command)
}
