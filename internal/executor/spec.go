// Package executor runs single commands on single remote hosts with
// timeout enforcement and per-host bounded concurrency.
package executor

import (
	"fmt"
	"time"
)

// CommandSpec describes one command to run on one remote host. AuthRef
// identifies key material held by an external credential source; the
// material itself is never embedded in the command text.
type CommandSpec struct {
	Host    string
	AuthRef string
	Command string
	Timeout time.Duration

	// Sudo requests privilege escalation for the whole command. When the
	// resolved credential carries a sudo password it is delivered over a
	// PTY; otherwise the command is prefixed for NOPASSWD sudo.
	Sudo bool
}

// Validate checks the spec before any network activity.
func (s CommandSpec) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("command spec: host is required")
	}
	if s.Command == "" {
		return fmt.Errorf("command spec: command is required")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("command spec: timeout must be positive, got %v", s.Timeout)
	}
	return nil
}

// ExecutionResult holds the outcome of one command execution.
// Success is always ExitCode == 0. ExitCode -1 is reserved for runs that
// terminated without a normal process exit (timeout or kill).
type ExecutionResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Success  bool
	Duration time.Duration
	Command  string
	TimedOut bool
}

// CombinedOutput returns stdout and stderr joined for classification.
// The two streams are captured independently; this union is only used
// for signature matching, not for display.
func (r *ExecutionResult) CombinedOutput() string {
	if len(r.Stderr) == 0 {
		return string(r.Stdout)
	}
	if len(r.Stdout) == 0 {
		return string(r.Stderr)
	}
	return string(r.Stdout) + "\n" + string(r.Stderr)
}
