// Package diagnose classifies command output against an ordered table of
// failure signatures.
//
// Classification collects ALL matching signatures (union semantics) and
// reports retryability if any match is retryable. This is deliberately
// different from the remediation planner's first-match-wins table in
// package remedy; the two tables must not be merged, since collapsing
// them changes which remediation gets chosen.
package diagnose

import "strings"

// Kind buckets a failure for the error taxonomy callers act on.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindPermission     Kind = "permission"
	KindPackageIndex   Kind = "package-index"
	KindLockContention Kind = "lock-contention"
	KindConnectivity   Kind = "connectivity"
	KindConfig         Kind = "config"
)

// Signature is one classification rule: a lowercase substring pattern, a
// human suggestion, whether an automatic retry can help, and the failure
// kind it maps to.
type Signature struct {
	Pattern    string
	Suggestion string
	Retryable  bool
	Kind       Kind
}

// signatures is the ordered classification table. Order matters only for
// which match is reported first (and therefore which Kind a Diagnosis
// carries); all matches are collected regardless.
var signatures = []Signature{
	{
		Pattern:    "command not found",
		Suggestion: "the binary is not installed or not on PATH; install it or use an absolute path",
		Retryable:  false,
		Kind:       KindUnknown,
	},
	{
		Pattern:    "permission denied",
		Suggestion: "insufficient privileges; escalate with sudo",
		Retryable:  true,
		Kind:       KindPermission,
	},
	{
		Pattern:    "connection refused",
		Suggestion: "the target service is not listening; it may still be starting",
		Retryable:  true,
		Kind:       KindConnectivity,
	},
	{
		Pattern:    "no such file or directory",
		Suggestion: "a path referenced by the command does not exist on the host",
		Retryable:  false,
		Kind:       KindUnknown,
	},
	{
		Pattern:    "unable to locate package",
		Suggestion: "the package index is stale; refresh it before installing",
		Retryable:  true,
		Kind:       KindPackageIndex,
	},
	{
		Pattern:    "could not get lock",
		Suggestion: "another package operation holds the dpkg/apt lock; wait and retry",
		Retryable:  true,
		Kind:       KindLockContention,
	},
	{
		Pattern:    "connection timed out",
		Suggestion: "the network path to a dependency timed out; it may be transient",
		Retryable:  true,
		Kind:       KindConnectivity,
	},
	{
		Pattern:    "temporary failure resolving",
		Suggestion: "DNS resolution failed; check the hostname and resolver config",
		Retryable:  false,
		Kind:       KindConnectivity,
	},
	{
		Pattern:    "could not resolve host",
		Suggestion: "DNS resolution failed; check the hostname and resolver config",
		Retryable:  false,
		Kind:       KindConnectivity,
	},
	{
		Pattern:    "cannot connect to the docker daemon",
		Suggestion: "the docker daemon is not running; start it and retry",
		Retryable:  true,
		Kind:       KindConfig,
	},
	{
		Pattern:    "nginx: [emerg]",
		Suggestion: "the nginx configuration failed validation; fix the config and reload",
		Retryable:  true,
		Kind:       KindConfig,
	},
}

// Match is one matched signature in a Diagnosis.
type Match struct {
	Pattern    string
	Suggestion string
	Retryable  bool
	Kind       Kind
}

// Diagnosis is the structured classification of one command's output.
type Diagnosis struct {
	HasErrors bool
	Matches   []Match
	CanRetry  bool
}

// Kind returns the failure kind of the first matched signature, or
// KindUnknown when nothing matched.
func (d Diagnosis) Kind() Kind {
	if len(d.Matches) == 0 {
		return KindUnknown
	}
	return d.Matches[0].Kind
}

// Suggestions returns the human suggestions of all matches, in table order.
func (d Diagnosis) Suggestions() []string {
	out := make([]string, 0, len(d.Matches))
	for _, m := range d.Matches {
		out = append(out, m.Suggestion)
	}
	return out
}

// Classify matches output (the union of stdout and stderr) against the
// signature table. Matching is case-insensitive substring search. The
// function is pure: identical inputs always produce identical diagnoses.
//
// originalCommand is accepted for parity with the planner's contract and
// for future command-sensitive rules; the current table matches output
// only.
func Classify(output, originalCommand string) Diagnosis {
	_ = originalCommand

	lowered := strings.ToLower(output)

	var d Diagnosis
	for _, sig := range signatures {
		if !strings.Contains(lowered, strings.ToLower(sig.Pattern)) {
			continue
		}
		d.Matches = append(d.Matches, Match{
			Pattern:    sig.Pattern,
			Suggestion: sig.Suggestion,
			Retryable:  sig.Retryable,
			Kind:       sig.Kind,
		})
		if sig.Retryable {
			d.CanRetry = true
		}
	}
	d.HasErrors = len(d.Matches) > 0
	return d
}
