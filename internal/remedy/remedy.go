// Package remedy derives a single alternative command for a classified
// failure.
//
// The rule table here is fixed-priority, first-match-wins — unlike the
// classifier in package diagnose, which collects every match. Keep the
// two tables separate; unifying them changes which remediation is chosen
// when an output matches more than one signature.
package remedy

import "strings"

// lockBackoff is how long a remediation waits for a contended package
// manager lock before re-running the original command.
const lockBackoff = "sleep 30"

// rule is one remediation entry: a lowercase substring pattern and a
// transform from the original command to the remediation command.
type rule struct {
	pattern string
	derive  func(original string) string
}

// rules is evaluated top to bottom; the first match wins.
var rules = []rule{
	{
		pattern: "permission denied",
		derive: func(original string) string {
			if strings.HasPrefix(strings.TrimSpace(original), "sudo ") {
				return original
			}
			return "sudo " + original
		},
	},
	{
		pattern: "unable to locate package",
		derive: func(original string) string {
			return And("sudo apt-get update", original)
		},
	},
	{
		pattern: "could not get lock",
		derive: func(original string) string {
			return And(lockBackoff, original)
		},
	},
	{
		pattern: "cannot connect to the docker daemon",
		derive: func(original string) string {
			return And("sudo systemctl start docker", original)
		},
	},
}

// Generate returns the remediation command for the given output, or
// ok=false when no rule matches — meaning no automatic fix is known and
// an operator must intervene. At most one remediation is ever derived
// per failure. The function is pure.
func Generate(output, originalCommand string) (command string, ok bool) {
	lowered := strings.ToLower(output)
	for _, r := range rules {
		if strings.Contains(lowered, r.pattern) {
			return r.derive(originalCommand), true
		}
	}
	return "", false
}
