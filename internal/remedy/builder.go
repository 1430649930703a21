package remedy

import (
	"fmt"
	"strings"
)

// Quote wraps a value in single quotes for safe interpolation into a
// remote shell command. Embedded single quotes are closed, escaped, and
// reopened ('\''). Values from the environment (URLs, paths, secrets
// references) must always pass through here before entering command text.
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// And chains steps with the shell's logical AND, so later steps run only
// when earlier steps succeed. Empty steps are skipped.
func And(steps ...string) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		if strings.TrimSpace(s) == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " && ")
}

// WriteFileCommand builds a command that writes content to path on the
// remote host via a quoted here-document. The quoted delimiter prevents
// the shell from expanding anything inside content.
func WriteFileCommand(path, content string) string {
	const delim = "DROVER_EOF"
	// A trailing newline keeps the delimiter on its own line even when
	// content does not end with one.
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return fmt.Sprintf("cat > %s <<'%s'\n%s%s", Quote(path), delim, content, delim)
}
