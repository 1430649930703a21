package diagnose

import (
	"reflect"
	"testing"
)

func TestClassifyNoMatch(t *testing.T) {
	d := Classify("everything worked fine\n", "echo ok")

	if d.HasErrors {
		t.Error("expected HasErrors=false for clean output")
	}
	if d.CanRetry {
		t.Error("expected CanRetry=false for clean output")
	}
	if len(d.Matches) != 0 {
		t.Errorf("expected no matches, got %d", len(d.Matches))
	}
	if d.Kind() != KindUnknown {
		t.Errorf("expected KindUnknown, got %s", d.Kind())
	}
}

func TestClassifySignatures(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantRetry bool
		wantKind  Kind
	}{
		{"missing binary", "bash: kubectl: command not found", false, KindUnknown},
		{"permission denied", "mkdir: cannot create directory: Permission denied", true, KindPermission},
		{"connection refused", "curl: (7) Failed to connect: Connection refused", true, KindConnectivity},
		{"missing file", "cat: /etc/app.conf: No such file or directory", false, KindUnknown},
		{"package index miss", "E: Unable to locate package curl", true, KindPackageIndex},
		{"apt lock", "E: Could not get lock /var/lib/dpkg/lock-frontend", true, KindLockContention},
		{"network timeout", "Connection timed out after 30000 milliseconds", true, KindConnectivity},
		{"dns failure", "Temporary failure resolving 'deb.debian.org'", false, KindConnectivity},
		{"dns failure curl", "curl: (6) Could not resolve host: example.invalid", false, KindConnectivity},
		{"docker daemon down", "Cannot connect to the Docker daemon at unix:///var/run/docker.sock", true, KindConfig},
		{"nginx config", "nginx: [emerg] unknown directive \"serve\" in /etc/nginx/nginx.conf:5", true, KindConfig},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Classify(tc.output, "some-command")
			if !d.HasErrors {
				t.Fatalf("expected HasErrors=true for %q", tc.output)
			}
			if d.CanRetry != tc.wantRetry {
				t.Errorf("CanRetry = %v, want %v", d.CanRetry, tc.wantRetry)
			}
			if d.Kind() != tc.wantKind {
				t.Errorf("Kind() = %s, want %s", d.Kind(), tc.wantKind)
			}
		})
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	d := Classify("PERMISSION DENIED", "systemctl restart app")
	if !d.HasErrors || !d.CanRetry {
		t.Errorf("expected retryable match for upper-case output, got %+v", d)
	}
}

func TestClassifyCollectsAllMatches(t *testing.T) {
	output := "Permission denied\nE: Could not get lock /var/lib/dpkg/lock\n"
	d := Classify(output, "apt-get install -y nginx")

	if len(d.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(d.Matches), d.Matches)
	}
	// Matches come back in table order, so permission is first.
	if d.Matches[0].Kind != KindPermission {
		t.Errorf("first match kind = %s, want %s", d.Matches[0].Kind, KindPermission)
	}
	if d.Matches[1].Kind != KindLockContention {
		t.Errorf("second match kind = %s, want %s", d.Matches[1].Kind, KindLockContention)
	}
	if !d.CanRetry {
		t.Error("expected CanRetry=true when any match is retryable")
	}
}

func TestClassifyRetryableUnionWithNonRetryable(t *testing.T) {
	// One non-retryable and one retryable signature: any retryable match
	// makes the diagnosis retryable.
	output := "cat: /etc/app.conf: No such file or directory\nConnection refused\n"
	d := Classify(output, "deploy.sh")

	if len(d.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(d.Matches))
	}
	if !d.CanRetry {
		t.Error("expected CanRetry=true")
	}
}

func TestClassifyIsPure(t *testing.T) {
	output := "E: Unable to locate package curl\nPermission denied\n"
	first := Classify(output, "apt-get install -y curl")
	second := Classify(output, "apt-get install -y curl")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Classify is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestClassifyScenarioPackageIndex(t *testing.T) {
	d := Classify("E: Unable to locate package curl", "apt-get install -y curl")
	if !d.HasErrors {
		t.Error("expected HasErrors=true")
	}
	if !d.CanRetry {
		t.Error("expected CanRetry=true")
	}
	if d.Kind() != KindPackageIndex {
		t.Errorf("Kind() = %s, want %s", d.Kind(), KindPackageIndex)
	}
}

func TestSuggestionsOrder(t *testing.T) {
	output := "Permission denied\nConnection refused\n"
	d := Classify(output, "restart.sh")

	got := d.Suggestions()
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}
	if got[0] != "insufficient privileges; escalate with sudo" {
		t.Errorf("unexpected first suggestion: %q", got[0])
	}
}
