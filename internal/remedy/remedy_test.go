package remedy

import "testing"

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		original string
		want     string
		wantOK   bool
	}{
		{
			name:     "permission denied adds sudo",
			output:   "Permission denied",
			original: "systemctl restart app",
			want:     "sudo systemctl restart app",
			wantOK:   true,
		},
		{
			name:     "no double sudo",
			output:   "Permission denied",
			original: "sudo systemctl restart app",
			want:     "sudo systemctl restart app",
			wantOK:   true,
		},
		{
			name:     "no double sudo with leading whitespace",
			output:   "permission denied",
			original: "  sudo apt-get install -y curl",
			want:     "  sudo apt-get install -y curl",
			wantOK:   true,
		},
		{
			name:     "package index miss refreshes first",
			output:   "E: Unable to locate package curl",
			original: "apt-get install -y curl",
			want:     "sudo apt-get update && apt-get install -y curl",
			wantOK:   true,
		},
		{
			name:     "lock contention backs off",
			output:   "E: Could not get lock /var/lib/dpkg/lock-frontend",
			original: "apt-get install -y nginx",
			want:     "sleep 30 && apt-get install -y nginx",
			wantOK:   true,
		},
		{
			name:     "docker daemon down starts it",
			output:   "Cannot connect to the Docker daemon at unix:///var/run/docker.sock",
			original: "docker ps",
			want:     "sudo systemctl start docker && docker ps",
			wantOK:   true,
		},
		{
			name:     "unknown failure has no fix",
			output:   "segmentation fault (core dumped)",
			original: "run-thing",
			want:     "",
			wantOK:   false,
		},
		{
			name:     "clean output has no fix",
			output:   "",
			original: "echo ok",
			want:     "",
			wantOK:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Generate(tc.output, tc.original)
			if ok != tc.wantOK {
				t.Fatalf("Generate ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("Generate = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGenerateFirstMatchWins(t *testing.T) {
	// Output matches both permission denied and the apt lock signature;
	// the permission rule is higher priority, so sudo wins.
	output := "Permission denied\nE: Could not get lock /var/lib/dpkg/lock\n"
	got, ok := Generate(output, "apt-get install -y nginx")
	if !ok {
		t.Fatal("expected a remediation")
	}
	want := "sudo apt-get install -y nginx"
	if got != want {
		t.Errorf("Generate = %q, want %q", got, want)
	}
}

func TestGenerateCaseInsensitive(t *testing.T) {
	got, ok := Generate("PERMISSION DENIED", "systemctl restart app")
	if !ok || got != "sudo systemctl restart app" {
		t.Errorf("Generate = %q, ok=%v", got, ok)
	}
}
