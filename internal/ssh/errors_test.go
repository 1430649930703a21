package ssh

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapConnectError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHint string
	}{
		{
			name:     "auth failure",
			err:      errors.New("ssh: handshake failed: ssh: unable to authenticate"),
			wantHint: "verify the referenced credential",
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp 10.0.0.5:22: connect: connection refused"),
			wantHint: "verify SSH daemon is running",
		},
		{
			name:     "dns failure",
			err:      errors.New("dial tcp: lookup nohost.invalid: no such host"),
			wantHint: "verify hostname is correct",
		},
		{
			name:     "missing known_hosts",
			err:      errors.New("no known_hosts file found at /home/u/.ssh/known_hosts"),
			wantHint: "use --insecure",
		},
		{
			name:     "key permission",
			err:      errors.New("permission denied reading key file"),
			wantHint: "check SSH key permissions",
		},
		{
			name:     "unrecognized error still wraps",
			err:      errors.New("something unexpected"),
			wantHint: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapConnectError("web1", tc.err)
			if !IsConnectError(wrapped) {
				t.Fatalf("expected ConnectError, got %T", wrapped)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Error("wrapped error must unwrap to the cause")
			}

			var ce *ConnectError
			errors.As(wrapped, &ce)
			if ce.Host != "web1" {
				t.Errorf("host = %q", ce.Host)
			}
			if tc.wantHint == "" {
				if ce.Hint != "" {
					t.Errorf("expected no hint, got %q", ce.Hint)
				}
			} else if !strings.Contains(ce.Hint, tc.wantHint) {
				t.Errorf("hint = %q, want substring %q", ce.Hint, tc.wantHint)
			}
		})
	}
}

func TestWrapConnectErrorNil(t *testing.T) {
	if err := WrapConnectError("web1", nil); err != nil {
		t.Errorf("nil must stay nil, got %v", err)
	}
}

func TestIsConnectErrorThroughWrapping(t *testing.T) {
	inner := &ConnectError{Host: "web1", Err: errors.New("refused")}
	outer := fmt.Errorf("attempt 2: %w", inner)
	if !IsConnectError(outer) {
		t.Error("IsConnectError must see through fmt.Errorf wrapping")
	}
	if IsConnectError(errors.New("plain")) {
		t.Error("plain errors are not ConnectErrors")
	}
}
