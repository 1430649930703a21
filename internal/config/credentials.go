package config

import (
	"context"
	"fmt"
	"os"

	"github.com/agent462/drover/internal/pathutil"
	"github.com/agent462/drover/internal/ssh"
)

// CredentialSource resolves authRefs against the config's credentials
// section, reading key files at resolve time so rotation on disk is
// picked up without a reload. Key bytes live only for the duration of
// the dial that requested them.
type CredentialSource struct {
	creds map[string]Credential
}

// NewCredentialSource builds an ssh.CredentialSource from config.
func NewCredentialSource(cfg *Config) *CredentialSource {
	return &CredentialSource{creds: cfg.Credentials}
}

// Resolve implements ssh.CredentialSource.
func (s *CredentialSource) Resolve(_ context.Context, authRef string) (ssh.Credential, error) {
	cred, ok := s.creds[authRef]
	if !ok {
		return ssh.Credential{}, fmt.Errorf("unknown credential %q", authRef)
	}

	keyPath := pathutil.ExpandHome(cred.IdentityFile)
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return ssh.Credential{}, fmt.Errorf("read identity file for %q: %w", authRef, err)
	}

	return ssh.Credential{
		User:       cred.User,
		PrivateKey: key,
	}, nil
}

// HostConfigs converts the config's hosts section into the SSH layer's
// per-host override map.
func (c *Config) HostConfigs() map[string]ssh.HostConfig {
	if len(c.Hosts) == 0 {
		return nil
	}
	out := make(map[string]ssh.HostConfig, len(c.Hosts))
	for name, h := range c.Hosts {
		out[name] = ssh.HostConfig{
			Hostname:     h.Hostname,
			User:         h.User,
			Port:         h.Port,
			IdentityFile: pathutil.ExpandHome(h.IdentityFile),
			ProxyJump:    h.ProxyJump,
		}
	}
	return out
}
