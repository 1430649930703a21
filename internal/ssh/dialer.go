package ssh

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Credential is resolved key material for one authRef. Private keys are
// parsed in memory and never written to disk.
type Credential struct {
	User         string
	PrivateKey   []byte // PEM-encoded private key
	Passphrase   []byte // optional, for encrypted keys
	Password     string // optional password auth
	SudoPassword string // optional, delivered over a PTY when sudo is requested
}

// CredentialSource resolves an authRef into key material. Implementations
// live outside this core (secret stores, config files); provisioning and
// revocation of the underlying material is their responsibility.
type CredentialSource interface {
	Resolve(ctx context.Context, authRef string) (Credential, error)
}

// StaticCredentials is a CredentialSource backed by an in-memory map,
// used by tests and small setups.
type StaticCredentials map[string]Credential

func (s StaticCredentials) Resolve(_ context.Context, authRef string) (Credential, error) {
	cred, ok := s[authRef]
	if !ok {
		return Credential{}, fmt.Errorf("unknown credential %q", authRef)
	}
	return cred, nil
}

// HostConfig holds per-host SSH connection details.
type HostConfig struct {
	Hostname     string // actual hostname to dial (may differ from the map key)
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string // comma-separated jump hosts, "none" to disable
}

// Dialer turns (host, authRef) pairs into one-shot SSH connections.
// It is constructed once at startup and handed to each component that
// needs remote sessions; there is no process-global connection state.
type Dialer struct {
	base      ClientConfig
	hostConfs map[string]HostConfig
	creds     CredentialSource
	agent     agent.ExtendedAgent
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithHostConfigs sets per-host connection overrides.
func WithHostConfigs(hostConfs map[string]HostConfig) DialerOption {
	return func(d *Dialer) { d.hostConfs = hostConfs }
}

// WithCredentialSource sets the resolver for authRefs.
func WithCredentialSource(src CredentialSource) DialerOption {
	return func(d *Dialer) { d.creds = src }
}

// WithAgentConn wires an explicit SSH agent connection into the auth chain.
// The caller owns the connection lifetime.
func WithAgentConn(conn net.Conn) DialerOption {
	return func(d *Dialer) { d.agent = agent.NewClient(conn) }
}

// NewDialer creates a Dialer with a base client config and options.
func NewDialer(base ClientConfig, opts ...DialerOption) *Dialer {
	d := &Dialer{base: base}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial resolves host overrides and the authRef, then dials a one-shot
// connection. The caller must close the returned Client. Failures are
// returned as ConnectError: the command never ran.
func (d *Dialer) Dial(ctx context.Context, host, authRef string) (*Client, error) {
	conf, dialHost := d.resolveHostConf(host)

	if authRef != "" {
		if d.creds == nil {
			return nil, &ConnectError{
				Host: host,
				Err:  fmt.Errorf("authRef %q given but no credential source configured", authRef),
			}
		}
		cred, err := d.creds.Resolve(ctx, authRef)
		if err != nil {
			return nil, &ConnectError{Host: host, Err: fmt.Errorf("resolve credential: %w", err)}
		}
		if err := applyCredential(&conf, cred); err != nil {
			return nil, &ConnectError{Host: host, Err: err}
		}
	}

	if d.agent != nil {
		if signers, err := d.agent.Signers(); err == nil && len(signers) > 0 {
			conf.Signers = append(conf.Signers, signers...)
		}
	}

	client, err := Dial(ctx, dialHost, conf)
	if err != nil {
		return nil, WrapConnectError(host, err)
	}
	return client, nil
}

// applyCredential folds resolved key material into a client config.
// Keys are parsed here, in memory; nothing is materialized to disk.
func applyCredential(conf *ClientConfig, cred Credential) error {
	if cred.User != "" {
		conf.User = cred.User
	}
	if len(cred.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if len(cred.Passphrase) > 0 {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cred.PrivateKey, cred.Passphrase)
		} else {
			signer, err = ssh.ParsePrivateKey(cred.PrivateKey)
		}
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}
		conf.Signers = append(conf.Signers, signer)
	}
	if cred.Password != "" {
		conf.Password = cred.Password
	}
	return nil
}

// SudoPassword resolves the sudo password for an authRef, if any.
func (d *Dialer) SudoPassword(ctx context.Context, authRef string) (string, error) {
	if authRef == "" || d.creds == nil {
		return "", nil
	}
	cred, err := d.creds.Resolve(ctx, authRef)
	if err != nil {
		return "", fmt.Errorf("resolve credential: %w", err)
	}
	return cred.SudoPassword, nil
}

// resolveHostConf applies per-host overrides to the base SSH client config.
func (d *Dialer) resolveHostConf(host string) (ClientConfig, string) {
	conf := d.base
	dialHost := host
	if hc, ok := d.hostConfs[host]; ok {
		if hc.Hostname != "" {
			dialHost = hc.Hostname
		}
		if hc.User != "" {
			conf.User = hc.User
		}
		if hc.Port > 0 {
			conf.Port = hc.Port
		}
		if hc.IdentityFile != "" {
			conf.IdentityFiles = []string{hc.IdentityFile}
		}
		if hc.ProxyJump != "" {
			conf.ProxyJump = hc.ProxyJump
		}
	}
	return conf, dialHost
}
