// Package transfer provides SFTP-based single-file copy to a remote host,
// with the same connection and timeout discipline as command execution.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/agent462/drover/internal/executor"
	"github.com/agent462/drover/internal/ssh"
)

// Spec describes one local-to-remote file copy.
type Spec struct {
	Host       string
	AuthRef    string
	LocalPath  string
	RemotePath string
	Timeout    time.Duration
}

// Validate checks the spec before any network activity.
func (s Spec) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("transfer spec: host is required")
	}
	if s.LocalPath == "" || s.RemotePath == "" {
		return fmt.Errorf("transfer spec: local and remote paths are required")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("transfer spec: timeout must be positive, got %v", s.Timeout)
	}
	return nil
}

// Result holds the outcome of one file copy. ExitCode mirrors the
// command-execution convention: 0 on success, 1 on copy failure.
type Result struct {
	Success      bool
	ExitCode     int
	Output       string // human-readable summary or failure detail
	BytesWritten int64
	Checksum     string
	Duration     time.Duration
}

// Transferrer copies files over one-shot SSH connections.
type Transferrer struct {
	dialer  *ssh.Dialer
	limiter *executor.HostLimiter
	logger  *slog.Logger
}

// Option configures a Transferrer.
type Option func(*Transferrer)

// WithHostLimiter bounds concurrent sessions per host, shared with the
// command executor so the combined session count stays bounded.
func WithHostLimiter(l *executor.HostLimiter) Option {
	return func(t *Transferrer) { t.limiter = l }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transferrer) { t.logger = logger }
}

// New creates a Transferrer around an explicitly constructed Dialer.
func New(dialer *ssh.Dialer, opts ...Option) *Transferrer {
	t := &Transferrer{
		dialer: dialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Copy uploads spec.LocalPath to spec.RemotePath on spec.Host. A non-nil
// error means the connection failed and nothing was copied; copy failures
// after a successful connection are reported inside the Result.
func (t *Transferrer) Copy(ctx context.Context, spec Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	release, err := t.limiter.Acquire(ctx, spec.Host)
	if err != nil {
		return nil, err
	}
	defer release()

	copyCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	client, err := t.dialer.Dial(copyCtx, spec.Host, spec.AuthRef)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	start := time.Now()
	checksum, written, copyErr := PushFile(copyCtx, client.SSHClient(), spec.LocalPath, spec.RemotePath)
	duration := time.Since(start)

	if copyErr != nil {
		t.logger.Warn("file copy failed",
			"host", spec.Host, "remote_path", spec.RemotePath, "error", copyErr)
		return &Result{
			Success:      false,
			ExitCode:     1,
			Output:       copyErr.Error(),
			BytesWritten: written,
			Checksum:     checksum,
			Duration:     duration,
		}, nil
	}

	t.logger.Debug("file copied",
		"host", spec.Host, "remote_path", spec.RemotePath, "bytes", written, "duration", duration)
	return &Result{
		Success:      true,
		ExitCode:     0,
		Output:       fmt.Sprintf("copied %d bytes to %s:%s (sha256 %s)", written, spec.Host, spec.RemotePath, checksum),
		BytesWritten: written,
		Checksum:     checksum,
		Duration:     duration,
	}, nil
}

// PushFile uploads a local file to a remote path via SFTP. It computes a
// SHA-256 checksum during transfer and verifies it by re-reading the
// remote file on the same SFTP session.
func PushFile(ctx context.Context, sshClient *gossh.Client, localPath, remotePath string) (checksum string, bytesWritten int64, err error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("open local file: %w", err)
	}
	defer localFile.Close()

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", 0, fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	// Ensure remote directory exists. Use path (not filepath) because
	// remotePath is always a Unix path on the remote host.
	remoteDir := path.Dir(remotePath)
	if remoteDir != "." && remoteDir != "/" {
		if err := sftpClient.MkdirAll(remoteDir); err != nil {
			return "", 0, fmt.Errorf("create remote dir %s: %w", remoteDir, err)
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", 0, fmt.Errorf("create remote file: %w", err)
	}

	hasher := sha256.New()
	writer := io.MultiWriter(remoteFile, hasher)

	written, err := copyWithContext(ctx, writer, localFile)
	// Close the remote file to flush writes before checksum verification.
	remoteFile.Close()
	if err != nil {
		return "", written, fmt.Errorf("copy: %w", err)
	}

	localChecksum := hex.EncodeToString(hasher.Sum(nil))

	remoteChecksum, err := remoteSHA256(sftpClient, remotePath)
	if err != nil {
		return localChecksum, written, fmt.Errorf("remote checksum verification failed: %w", err)
	}
	if remoteChecksum != localChecksum {
		return localChecksum, written, fmt.Errorf("checksum mismatch: local=%s remote=%s", localChecksum, remoteChecksum)
	}

	return localChecksum, written, nil
}

// remoteSHA256 computes the SHA-256 checksum of a remote file by reading
// it back over SFTP. This avoids shell command injection risks and does
// not require sha256sum on the remote host.
func remoteSHA256viaSFTP(sftpClient *sftp.Client, remotePath string) (string, error) {
	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote file for checksum: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("read remote file for checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

var remoteSHA256 = remoteSHA256viaSFTP

// copyWithContext copies from src to dst, checking for context
// cancellation between buffered reads.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
