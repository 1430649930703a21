package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// RunCommandWithSudo executes a command via `sudo -S` and delivers the
// password over a PTY. The PTY merges stdout and stderr into a single
// stream, so stderr is always empty in the result; sudo's password prompt
// is stripped from the captured output.
func (c *Client) RunCommandWithSudo(ctx context.Context, command, password string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	// Request a PTY so sudo prompts instead of failing outright. Echo is
	// disabled so the password is not reflected into the output.
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 40, 80, modes); err != nil {
		return nil, nil, -1, fmt.Errorf("request pty: %w", err)
	}

	var outBuf safeBuffer
	session.Stdout = &outBuf
	session.Stderr = &outBuf // PTY merges streams anyway

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("stdin pipe: %w", err)
	}

	if err := session.Start("sudo -S " + command); err != nil {
		return nil, nil, -1, fmt.Errorf("start: %w", err)
	}

	// sudo -S reads the password from stdin.
	fmt.Fprintln(stdin, password)

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return stripSudoPrompt(outBuf.Bytes()), nil, -1, ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return stripSudoPrompt(outBuf.Bytes()), nil, exitErr.ExitStatus(), nil
			}
			return stripSudoPrompt(outBuf.Bytes()), nil, -1, err
		}
		return stripSudoPrompt(outBuf.Bytes()), nil, 0, nil
	}
}

// stripSudoPrompt removes sudo password prompt lines from captured output.
// Handles both "[sudo] password for user:" and bare "Password:" prompts.
func stripSudoPrompt(output []byte) []byte {
	if len(output) == 0 {
		return output
	}

	lines := bytes.Split(output, []byte("\n"))
	kept := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(string(line))
		if strings.HasPrefix(trimmed, "[sudo] password for") || strings.HasPrefix(trimmed, "Password:") {
			continue
		}
		kept = append(kept, line)
	}
	return bytes.Join(kept, []byte("\n"))
}
