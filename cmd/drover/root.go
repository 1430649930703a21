package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agent462/drover/internal/config"
	"github.com/agent462/drover/internal/pathutil"
	"github.com/agent462/drover/internal/ssh"
)

// rootFlags holds flags shared by all subcommands.
type rootFlags struct {
	configPath string
	user       string
	identity   string
	insecure   bool
	askPass    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "drover",
		Short: "Run and repair commands on remote hosts",
		Long: `drover executes commands on remote hosts over SSH, classifies
failures, applies a single bounded remediation, and waits for managed
services to stabilize.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", pathutil.ExpandHome("~/.drover.yaml"), "config file path")
	cmd.PersistentFlags().StringVarP(&flags.user, "user", "u", "", "SSH username override")
	cmd.PersistentFlags().StringVarP(&flags.identity, "identity", "i", "", "SSH identity file")
	cmd.PersistentFlags().BoolVar(&flags.insecure, "insecure", false, "skip host key verification")
	cmd.PersistentFlags().BoolVar(&flags.askPass, "ask-pass", false, "prompt for an SSH password")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newExecCmd(flags))
	cmd.AddCommand(newPushCmd(flags))
	cmd.AddCommand(newWaitCmd(flags))

	return cmd
}

// loadConfig loads the config file named by the flags.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	return config.Load(flags.configPath)
}

// buildDialer assembles the SSH dialer from config and flags. The SSH
// agent connection, when available, is established here and handed to the
// dialer explicitly.
func buildDialer(cfg *config.Config, flags *rootFlags) (*ssh.Dialer, error) {
	base := ssh.ClientConfig{
		User:               flags.user,
		AcceptUnknownHosts: flags.insecure,
	}
	if flags.identity != "" {
		base.IdentityFiles = []string{pathutil.ExpandHome(flags.identity)}
	}
	if flags.askPass {
		base.PasswordCallback = promptPassword
	}

	opts := []ssh.DialerOption{
		ssh.WithHostConfigs(cfg.HostConfigs()),
		ssh.WithCredentialSource(config.NewCredentialSource(cfg)),
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			opts = append(opts, ssh.WithAgentConn(conn))
		}
	}

	return ssh.NewDialer(base, opts...), nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(host string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s password: ", host)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
