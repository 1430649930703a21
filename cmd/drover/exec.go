package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/drover/internal/executor"
	"github.com/agent462/drover/internal/orchestrate"
)

func newExecCmd(flags *rootFlags) *cobra.Command {
	var (
		host      string
		authRef   string
		timeout   time.Duration
		autoRetry bool
		sudo      bool
	)

	cmd := &cobra.Command{
		Use:   "exec --host HOST [flags] -- COMMAND [ARGS...]",
		Short: "Run a command on a remote host with optional auto-remediation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			dialer, err := buildDialer(cfg, flags)
			if err != nil {
				return err
			}

			if timeout == 0 {
				timeout = cfg.Defaults.Timeout.Duration
			}

			exec := executor.New(dialer,
				executor.WithHostLimiter(executor.NewHostLimiter(cfg.Defaults.HostSessions)),
			)
			orch := orchestrate.New(exec)

			spec := executor.CommandSpec{
				Host:    host,
				AuthRef: authRef,
				Command: strings.Join(args, " "),
				Timeout: timeout,
				Sudo:    sudo,
			}

			res, err := orch.ExecuteWithRemediation(cmd.Context(), spec, autoRetry)
			if err != nil {
				return err
			}

			printRetryResult(res)
			if !res.Success {
				os.Exit(exitCodeFor(res))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "remote host (required)")
	cmd.Flags().StringVar(&authRef, "auth", "", "credential reference from config")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout (default from config)")
	cmd.Flags().BoolVar(&autoRetry, "auto-retry", false, "apply one automatic remediation on retryable failures")
	cmd.Flags().BoolVar(&sudo, "sudo", false, "run the command with sudo")
	cmd.MarkFlagRequired("host")

	return cmd
}

func printRetryResult(res *orchestrate.RetryResult) {
	if res.Result != nil {
		os.Stdout.Write(res.Result.Stdout)
		os.Stderr.Write(res.Result.Stderr)
	}

	if res.Success {
		if res.Retried {
			fmt.Fprintf(os.Stderr, "succeeded after remediation: %s\n", res.RemediationCommand)
		}
		return
	}

	switch res.Stage {
	case orchestrate.StageRemediation:
		fmt.Fprintf(os.Stderr, "remediation failed: %s\n", res.RemediationCommand)
	case orchestrate.StageRetry:
		fmt.Fprintf(os.Stderr, "still failing after remediation: %s\n", res.RemediationCommand)
	}
	for _, s := range res.Diagnosis.Suggestions() {
		fmt.Fprintf(os.Stderr, "  hint: %s\n", s)
	}
}

func exitCodeFor(res *orchestrate.RetryResult) int {
	if res.Result != nil && res.Result.ExitCode > 0 {
		return res.Result.ExitCode
	}
	return 1
}
