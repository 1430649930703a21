package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/drover/internal/executor"
	"github.com/agent462/drover/internal/transfer"
)

func newPushCmd(flags *rootFlags) *cobra.Command {
	var (
		host    string
		authRef string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "push LOCAL REMOTE --host HOST",
		Short: "Copy a local file to a remote host",
		Args:  cobra.ExactArgs(2),
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

			tr := transfer.New(dialer,
				transfer.WithHostLimiter(executor.NewHostLimiter(cfg.Defaults.HostSessions)),
			)

			res, err := tr.Copy(cmd.Context(), transfer.Spec{
				Host:       host,
				AuthRef:    authRef,
				LocalPath:  args[0],
				RemotePath: args[1],
				Timeout:    timeout,
			})
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("copy failed: %s", res.Output)
			}
			fmt.Println(res.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "remote host (required)")
	cmd.Flags().StringVar(&authRef, "auth", "", "credential reference from config")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "transfer timeout (default from config)")
	cmd.MarkFlagRequired("host")

	return cmd
}
