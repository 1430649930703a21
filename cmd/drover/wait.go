package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/drover/internal/stabilize"
)

func newWaitCmd(flags *rootFlags) *cobra.Command {
	var (
		service string
		cluster string
		maxWait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait --service SERVICE --cluster CLUSTER",
		Short: "Wait for a managed service's replicas to stabilize",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.ControlPlane.Endpoint == "" {
				return fmt.Errorf("control_plane.endpoint is not configured")
			}

			if maxWait == 0 {
				maxWait = cfg.Defaults.MaxWait.Duration
			}

			cp := stabilize.NewHTTPControlPlane(cfg.ControlPlane.Endpoint,
				stabilize.WithToken(cfg.ControlPlane.Token))
			poller := stabilize.NewPoller(cp,
				stabilize.WithInterval(cfg.Defaults.PollInterval.Duration))

			ref := stabilize.ServiceRef{Service: service, Cluster: cluster}
			outcome, err := poller.AwaitStable(cmd.Context(), ref, maxWait)
			if err != nil {
				return err
			}

			snap := outcome.Snapshot
			if outcome.TimedOut {
				return fmt.Errorf("service %s did not stabilize within %s (desired=%d running=%d pending=%d)",
					ref.Key(), maxWait, snap.Desired, snap.Running, snap.Pending)
			}
			fmt.Printf("service %s stable: %d/%d running\n", ref.Key(), snap.Running, snap.Desired)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "service identifier (required)")
	cmd.Flags().StringVar(&cluster, "cluster", "", "cluster identifier (required)")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "stabilization deadline (default from config)")
	cmd.MarkFlagRequired("service")
	cmd.MarkFlagRequired("cluster")

	return cmd
}
