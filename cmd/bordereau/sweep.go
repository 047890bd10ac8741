package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/bordereau-engine/internal/container"
)

type sweepOutput struct {
	Tick       interface{} `json:"tick,omitempty"`
	Escalation interface{} `json:"escalation,omitempty"`
}

func newSweepCmd(flags *globalFlags) *cobra.Command {
	var skipTick, skipEscalation bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduler tick and one escalation pass, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			c, err := startContainer(ctx, cfg, logger, func(cc *container.Config) {
				cc.Scheduler.Enabled = false
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Container shutdown error", zap.Error(err))
				}
			}()

			var out sweepOutput
			if !skipTick {
				report, err := c.Orchestrator().Tick(ctx)
				if err != nil {
					return err
				}
				out.Tick = report
			}
			if !skipEscalation {
				report, err := c.Orchestrator().EscalationTick(ctx)
				if err != nil {
					return err
				}
				out.Escalation = report
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&skipTick, "skip-tick", false, "Skip auto-transitions, routing and assignment")
	cmd.Flags().BoolVar(&skipEscalation, "skip-escalation", false, "Skip overload and SLA detection")
	return cmd
}
