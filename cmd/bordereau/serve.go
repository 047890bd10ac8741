package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/bordereau-engine/internal/container"
	httpapi "github.com/garyjia/bordereau-engine/internal/interfaces/http"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting bordereau engine",
				zap.String("version", cmd.Root().Version),
				zap.String("addr", cfg.Server.Addr()),
				zap.Bool("scheduler", cfg.Scheduler.Enabled && !noScheduler))

			ctx := cmd.Context()
			c, err := startContainer(ctx, cfg, logger, func(cc *container.Config) {
				if noScheduler {
					cc.Scheduler.Enabled = false
				}
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Container shutdown error", zap.Error(err))
				}
			}()

			srvCfg := c.Config().Server
			server := httpapi.NewServer(httpapi.ServerConfig{
				Addr:         srvCfg.Addr,
				ReadTimeout:  srvCfg.ReadTimeout,
				WriteTimeout: srvCfg.WriteTimeout,
				Mode:         srvCfg.Mode,
			}, httpapi.Deps{
				Engine:  c.WorkflowEngine(),
				Router:  c.Router(),
				Tracker: c.Tracker(),
				Roster:  c.Repositories().Roster,
				Alerts:  c.Repositories().Alerts,
				Clock:   c.Clock(),
				Health: func() (bool, interface{}) {
					h := c.Health()
					return h.Overall, h.Components
				},
			}, container.NewKVLogger(logger.Named("http")))

			return server.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without background ticks")
	return cmd
}
