package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/bordereau-engine/internal/config"
	"github.com/garyjia/bordereau-engine/internal/container"
	"github.com/garyjia/bordereau-engine/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd(version string) *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:          "bordereau",
		Short:        "Bordereau workflow engine: stage tracking, routing and SLA escalation",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath, "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env", ".env", "Optional dotenv file loaded before the environment")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newSweepCmd(flags))
	cmd.AddCommand(newMigrateCmd(flags))
	cmd.AddCommand(newClassifyCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Version = version

	return cmd
}

// bootstrap loads configuration and builds the logger
func (f *globalFlags) bootstrap() (*config.Config, *zap.Logger, error) {
	path := f.configPath
	if path == defaultConfigPath {
		// the default file is optional; defaults and env still apply
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path, f.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// startContainer builds and starts the container; mutate adjusts the
// container configuration before start.
func startContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger, mutate func(*container.Config)) (*container.Container, error) {
	cc, err := cfg.ToContainerConfig()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cc)
	}

	c, err := container.NewContainer(cc, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
