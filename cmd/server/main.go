package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/redgreen/redgreen-server/internal/app"
	"github.com/redgreen/redgreen-server/internal/config"
	"github.com/redgreen/redgreen-server/internal/game"
	"github.com/redgreen/redgreen-server/internal/log"
)

func main() {
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:           "redgreen-server",
		Short:         "Multiplayer red-light/green-light game server.",
		Args:          cobra.ExactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, overrides)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVar(&configPath, "config", "", "path to config file")
	fs.StringVar(&overrides.ListenAddr, "listen-addr", "", "TCP listen address for the game protocol")
	fs.StringVar(&overrides.OpsAddr, "ops-addr", "", "HTTP listen address for the ops endpoint")
	fs.StringVar(&overrides.DatabasePath, "database-path", "", "path to the SQLite database")
	fs.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.DurationVar(&overrides.TickPeriod, "tick-period", 0, "room scheduler tick period")
	fs.DurationVar(&overrides.LightDuration, "light-duration", 0, "default light duration")
	fs.IntVar(&overrides.RoomCapacity, "room-capacity", 0, "default room player capacity")

	return cmd
}

func run(ctx context.Context, configPath string, overrides config.Config) error {
	bootLogger := log.New(overrides.LogLevel)

	cfg, resolvedPath, err := config.Load(bootLogger, configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(overrides)

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", resolvedPath).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	detectors := func() game.Detector { return game.NopDetector{} }
	application, err := app.New(cfg, detectors, logger)
	if err != nil {
		return err
	}

	if err := application.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
