package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xawala/config"

	// Transports register themselves by name.
	_ "github.com/trickstertwo/xawala/adapter/memory"
	_ "github.com/trickstertwo/xawala/adapter/nats"
	_ "github.com/trickstertwo/xawala/adapter/redisstream"
)

type GlobalOptions struct {
	ConfigFile string
}

func NewRootCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   "xawala [command]",
		Short: "Exchange Awala service messages as CloudEvents",
		Long: `xawala converts between Awala service messages and CloudEvents and
moves them over Redis Streams, NATS or an in-memory bus.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", os.Getenv("XAWALA_CONFIG"), "Path to the YAML configuration file")

	cmd.AddCommand(NewConvertCommand())
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewReceiveCommand(opts))

	return cmd
}

func (o *GlobalOptions) loadConfig() (*config.Config, error) {
	return config.LoadFile(o.ConfigFile)
}

func newLogger(cfg config.LogConfig, w io.Writer) *xlog.Logger {
	zc := zerolog.Config{
		MinLevel: xlog.LevelInfo,
		Console:  cfg.Console,
		Writer:   w,
	}
	switch strings.ToLower(cfg.Level) {
	case "debug":
		zc.MinLevel = xlog.LevelDebug
	case "warn":
		zc.MinLevel = xlog.LevelWarn
	case "error":
		zc.MinLevel = xlog.LevelError
	}
	return zerolog.Use(zc).With(xlog.Str("app", "xawala"))
}
