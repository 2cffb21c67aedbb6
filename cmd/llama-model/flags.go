package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/logger"
)

const (
	envCheckpointDir = "LLAMA_CHECKPOINT_DIR"
	envHFToken       = "HF_TOKEN"
	envHFEndpoint    = "HF_ENDPOINT"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to config.yaml",
			Value: defaultConfigPath(),
		},
		&cli.StringFlag{
			Name:  "checkpoint-dir",
			Usage: "root directory models are downloaded to (default ~/.llama/checkpoints)",
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level (debug, info, warn, error)",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "log format (pretty, json, text)",
			Value: "pretty",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging (shorthand for --log-level=debug)",
		},
	}
}

func modelIDFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "model-id",
		Aliases:  []string{"m"},
		Usage:    "model descriptor, see `llama-model list`",
		Required: true,
	}
}

type configKey struct{}

// setupContext loads the config file and installs the logger.
func setupContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(cmd.String("config"))
	if err != nil {
		return ctx, cli.Exit("error: "+err.Error(), 1)
	}

	level := cmd.String("log-level")
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		level = cfg.LogLevel
	}
	if cmd.Bool("debug") {
		level = "debug"
	}
	format := cmd.String("log-format")
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		format = cfg.LogFormat
	}

	log := logger.NewWithFormat(cmd.Root().ErrWriter, format, logger.ParseLevel(level))
	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

// checkpointRoot resolves the checkpoint root: flag, environment, config
// file, then ~/.llama/checkpoints.
func checkpointRoot(ctx context.Context, cmd *cli.Command) string {
	if v := strings.TrimSpace(cmd.String("checkpoint-dir")); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(envCheckpointDir)); v != "" {
		return v
	}
	if v := configFrom(ctx).CheckpointDir; v != "" {
		return expandHome(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".llama", "checkpoints")
	}
	return filepath.Join(home, ".llama", "checkpoints")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
