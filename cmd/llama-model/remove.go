package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/download"
	"github.com/oscarAI2/llam4/internal/logger"
	"github.com/oscarAI2/llam4/internal/sku"
)

func removeCmd() *cli.Command {
	return &cli.Command{
		Name:  "remove",
		Usage: "Delete a downloaded model",
		Flags: []cli.Flag{
			modelIDFlag(),
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "do not ask for confirmation",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := sku.Resolve(cmd.String("model-id"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dir := sku.ModelCheckpointDir(checkpointRoot(ctx, cmd), m.Descriptor())
			if !pathExists(dir) {
				return cli.Exit(fmt.Sprintf("error: %s is not downloaded (%s)", m.Descriptor(), dir), 1)
			}

			if !cmd.Bool("force") {
				answer, err := promptLine(cmd.Root().Reader, cmd.Root().ErrWriter,
					fmt.Sprintf("Are you sure you want to remove %s? (y/n): ", dir))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if a := strings.ToLower(answer); a != "y" && a != "yes" {
					_, _ = fmt.Fprintln(cmd.Root().Writer, "Removal cancelled.")
					return nil
				}
			}

			unlock, err := download.Lock(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = unlock() }()

			if err := removeAll(dir); err != nil {
				return cli.Exit(fmt.Sprintf("error: remove %s: %v", dir, err), 1)
			}
			logger.FromContext(ctx).Debug("removed", "dir", dir)
			_, _ = fmt.Fprintf(cmd.Root().Writer, "Removed %s\n", dir)
			return nil
		},
	}
}
