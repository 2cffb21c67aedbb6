package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/promptformat"
	"github.com/oscarAI2/llam4/internal/sku"
)

func promptFormatCmd() *cli.Command {
	return &cli.Command{
		Name:  "prompt-format",
		Usage: "Show the prompt format of a model",
		Flags: []cli.Flag{modelIDFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := sku.Resolve(cmd.String("model-id"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := promptformat.Render(cmd.Root().Writer, m); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}
