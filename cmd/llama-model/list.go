package main

import (
	"context"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/sku"
)

func listCmd() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List available models",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "show-all",
				Usage: "include older model families",
			},
			&cli.BoolFlag{
				Name:  "downloaded",
				Usage: "only models present under the checkpoint directory",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			models := sku.Featured()
			if cmd.Bool("show-all") {
				models = sku.All()
			}
			root := checkpointRoot(ctx, cmd)

			table := tablewriter.NewWriter(cmd.Root().Writer)
			table.SetHeader([]string{"Model Descriptor", "Family", "Hugging Face Repo", "Context Length"})
			table.SetAutoWrapText(false)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			for _, m := range models {
				if cmd.Bool("downloaded") && !pathExists(sku.ModelCheckpointDir(root, m.Descriptor())) {
					continue
				}
				table.Append([]string{m.Descriptor(), m.FamilyName(), m.HuggingFaceRepo, m.ContextLength()})
			}
			table.Render()
			return nil
		},
	}
}
