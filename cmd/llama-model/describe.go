package main

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/sku"
)

func describeCmd() *cli.Command {
	return &cli.Command{
		Name:  "describe",
		Usage: "Show details about a model",
		Flags: []cli.Flag{modelIDFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := sku.Resolve(cmd.String("model-id"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			arch, err := json.MarshalIndent(m.ArchArgs, "", "  ")
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			sampling, err := json.MarshalIndent(m.RecommendedSampling, "", "  ")
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			downloaded := "no"
			if pathExists(sku.ModelCheckpointDir(checkpointRoot(ctx, cmd), m.Descriptor())) {
				downloaded = "yes"
			}

			table := tablewriter.NewWriter(cmd.Root().Writer)
			table.SetAutoWrapText(false)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetRowLine(true)
			table.AppendBulk([][]string{
				{"Model", m.Descriptor()},
				{"Family", m.FamilyName()},
				{"Hugging Face ID", orNone(m.HuggingFaceRepo)},
				{"Description", m.Description},
				{"Context Length", m.ContextLength()},
				{"Weights format", string(m.QuantizationFormat)},
				{"Checkpoint shards", fmt.Sprint(m.PthFileCount)},
				{"Downloaded", downloaded},
				{"Model params.json", string(arch)},
				{"Recommended sampling", string(sampling)},
			})
			table.Render()
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "<Not Available>"
	}
	return s
}
