package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/download"
	"github.com/oscarAI2/llam4/internal/sku"
)

func verifyDownloadCmd() *cli.Command {
	return &cli.Command{
		Name:  "verify-download",
		Usage: "Check a downloaded model against its checklist.chk",
		Flags: []cli.Flag{modelIDFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := sku.Resolve(cmd.String("model-id"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dir := sku.ModelCheckpointDir(checkpointRoot(ctx, cmd), m.Descriptor())
			results, err := download.Verify(ctx, dir)
			if err != nil && !errors.Is(err, download.ErrChecksumMismatch) {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			table := tablewriter.NewWriter(cmd.Root().Writer)
			table.SetHeader([]string{"File", "Status", "Expected MD5", "Actual MD5"})
			table.SetAutoWrapText(false)
			for _, r := range results {
				status := "OK"
				switch {
				case !r.Exists:
					status = "MISSING"
				case !r.OK():
					status = "MISMATCH"
				}
				table.Append([]string{r.File, status, r.Expected, r.Actual})
			}
			table.Render()

			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			_, _ = fmt.Fprintf(cmd.Root().Writer, "All %d files verified\n", len(results))
			return nil
		},
	}
}
