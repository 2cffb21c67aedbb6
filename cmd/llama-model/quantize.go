package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/checkpoint"
	"github.com/oscarAI2/llam4/internal/llama4"
	"github.com/oscarAI2/llam4/internal/logger"
	"github.com/oscarAI2/llam4/internal/quant"
)

func quantizeCmd() *cli.Command {
	return &cli.Command{
		Name:  "quantize",
		Usage: "Write an offline quantized copy of a checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "ckpt-dir",
				Usage:    "source checkpoint directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "quantization-mode",
				Usage:    "fp8_mixed or int4_mixed",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "out",
				Usage:    "output directory",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			src, dst := cmd.String("ckpt-dir"), cmd.String("out")

			mode, err := quant.ParseMode(cmd.String("quantization-mode"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if mode == quant.ModeBF16 {
				return cli.Exit("error: bf16 checkpoints need no quantization", 1)
			}
			if filepath.Clean(src) == filepath.Clean(dst) {
				return cli.Exit("error: --out must differ from --ckpt-dir", 1)
			}

			shards, err := checkpoint.ListShards(src)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			bar := progressbar.NewOptions(len(shards),
				progressbar.OptionSetWriter(cmd.Root().ErrWriter),
				progressbar.OptionSetDescription("quantizing"),
				progressbar.OptionClearOnFinish(),
			)
			meta := map[string]string{"quantization_mode": string(mode)}
			for _, shard := range shards {
				sd, err := checkpoint.Load(shard)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				q, err := quant.QuantizeStateDict(ctx, sd, mode)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %s: %v", shard, err), 1)
				}
				out := filepath.Join(dst, filepath.Base(shard))
				if err := checkpoint.Save(out, q, meta); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				log.Debug("shard quantized", "shard", filepath.Base(shard), "tensors", len(q))
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			for _, name := range []string{llama4.ParamsFile, llama4.TokenizerFile} {
				if err := copyFile(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			_, _ = fmt.Fprintf(cmd.Root().Writer, "Wrote %d %s shards to %s\n", len(shards), mode, dst)
			return nil
		},
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
