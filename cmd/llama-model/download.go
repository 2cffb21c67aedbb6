package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/download"
	"github.com/oscarAI2/llam4/internal/logger"
	"github.com/oscarAI2/llam4/internal/sku"
)

func downloadCmd() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Download a model from Meta or Hugging Face",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "download source (meta, huggingface)",
			},
			modelIDFlag(),
			&cli.StringFlag{
				Name:  "meta-url",
				Usage: "signed URL from the Meta download email; prompted for when missing",
			},
			&cli.StringFlag{
				Name:    "hf-token",
				Usage:   "Hugging Face access token",
				Sources: cli.EnvVars(envHFToken),
			},
			&cli.StringFlag{
				Name:    "hf-endpoint",
				Usage:   "Hugging Face endpoint",
				Sources: cli.EnvVars(envHFEndpoint),
			},
			&cli.StringSliceFlag{
				Name:  "ignore-patterns",
				Usage: "glob patterns of files to skip",
			},
			&cli.IntFlag{
				Name:  "max-parallel",
				Usage: "files downloaded concurrently",
				Value: download.DefaultMaxParallel,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			log := logger.FromContext(ctx)

			src := cmd.String("source")
			if src == "" {
				src = cfg.Source
			}
			if src == "" {
				return cli.Exit("error: --source is required (meta or huggingface)", 1)
			}
			source, err := download.ParseSource(src)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			var models []sku.Model
			for _, id := range strings.Split(cmd.String("model-id"), ",") {
				m, err := sku.Resolve(strings.TrimSpace(id))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				models = append(models, m)
			}

			metaURL := cmd.String("meta-url")
			if source == download.SourceMeta && metaURL == "" {
				metaURL, err = promptLine(cmd.Root().Reader, cmd.Root().ErrWriter,
					"Please provide the signed URL you received via email (https://llama.meta.com/llama-downloads): ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if metaURL == "" {
					return cli.Exit("error: a signed URL is required for --source meta", 1)
				}
			}

			maxParallel := cmd.Int("max-parallel")
			if cfg.MaxParallel != nil && !cmd.IsSet("max-parallel") {
				maxParallel = *cfg.MaxParallel
			}
			token := cmd.String("hf-token")
			if token == "" {
				token = cfg.HFToken
			}
			endpoint := cmd.String("hf-endpoint")
			if endpoint == "" {
				endpoint = cfg.HFEndpoint
			}

			root := checkpointRoot(ctx, cmd)
			for _, m := range models {
				dir := sku.ModelCheckpointDir(root, m.Descriptor())
				bar := newProgress(cmd.Root().ErrWriter, m.Descriptor())
				err := downloadAndVerify(ctx, download.Request{
					Model:          m,
					Source:         source,
					MetaURL:        metaURL,
					OutputDir:      dir,
					HFToken:        token,
					HFEndpoint:     endpoint,
					IgnorePatterns: cmd.StringSlice("ignore-patterns"),
					MaxParallel:    maxParallel,
					Progress:       bar.update,
				})
				bar.finish()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: download %s: %v", m.Descriptor(), err), 1)
				}
				log.Info("model ready", "model", m.Descriptor(), "dir", dir)
				_, _ = fmt.Fprintf(cmd.Root().Writer, "Successfully downloaded %s to %s\n", m.Descriptor(), dir)
			}
			return nil
		},
	}
}

// progress folds per-file byte counts into one bar.
type progress struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	seen map[string]int64
}

func newProgress(w io.Writer, desc string) *progress {
	return &progress{
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
		seen: map[string]int64{},
	}
}

func (p *progress) update(fp download.FileProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delta := fp.Written - p.seen[fp.File]
	p.seen[fp.File] = fp.Written
	if delta > 0 {
		_ = p.bar.Add64(delta)
	}
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}
