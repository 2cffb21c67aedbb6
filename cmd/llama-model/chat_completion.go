package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/llama4"
	"github.com/oscarAI2/llam4/internal/logger"
	"github.com/oscarAI2/llam4/internal/quant"
)

const (
	chatMaxSeqLen    = 1024
	chatMaxBatchSize = 8
	chatSeed         = 1
)

// exampleDialogs are the conversations encoded by chat-completion.
var exampleDialogs = [][]chatformat.Message{
	{
		{Role: chatformat.RoleUser, Content: "what is the recipe of mayonnaise?"},
	},
	{
		{Role: chatformat.RoleUser, Content: "I am going to Paris, what should I see?"},
		{Role: chatformat.RoleAssistant, Content: "Paris, the capital of France, is known for its stunning architecture, art museums, historical landmarks, and romantic atmosphere."},
		{Role: chatformat.RoleUser, Content: "What is so great about #1?"},
	},
	{
		{Role: chatformat.RoleSystem, Content: "Always answer with Haiku"},
		{Role: chatformat.RoleUser, Content: "I am going to Paris, what should I see?"},
	},
}

func chatCompletionCmd() *cli.Command {
	return &cli.Command{
		Name:      "chat-completion",
		Usage:     "Build a Llama 4 checkpoint and encode example dialogs",
		ArgsUsage: "CKPT_DIR",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "quantization-mode",
				Usage: "bf16, fp8_mixed or int4_mixed",
				Value: string(quant.ModeBF16),
			},
			&cli.IntFlag{
				Name:    "world_size",
				Aliases: []string{"world-size"},
				Usage:   "model parallel size (default: WORLD_SIZE)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("error: expected exactly one CKPT_DIR argument", 1)
			}
			mode, err := quant.ParseMode(cmd.String("quantization-mode"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			gen, err := buildGenerator(ctx, llama4.BuildOptions{
				CkptDir:          cmd.Args().First(),
				MaxSeqLen:        chatMaxSeqLen,
				MaxBatchSize:     chatMaxBatchSize,
				QuantizationMode: mode,
				WorldSize:        cmd.Int("world_size"),
				Seed:             chatSeed,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build model: %v", err), 1)
			}
			logger.FromContext(ctx).Debug("model built", "params", gen.Model.NumParams(), "quantization", gen.Model.Mode)

			out := cmd.Root().Writer
			for i, dialog := range exampleDialogs {
				tokens, err := gen.EncodeDialog(dialog)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: dialog %d: %v", i, err), 1)
				}
				if len(tokens) > chatMaxSeqLen {
					return cli.Exit(fmt.Sprintf("error: dialog %d: %d tokens exceeds max_seq_len %d", i, len(tokens), chatMaxSeqLen), 1)
				}
				for _, m := range dialog {
					_, _ = fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
				}
				_, _ = fmt.Fprintf(out, "> %d prompt tokens, stop on %v\n", len(tokens), gen.Tokenizer.StopTokens())
				_, _ = fmt.Fprintln(out, "==================================")
			}
			return nil
		},
	}
}
