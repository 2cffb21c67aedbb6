package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "llama-model",
		Usage: "Work with Llama models: list, describe, download, verify, quantize and serve",
		Flags: append(globalFlags(), loggingFlags()...),
		Before: setupContext,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		// main reports errors and picks the exit code.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			listCmd(),
			describeCmd(),
			promptFormatCmd(),
			downloadCmd(),
			verifyDownloadCmd(),
			removeCmd(),
			chatCompletionCmd(),
			quantizeCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}

func main() {
	err := newApp().Run(context.Background(), os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}
