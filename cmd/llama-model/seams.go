package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/oscarAI2/llam4/internal/download"
	"github.com/oscarAI2/llam4/internal/llama4"
)

// Collaborators swapped out by tests.
var (
	stdinIsTTY        = isTTY
	downloadAndVerify = download.DownloadAndVerify
	removeAll         = os.RemoveAll
	pathExists        = func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}
	buildGenerator = func(ctx context.Context, opts llama4.BuildOptions) (*llama4.Llama4, error) {
		return llama4.Build(ctx, opts, llama4.Deps{})
	}
)

// promptLine shows prompt on a terminal and reads one line from r.
func promptLine(r io.Reader, w io.Writer, prompt string) (string, error) {
	if stdinIsTTY() {
		_, _ = fmt.Fprint(w, prompt)
	}
	s, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(s), nil
}
