package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/checkpoint"
	"github.com/oscarAI2/llam4/internal/distributed"
	"github.com/oscarAI2/llam4/internal/download"
	"github.com/oscarAI2/llam4/internal/llama4"
	"github.com/oscarAI2/llam4/internal/quant"
	"github.com/oscarAI2/llam4/internal/sku"
)

type runResult struct {
	stdout string
	stderr string
	code   int
}

// runCLI runs the app against a fresh checkpoint root and no config file.
func runCLI(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr

	argv := append([]string{"llama-model", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...)
	err := app.Run(context.Background(), argv)
	if err != nil {
		stderr.WriteString(err.Error())
	}
	return runResult{stdout: stdout.String(), stderr: stderr.String(), code: exitCode(err)}
}

func stubSeams(t *testing.T) {
	t.Helper()
	oldTTY, oldDownload, oldRemove, oldExists, oldBuild := stdinIsTTY, downloadAndVerify, removeAll, pathExists, buildGenerator
	stdinIsTTY = func() bool { return false }
	t.Cleanup(func() {
		stdinIsTTY, downloadAndVerify, removeAll, pathExists, buildGenerator = oldTTY, oldDownload, oldRemove, oldExists, oldBuild
	})
}

func TestCLI(t *testing.T) {
	stubSeams(t)
	t.Setenv(envCheckpointDir, t.TempDir())

	var downloads []download.Request
	downloadAndVerify = func(_ context.Context, req download.Request) error {
		downloads = append(downloads, req)
		return nil
	}
	var removed []string
	removeAll = func(p string) error {
		removed = append(removed, p)
		return nil
	}
	pathExists = func(string) bool { return true }

	tests := []struct {
		name      string
		stdin     string
		args      []string
		code      int
		contains  string
		downloads int
		removes   int
	}{
		{name: "list", args: []string{"list"}, contains: "Llama 4"},
		{name: "list all", args: []string{"list", "--show-all"}, contains: "Llama 2"},
		{name: "describe", args: []string{"describe", "-m", "Llama-4-Scout-17B-16E"}, contains: "Llama 4 Scout"},
		{name: "describe unknown", args: []string{"describe", "-m", "Scout"}, code: 1, contains: "did you mean"},
		{name: "prompt format", args: []string{"prompt-format", "-m", "Llama-4-Scout-17B-16E"}, contains: "<|begin_of_text|>"},
		{name: "prompt format guard", args: []string{"prompt-format", "-m", "Llama-Guard-3-1B"}, code: 1},
		{
			name:      "download meta url from stdin",
			stdin:     "https://llama4.llamameta.net/*?Policy=abc\n",
			args:      []string{"download", "--source", "meta", "-m", "Llama-4-Scout-17B-16E"},
			contains:  "Successfully downloaded Llama-4-Scout-17B-16E",
			downloads: 1,
		},
		{
			name:      "download passes url through",
			stdin:     "dummy_url\n",
			args:      []string{"download", "--source", "meta", "--model-id", "Llama-4-Scout-17B-16E"},
			contains:  "Successfully downloaded Llama-4-Scout-17B-16E",
			downloads: 1,
		},
		{name: "download without url", args: []string{"download", "--source", "meta", "-m", "Llama-4-Scout-17B-16E"}, code: 1},
		{name: "download bad source", args: []string{"download", "--source", "s3", "-m", "Llama-4-Scout-17B-16E"}, code: 1},
		{name: "remove confirmed", stdin: "y\n", args: []string{"remove", "-m", "Llama-4-Scout-17B-16E"}, contains: "Removed", removes: 1},
		{name: "remove declined", stdin: "n\n", args: []string{"remove", "-m", "Llama-4-Scout-17B-16E"}, contains: "cancelled"},
		{name: "remove forced", args: []string{"remove", "-m", "Llama-4-Scout-17B-16E", "-f"}, removes: 1},
		{name: "chat completion needs dir", args: []string{"chat-completion"}, code: 1},
		{name: "chat completion bad mode", args: []string{"chat-completion", "--quantization-mode", "int8", "/ckpt"}, code: 1},
		{name: "version", args: []string{"version"}, contains: "version:"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			downloads, removed = nil, nil
			res := runCLI(t, tc.stdin, tc.args...)
			if res.code != tc.code {
				t.Fatalf("exit code = %d, want %d\nstdout: %s\nstderr: %s", res.code, tc.code, res.stdout, res.stderr)
			}
			if tc.contains != "" && !strings.Contains(res.stdout+res.stderr, tc.contains) {
				t.Fatalf("output missing %q\nstdout: %s\nstderr: %s", tc.contains, res.stdout, res.stderr)
			}
			if len(downloads) != tc.downloads {
				t.Fatalf("downloads = %d, want %d", len(downloads), tc.downloads)
			}
			if len(removed) != tc.removes {
				t.Fatalf("removes = %d, want %d", len(removed), tc.removes)
			}
		})
	}
}

func TestRemoveDeletesLockFile(t *testing.T) {
	stubSeams(t)
	root := t.TempDir()
	t.Setenv(envCheckpointDir, root)

	m, err := sku.Resolve("Llama-4-Scout-17B-16E")
	if err != nil {
		t.Fatal(err)
	}
	dir := sku.ModelCheckpointDir(root, m.Descriptor())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "params.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", "remove", "-m", "Llama-4-Scout-17B-16E", "-f")
	if res.code != 0 {
		t.Fatalf("exit code = %d\nstderr: %s", res.code, res.stderr)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("left behind in checkpoint root: %s", e.Name())
	}
}

func TestDownloadForwardsRequest(t *testing.T) {
	stubSeams(t)
	root := t.TempDir()
	t.Setenv(envHFToken, "hf_secret")

	var got download.Request
	downloadAndVerify = func(_ context.Context, req download.Request) error {
		got = req
		return nil
	}

	res := runCLI(t, "", "--checkpoint-dir", root, "download",
		"--source", "huggingface", "-m", "Llama-4-Scout-17B-16E",
		"--max-parallel", "5", "--ignore-patterns", "original/*")
	if res.code != 0 {
		t.Fatalf("exit code %d: %s", res.code, res.stderr)
	}
	if got.Source != download.SourceHuggingFace || got.HFToken != "hf_secret" || got.MaxParallel != 5 {
		t.Fatalf("request = %+v", got)
	}
	if want := sku.ModelCheckpointDir(root, "Llama-4-Scout-17B-16E"); got.OutputDir != want {
		t.Fatalf("output dir = %q, want %q", got.OutputDir, want)
	}
	if len(got.IgnorePatterns) != 1 || got.IgnorePatterns[0] != "original/*" {
		t.Fatalf("ignore patterns = %v", got.IgnorePatterns)
	}
}

func TestDownloadFailureExitsNonZero(t *testing.T) {
	stubSeams(t)
	t.Setenv(envCheckpointDir, t.TempDir())
	downloadAndVerify = func(context.Context, download.Request) error {
		return download.ErrChecksumMismatch
	}

	res := runCLI(t, "", "download", "--source", "meta", "--meta-url", "https://example.com/*?x=1", "-m", "Llama-4-Scout-17B-16E")
	if res.code != 1 || !strings.Contains(res.stderr, "checksum") {
		t.Fatalf("code = %d stderr = %s", res.code, res.stderr)
	}
}

type stubTokenizer struct{}

func (stubTokenizer) NWords() int                    { return 8 }
func (stubTokenizer) EncodeDialog(text string) []int { return make([]int, len(strings.Fields(text))) }
func (stubTokenizer) Decode([]int) string            { return "" }
func (stubTokenizer) StopTokens() []int              { return []int{7} }

func TestChatCompletionForwardsOptions(t *testing.T) {
	stubSeams(t)

	var got llama4.BuildOptions
	buildGenerator = func(_ context.Context, opts llama4.BuildOptions) (*llama4.Llama4, error) {
		got = opts
		args, err := llama4.ParseModelArgs([]byte(`{"dim": 1, "n_layers": 1, "n_heads": 1, "vocab_size": 8}`))
		if err != nil {
			return nil, err
		}
		model, err := llama4.NewTransformer(args, checkpoint.Parallel{Size: 1})
		if err != nil {
			return nil, err
		}
		return &llama4.Llama4{
			Model:     model,
			Tokenizer: stubTokenizer{},
			Formatter: chatformat.NewFormatter(chatformat.FormatLlama4),
			Args:      args,
		}, nil
	}

	res := runCLI(t, "", "chat-completion", "--quantization-mode", "fp8_mixed", "--world_size", "2", "/ckpt/scout")
	if res.code != 0 {
		t.Fatalf("exit code %d: %s", res.code, res.stderr)
	}
	want := llama4.BuildOptions{
		CkptDir:          "/ckpt/scout",
		MaxSeqLen:        1024,
		MaxBatchSize:     8,
		QuantizationMode: quant.ModeFP8Mixed,
		WorldSize:        2,
		Seed:             1,
	}
	if got != want {
		t.Fatalf("options = %+v, want %+v", got, want)
	}
	if n := strings.Count(res.stdout, "prompt tokens"); n != len(exampleDialogs) {
		t.Fatalf("encoded %d dialogs, want %d\n%s", n, len(exampleDialogs), res.stdout)
	}
}

func TestChatCompletionBuildError(t *testing.T) {
	stubSeams(t)
	buildGenerator = func(context.Context, llama4.BuildOptions) (*llama4.Llama4, error) {
		return nil, checkpoint.ErrNoCheckpoints
	}

	res := runCLI(t, "", "chat-completion", "/nowhere")
	if res.code != 1 || !strings.Contains(res.stderr, "build model") {
		t.Fatalf("code = %d stderr = %s", res.code, res.stderr)
	}
}

func TestQuantizeWritesShards(t *testing.T) {
	stubSeams(t)
	src, dst := t.TempDir(), filepath.Join(t.TempDir(), "fp8")

	w1, err := checkpoint.FromFloat32(checkpoint.BF16, []int{2, 4}, []float32{1, -2, 3, -4, 0.5, 0.25, -0.125, 8})
	if err != nil {
		t.Fatal(err)
	}
	norm, err := checkpoint.FromFloat32(checkpoint.BF16, []int{4}, []float32{1, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	sd := checkpoint.StateDict{
		"layers.0.feed_forward.w1.weight": w1,
		"layers.0.ffn_norm.weight":        norm,
	}
	if err := checkpoint.Save(filepath.Join(src, "consolidated.00.safetensors"), sd, nil); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{llama4.ParamsFile, llama4.TokenizerFile} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res := runCLI(t, "", "quantize", "--ckpt-dir", src, "--quantization-mode", "fp8_mixed", "--out", dst)
	if res.code != 0 {
		t.Fatalf("exit code %d: %s", res.code, res.stderr)
	}

	out, err := checkpoint.Load(filepath.Join(dst, "consolidated.00.safetensors"))
	if err != nil {
		t.Fatal(err)
	}
	if out["layers.0.feed_forward.w1.weight"].DType != checkpoint.F8E4M3 {
		t.Fatalf("w1 dtype = %s", out["layers.0.feed_forward.w1.weight"].DType)
	}
	if _, ok := out["layers.0.feed_forward.w1.weight"+quant.ScaleSuffix]; !ok {
		t.Fatal("missing scale tensor")
	}
	if out["layers.0.ffn_norm.weight"].DType != checkpoint.BF16 {
		t.Fatalf("norm dtype = %s", out["layers.0.ffn_norm.weight"].DType)
	}
	if b, err := os.ReadFile(filepath.Join(dst, llama4.ParamsFile)); err != nil || string(b) != llama4.ParamsFile {
		t.Fatalf("params.json not copied: %q %v", b, err)
	}
}

func TestQuantizeRejectsBF16(t *testing.T) {
	stubSeams(t)
	res := runCLI(t, "", "quantize", "--ckpt-dir", t.TempDir(), "--quantization-mode", "bf16", "--out", t.TempDir())
	if res.code != 1 {
		t.Fatalf("exit code = %d", res.code)
	}
}

func TestVerifyDownloadReportsMismatch(t *testing.T) {
	stubSeams(t)
	root := t.TempDir()
	dir := sku.ModelCheckpointDir(root, "Llama-4-Scout-17B-16E")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "params.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	checklist := "00000000000000000000000000000000  params.json\n"
	if err := os.WriteFile(filepath.Join(dir, download.ChecklistFile), []byte(checklist), 0o644); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", "--checkpoint-dir", root, "verify-download", "-m", "Llama-4-Scout-17B-16E")
	if res.code != 1 || !strings.Contains(res.stdout, "MISMATCH") {
		t.Fatalf("code = %d\nstdout: %s\nstderr: %s", res.code, res.stdout, res.stderr)
	}
}

func TestCheckpointRootPrecedence(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("checkpoint_dir: /from/config\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolve := func(args ...string) string {
		var got string
		app := newApp()
		app.Writer, app.ErrWriter = &bytes.Buffer{}, &bytes.Buffer{}
		app.Commands = []*cli.Command{{
			Name: "root",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				got = checkpointRoot(ctx, cmd)
				return nil
			},
		}}
		argv := append([]string{"llama-model", "--config", cfgPath}, args...)
		if err := app.Run(context.Background(), append(argv, "root")); err != nil {
			t.Fatalf("run: %v", err)
		}
		return got
	}

	t.Setenv(envCheckpointDir, "")
	if got := resolve(); got != "/from/config" {
		t.Fatalf("config: got %q", got)
	}
	t.Setenv(envCheckpointDir, "/from/env")
	if got := resolve(); got != "/from/env" {
		t.Fatalf("env: got %q", got)
	}
	if got := resolve("--checkpoint-dir", "/from/flag"); got != "/from/flag" {
		t.Fatalf("flag: got %q", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CheckpointDir != "" || cfg.MaxParallel != nil {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("max_parallel: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	if got := exitCode(nil); got != 0 {
		t.Fatalf("nil: %d", got)
	}
	if got := exitCode(cli.Exit("boom", 3)); got != 3 {
		t.Fatalf("exit coder: %d", got)
	}
	if got := exitCode(errors.New("plain")); got != 1 {
		t.Fatalf("plain: %d", got)
	}
}

// writeTinyCheckpoint writes a single-shard bf16 checkpoint matching params.
func writeTinyCheckpoint(t *testing.T, dir, params string) {
	t.Helper()
	args, err := llama4.ParseModelArgs([]byte(params))
	if err != nil {
		t.Fatal(err)
	}
	layout, err := llama4.NewTransformer(args, checkpoint.Parallel{Size: 1})
	if err != nil {
		t.Fatal(err)
	}
	sd := checkpoint.StateDict{}
	for _, p := range layout.Params() {
		n := 1
		for _, d := range p.Shape {
			n *= d
		}
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = float32(i%7-3) / 4
		}
		if sd[p.Name], err = checkpoint.FromFloat32(checkpoint.BF16, p.Shape, vals); err != nil {
			t.Fatal(err)
		}
	}
	if err := checkpoint.Save(filepath.Join(dir, "consolidated.00.safetensors"), sd, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, llama4.ParamsFile), []byte(params), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, llama4.TokenizerFile), nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestQuantizedCheckpointBuilds(t *testing.T) {
	stubSeams(t)
	const params = `{"dim": 4, "n_layers": 1, "n_heads": 2, "vocab_size": 8, "multiple_of": 4}`
	src := t.TempDir()
	writeTinyCheckpoint(t, src, params)

	deps := llama4.Deps{
		Runtime: distributed.NewEnvRuntimeFrom(func(string) string { return "" }),
		LoadTokenizer: func(string, chatformat.Format) (llama4.Tokenizer, error) {
			return stubTokenizer{}, nil
		},
	}
	for _, tc := range []struct {
		mode  quant.Mode
		dtype checkpoint.DType
	}{
		{quant.ModeFP8Mixed, checkpoint.F8E4M3},
		{quant.ModeInt4Mixed, checkpoint.U8},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), string(tc.mode))
			res := runCLI(t, "", "quantize", "--ckpt-dir", src, "--quantization-mode", string(tc.mode), "--out", dst)
			if res.code != 0 {
				t.Fatalf("quantize exit %d: %s", res.code, res.stderr)
			}

			gen, err := llama4.Build(context.Background(), llama4.BuildOptions{
				CkptDir:          dst,
				MaxSeqLen:        chatMaxSeqLen,
				MaxBatchSize:     chatMaxBatchSize,
				QuantizationMode: tc.mode,
				WorldSize:        1,
				Seed:             chatSeed,
			}, deps)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if gen.Model.Mode != tc.mode {
				t.Fatalf("model mode = %s", gen.Model.Mode)
			}
			w1, ok := gen.Model.Param("layers.0.feed_forward.w1.weight")
			if !ok || w1.DType != tc.dtype {
				t.Fatalf("w1 = %v", w1)
			}
			if _, ok := gen.Model.Param("layers.0.feed_forward.w1.weight" + quant.ScaleSuffix); !ok {
				t.Fatal("scale not loaded")
			}

			_, err = llama4.Build(context.Background(), llama4.BuildOptions{CkptDir: dst, WorldSize: 1}, deps)
			if !errors.Is(err, quant.ErrUnsupportedMode) {
				t.Fatalf("bf16 build of %s checkpoint: expected ErrUnsupportedMode, got %v", tc.mode, err)
			}
		})
	}
}
