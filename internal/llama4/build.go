package llama4

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/checkpoint"
	"github.com/oscarAI2/llam4/internal/distributed"
	"github.com/oscarAI2/llam4/internal/logger"
	"github.com/oscarAI2/llam4/internal/quant"
	"github.com/oscarAI2/llam4/internal/tokenizer"
)

var ErrVocabMismatch = errors.New("llama4: params.json vocab_size does not match tokenizer")

const (
	ParamsFile    = "params.json"
	TokenizerFile = "tokenizer.model"
)

type BuildOptions struct {
	CkptDir          string
	MaxSeqLen        int
	MaxBatchSize     int
	QuantizationMode quant.Mode
	// WorldSize is the model parallel size; 0 takes WORLD_SIZE.
	WorldSize int
	Seed      uint64
}

// Tokenizer is what Build needs from a tokenizer.
type Tokenizer interface {
	NWords() int
	EncodeDialog(rendered string) []int
	Decode(tokens []int) string
	StopTokens() []int
}

// Deps are the collaborators Build reaches for. Zero fields fall back to
// the real implementations.
type Deps struct {
	Runtime         distributed.Runtime
	ReadFile        func(path string) ([]byte, error)
	ListCheckpoints func(dir string) ([]string, error)
	LoadTokenizer   func(path string, format chatformat.Format) (Tokenizer, error)
	Reshard         func(ctx context.Context, paths []string, p checkpoint.Parallel, nKVHeads, moeNumExperts int) (checkpoint.StateDict, error)
	NewTransformer  func(args ModelArgs, p checkpoint.Parallel) (*Transformer, error)
}

func (d Deps) withDefaults() Deps {
	if d.Runtime == nil {
		d.Runtime = distributed.NewEnvRuntime()
	}
	if d.ReadFile == nil {
		d.ReadFile = os.ReadFile
	}
	if d.ListCheckpoints == nil {
		d.ListCheckpoints = checkpoint.ListShards
	}
	if d.LoadTokenizer == nil {
		d.LoadTokenizer = func(path string, format chatformat.Format) (Tokenizer, error) {
			return tokenizer.Load(path, format)
		}
	}
	if d.Reshard == nil {
		d.Reshard = func(ctx context.Context, paths []string, p checkpoint.Parallel, nKV, experts int) (checkpoint.StateDict, error) {
			return checkpoint.MaybeReshardStateDict(ctx, paths, p, nKV, experts, nil)
		}
	}
	if d.NewTransformer == nil {
		d.NewTransformer = NewTransformer
	}
	return d
}

// Llama4 is a built model ready to encode dialogs.
type Llama4 struct {
	Model     *Transformer
	Tokenizer Tokenizer
	Formatter *chatformat.Formatter
	Args      ModelArgs
}

// Build sets up the process group, loads the checkpoint in opts.CkptDir
// resharded for this rank and quantizes it per opts.QuantizationMode.
func Build(ctx context.Context, opts BuildOptions, deps Deps) (*Llama4, error) {
	d := deps.withDefaults()
	rt := d.Runtime

	mode, err := quant.ParseMode(string(opts.QuantizationMode))
	if err != nil {
		return nil, err
	}

	if !rt.IsInitialized() {
		if err := rt.Init(); err != nil {
			return nil, fmt.Errorf("init process group: %w", err)
		}
	}
	if !rt.ModelParallelIsInitialized() {
		ws := opts.WorldSize
		if ws == 0 {
			ws = rt.WorldSize()
		}
		if err := rt.InitModelParallel(ws); err != nil {
			return nil, fmt.Errorf("init model parallel: %w", err)
		}
	}
	if err := rt.SetDevice(rt.LocalRank()); err != nil {
		return nil, err
	}
	rt.ManualSeed(opts.Seed)

	log := logger.ForRank(logger.FromContext(ctx), rt.Rank(), rt.LocalRank())
	ctx = logger.WithContext(ctx, log)
	start := time.Now()

	shards, err := d.ListCheckpoints(opts.CkptDir)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w in %s", checkpoint.ErrNoCheckpoints, opts.CkptDir)
	}

	raw, err := d.ReadFile(filepath.Join(opts.CkptDir, ParamsFile))
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	args, err := ParseModelArgs(raw)
	if err != nil {
		return nil, err
	}
	args.MaxSeqLen = opts.MaxSeqLen
	args.MaxBatchSize = opts.MaxBatchSize

	tok, err := d.LoadTokenizer(filepath.Join(opts.CkptDir, TokenizerFile), chatformat.FormatLlama4)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if args.VocabSize <= 0 {
		args.VocabSize = tok.NWords()
	}
	if args.VocabSize != tok.NWords() {
		return nil, fmt.Errorf("%w: %d != %d", ErrVocabMismatch, args.VocabSize, tok.NWords())
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	p := checkpoint.Parallel{Size: rt.ModelParallelSize(), Rank: rt.ModelParallelRank()}
	log.Info("loading checkpoint", "shards", len(shards), "mp_size", p.Size, "mp_rank", p.Rank, "quantization", mode)
	sd, err := d.Reshard(ctx, shards, p, args.KVHeads(), args.NumExperts())
	if err != nil {
		return nil, fmt.Errorf("reshard: %w", err)
	}

	model, err := d.NewTransformer(args, p)
	if err != nil {
		return nil, err
	}
	rep, err := model.LoadStateDict(sd)
	if err != nil {
		return nil, err
	}
	if len(rep.Missing) > 0 || len(rep.Unexpected) > 0 {
		log.Debug("non-strict load", "missing", len(rep.Missing), "unexpected", len(rep.Unexpected))
	}
	if model.Mode != quant.ModeBF16 && model.Mode != mode {
		return nil, fmt.Errorf("%w: checkpoint is quantized to %s, requested %s", quant.ErrUnsupportedMode, model.Mode, mode)
	}
	if err := model.Quantize(ctx, mode); err != nil {
		return nil, err
	}
	log.Info("model loaded", "params", model.NumParams(), "elapsed", time.Since(start).Round(time.Millisecond))

	return &Llama4{
		Model:     model,
		Tokenizer: tok,
		Formatter: chatformat.NewFormatter(chatformat.FormatLlama4),
		Args:      args,
	}, nil
}

// EncodeDialog renders messages with a trailing assistant header and
// tokenizes the result.
func (l *Llama4) EncodeDialog(messages []chatformat.Message) ([]int, error) {
	text, err := l.Formatter.Dialog(messages, true)
	if err != nil {
		return nil, err
	}
	return l.Tokenizer.EncodeDialog(text), nil
}
