package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/oscarAI2/llam4/internal/logger"
)

var (
	ErrNoCheckpoints    = errors.New("checkpoint: no checkpoint shards found")
	ErrIncompatibleSize = errors.New("checkpoint: incompatible model parallel sizes")
)

// scaleSuffix marks per-row scales of quantized weights.
const scaleSuffix = ".scale"

// ShardPattern matches consolidated checkpoint shards inside a model dir.
const ShardPattern = "consolidated.*.safetensors"

// Parameters split along their last dim (row parallel layers).
var rowKeys = []string{
	`feed_forward\.w2`,
	`feed_forward\.mlp\.fc2`,
	`attention\.wo`,
	`feed_forward\.mlp\.fc2_weight`,
	`feed_forward\.w_out_shared_DF\.weight`,
	`attn\.wo\.weight`,
	`mlp\.c_proj\.weight`,
}

// Parameters split along their first dim (column parallel layers).
var columnKeys = []string{
	`output`,
	`feed_forward\.(w1|w3)`,
	`feed_forward\.mlp\.(fc1|fc3)`,
	`feed_forward\.mlp\.fc1_weight`,
	`attention\.(wk|wq|wv|wqkv)\.weight`,
	`feed_forward\.(w_in_shared_FD|w_swiglu_FD)`,
	`attn\.(wk|wq|wv)\.weight`,
	`attn\.(wk|wq|wv)\.bias`,
	`mlp\.c_fc\.weight`,
	`mlp\.c_fc\.bias`,
	`conv1\._linear\.weight`,
	`tok_embeddings\.weight`,
	`vision_projection\.weight`,
}

var (
	moeRowKeys    = []string{`feed_forward\.experts\.(moe_w_in_eD_F|moe_w_swiglu_eD_F)`}
	moeColumnKeys = []string{`feed_forward\.experts\.moe_w_out_eF_D`}
)

var (
	rowRegex    = regexp.MustCompile(strings.Join(append(append([]string{}, rowKeys...), moeRowKeys...), "|"))
	columnRegex = regexp.MustCompile(strings.Join(append(append([]string{}, columnKeys...), moeColumnKeys...), "|"))
	moeRegex    = regexp.MustCompile(strings.Join(append(append([]string{}, moeRowKeys...), moeColumnKeys...), "|"))
)

// Parallel is this process's place in the model parallel group.
type Parallel struct {
	Size int
	Rank int
}

// ListShards returns the checkpoint shards in dir, sorted by name.
func ListShards(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, ShardPattern))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCheckpoints, dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// MapMPRank returns which old shards new rank newRank needs. Growing the
// group maps several new ranks onto one old shard; shrinking it merges
// consecutive old shards.
func MapMPRank(oldSize, newSize, newRank int) ([]int, error) {
	if oldSize <= 0 || newSize <= 0 || newRank < 0 || newRank >= newSize {
		return nil, fmt.Errorf("%w: old=%d new=%d rank=%d", ErrIncompatibleSize, oldSize, newSize, newRank)
	}
	if newSize%oldSize == 0 {
		return []int{newRank * oldSize / newSize}, nil
	}
	if oldSize%newSize == 0 {
		f := oldSize / newSize
		out := make([]int, 0, f)
		for r := newRank * f; r < (newRank+1)*f; r++ {
			out = append(out, r)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d is neither a multiple nor a divisor of %d", ErrIncompatibleSize, newSize, oldSize)
}

// ShardLoader reads one checkpoint shard.
type ShardLoader func(path string) (StateDict, error)

// MaybeReshardStateDict loads the shards rank p.Rank needs and reshards
// them from len(paths) ranks to p.Size ranks. nKVHeads bounds how far
// key/value projections can be split; moeNumExperts > 0 reshapes routed
// expert weights to (experts, -1, last) first.
func MaybeReshardStateDict(ctx context.Context, paths []string, p Parallel, nKVHeads, moeNumExperts int, load ShardLoader) (StateDict, error) {
	if len(paths) == 0 {
		return nil, ErrNoCheckpoints
	}
	if load == nil {
		load = Load
	}
	log := logger.FromContext(ctx)

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	oldSize := len(sorted)

	ranks, err := MapMPRank(oldSize, p.Size, p.Rank)
	if err != nil {
		return nil, err
	}

	dicts := make([]StateDict, len(ranks))
	for i, r := range ranks {
		log.Info("loading checkpoint shard", "path", sorted[r])
		sd, err := load(sorted[r])
		if err != nil {
			return nil, fmt.Errorf("load shard %s: %w", sorted[r], err)
		}
		dicts[i] = sd
	}
	if p.Size == oldSize {
		return dicts[0], nil
	}
	for _, d := range dicts {
		for k := range d {
			if strings.HasSuffix(k, scaleSuffix) {
				return nil, fmt.Errorf("%w: %s is quantized; reshard the bf16 checkpoint instead (from %d to %d ranks)", ErrIncompatibleSize, k, oldSize, p.Size)
			}
		}
	}

	if moeNumExperts > 0 {
		for _, d := range dicts {
			if err := ConvertMoEWeights(d, moeNumExperts); err != nil {
				return nil, err
			}
		}
	}

	size := max(p.Size/oldSize, 1)
	repeat := 1
	if nKVHeads > 0 {
		repeat = max(p.Size/nKVHeads, 1)
	}
	log.Info("resharding state dicts", "count", len(dicts), "from", oldSize, "to", p.Size)
	return ReshardMP(ctx, dicts, size, p.Rank%size, repeat)
}

// ConvertMoEWeights reshapes routed expert weights in place so that the
// expert index is the leading dim.
func ConvertMoEWeights(sd StateDict, numExperts int) error {
	for _, k := range sd.Keys() {
		if !moeRegex.MatchString(k) {
			continue
		}
		v := sd[k]
		last := v.Shape[len(v.Shape)-1]
		r, err := v.Reshape(numExperts, -1, last)
		if err != nil {
			return fmt.Errorf("moe weight %s: %w", k, err)
		}
		sd[k] = r
	}
	return nil
}

// ReshardMP merges (len(dicts) > 1) or splits (len(dicts) == 1, keeping
// piece rank of size) model parallel state dicts. Keys not matched by the
// row or column rules are replicated from the first dict.
func ReshardMP(ctx context.Context, dicts []StateDict, size, rank, repeatQKV int) (StateDict, error) {
	if len(dicts) == 0 {
		return nil, ErrNoCheckpoints
	}
	r := resharder{dicts: dicts, size: size, rank: rank, repeat: repeatQKV}

	keys := dicts[0].Keys()
	out := make(StateDict, len(keys))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := r.process(key)
			if err != nil {
				return fmt.Errorf("reshard %s: %w", key, err)
			}
			mu.Lock()
			out[key] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type resharder struct {
	dicts  []StateDict
	size   int
	rank   int
	repeat int
}

func (r resharder) gather(key string) ([]*Tensor, error) {
	out := make([]*Tensor, len(r.dicts))
	for i, d := range r.dicts {
		t, ok := d[key]
		if !ok {
			return nil, fmt.Errorf("missing from shard %d", i)
		}
		out[i] = t
	}
	return out, nil
}

func (r resharder) concatOrChunk(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) > 1 {
		return Concat(tensors, dim)
	}
	chunks, err := tensors[0].Chunk(r.size, dim)
	if err != nil {
		return nil, err
	}
	if r.rank >= len(chunks) {
		return nil, fmt.Errorf("%w: %s has only %d chunks for rank %d", ErrShape, tensors[0], len(chunks), r.rank)
	}
	return chunks[r.rank].Clone(), nil
}

func (r resharder) process(key string) (*Tensor, error) {
	switch {
	case rowRegex.MatchString(key):
		ts, err := r.gather(key)
		if err != nil {
			return nil, err
		}
		return r.concatOrChunk(ts, -1)
	case columnRegex.MatchString(key):
		return r.processColumn(key)
	default:
		return r.dicts[0][key], nil
	}
}

func (r resharder) processColumn(key string) (*Tensor, error) {
	ts, err := r.gather(key)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(key, "w13") || strings.Contains(key, "fc1_weight"):
		// Fused gate/up projections: split each half separately.
		dims := ts[0].Shape
		if dims[0]%2 != 0 {
			return nil, fmt.Errorf("%w: fused weight %s has odd rows", ErrShape, ts[0])
		}
		views := make([]*Tensor, len(ts))
		for i, t := range ts {
			shape := append([]int{2, dims[0] / 2}, dims[1:]...)
			if views[i], err = t.Reshape(shape...); err != nil {
				return nil, err
			}
		}
		merged, err := r.concatOrChunk(views, 1)
		if err != nil {
			return nil, err
		}
		flat := append([]int{merged.Shape[0] * merged.Shape[1]}, merged.Shape[2:]...)
		return merged.Reshape(flat...)

	case strings.Contains(key, "qkv"):
		oKey := strings.Replace(key, "qkv", "o", 1)
		o, ok := r.dicts[0][oKey]
		if !ok || len(o.Shape) < 2 {
			return nil, fmt.Errorf("%w: %s needs %s to size the query block", ErrShape, key, oKey)
		}
		qDim := o.Shape[1]
		kvDim := (ts[0].Shape[0] - qDim) / 2
		parts := make([][]*Tensor, 3)
		for _, t := range ts {
			split, err := t.Split([]int{qDim, kvDim, kvDim}, 0)
			if err != nil {
				return nil, err
			}
			for i := range parts {
				parts[i] = append(parts[i], split[i])
			}
		}
		merged := make([]*Tensor, 3)
		for i, p := range parts {
			if merged[i], err = r.concatOrChunk(p, 0); err != nil {
				return nil, err
			}
		}
		return Concat(merged, 0)

	case strings.Contains(key, "wk.weight") || strings.Contains(key, "wv.weight"):
		// More ranks than kv heads: replicate heads before splitting.
		rep := make([]*Tensor, len(ts))
		for i, t := range ts {
			if rep[i], err = t.RepeatRows(r.repeat); err != nil {
				return nil, err
			}
		}
		return r.concatOrChunk(rep, 0)

	case key == "output.bias" || key == "fc.weight":
		return r.concatOrChunk(ts, 0)

	case strings.Contains(key, "w_"):
		return r.concatOrChunk(ts, -1)

	default:
		return r.concatOrChunk(ts, 0)
	}
}
