// Package tokenizer loads the tiktoken-style BPE vocabularies shipped with
// Llama 3 and Llama 4 checkpoints (tokenizer.model) and adds each
// generation's special tokens on top.
package tokenizer

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/oscarAI2/llam4/internal/chatformat"
)

var (
	ErrUnsupportedFormat = errors.New("tokenizer: unsupported dialog format")
	ErrMalformedModel    = errors.New("tokenizer: malformed tokenizer.model")
)

const (
	// maxEncodeChars bounds each chunk handed to the BPE encoder.
	maxEncodeChars = 400_000
	// maxRunChars bounds runs of only-whitespace or only-non-whitespace
	// characters; longer runs make the split regex pathologically slow.
	maxRunChars = 25_000
)

type Tokenizer struct {
	enc     *tiktoken.Tiktoken
	format  chatformat.Format
	numBase int
	special map[string]int
	bosID   int
	eosID   int
	stopIDs []int
}

// Load reads a tokenizer.model file from disk.
func Load(path string, format chatformat.Format) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tokenizer: %w", err)
	}
	defer f.Close()

	ranks, err := ReadRanks(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(ranks, format)
}

// ReadRanks parses "<base64 token> <rank>" lines.
func ReadRanks(r io.Reader) (map[string]int, error) {
	ranks := make(map[string]int)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		tok, rank, ok := strings.Cut(text, " ")
		if !ok {
			return nil, fmt.Errorf("%w: line %d has no rank", ErrMalformedModel, line)
		}
		raw, err := base64.StdEncoding.DecodeString(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedModel, line, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(rank))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedModel, line, err)
		}
		ranks[string(raw)] = n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(ranks) == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrMalformedModel)
	}
	return ranks, nil
}

// New builds a tokenizer from mergeable ranks. Special tokens are numbered
// directly after the base vocabulary.
func New(ranks map[string]int, format chatformat.Format) (*Tokenizer, error) {
	spec, err := specFor(format)
	if err != nil {
		return nil, err
	}

	numBase := len(ranks)
	special := make(map[string]int, len(spec.special))
	specialSet := make(map[string]any, len(spec.special))
	for i, s := range spec.special {
		special[s] = numBase + i
		specialSet[s] = nil
	}

	bpe, err := tiktoken.NewCoreBPE(ranks, special, spec.pattern)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	enc := tiktoken.NewTiktoken(bpe, &tiktoken.Encoding{
		Name:           string(format),
		PatStr:         spec.pattern,
		MergeableRanks: ranks,
		SpecialTokens:  special,
		ExplicitNVocab: numBase + len(special),
	}, specialSet)

	t := &Tokenizer{
		enc:     enc,
		format:  format,
		numBase: numBase,
		special: special,
		bosID:   special[spec.bos],
		eosID:   special[spec.eos],
	}
	for _, s := range spec.stop {
		t.stopIDs = append(t.stopIDs, special[s])
	}
	return t, nil
}

// NWords is the vocabulary size, base tokens plus special tokens.
func (t *Tokenizer) NWords() int { return t.numBase + len(t.special) }

func (t *Tokenizer) BOSID() int { return t.bosID }

func (t *Tokenizer) EOSID() int { return t.eosID }

// StopTokens are the ids that end an assistant turn.
func (t *Tokenizer) StopTokens() []int {
	out := make([]int, len(t.stopIDs))
	copy(out, t.stopIDs)
	return out
}

func (t *Tokenizer) Format() chatformat.Format { return t.format }

func (t *Tokenizer) SpecialID(name string) (int, bool) {
	id, ok := t.special[name]
	return id, ok
}

// Encode tokenizes plain text. Special token literals in s are encoded as
// ordinary text.
func (t *Tokenizer) Encode(s string, bos, eos bool) []int {
	var out []int
	if bos {
		out = append(out, t.bosID)
	}
	for _, chunk := range chunkText(s) {
		out = append(out, t.enc.Encode(chunk, nil, nil)...)
	}
	if eos {
		out = append(out, t.eosID)
	}
	return out
}

// EncodeDialog tokenizes a rendered dialog, mapping special token literals
// to their ids.
func (t *Tokenizer) EncodeDialog(rendered string) []int {
	var out []int
	for _, chunk := range chunkText(rendered) {
		out = append(out, t.enc.Encode(chunk, []string{"all"}, nil)...)
	}
	return out
}

func (t *Tokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

func chunkText(s string) []string {
	var out []string
	runes := []rune(s)
	for i := 0; i < len(runes); i += maxEncodeChars {
		end := min(i+maxEncodeChars, len(runes))
		out = append(out, splitRuns(runes[i:end], maxRunChars)...)
	}
	return out
}

// splitRuns cuts s so that no piece has more than maxLen consecutive
// characters of the same whitespace class.
func splitRuns(s []rune, maxLen int) []string {
	var out []string
	if len(s) == 0 {
		return out
	}
	start := 0
	run := 0
	prevSpace := unicode.IsSpace(s[0])
	for i, r := range s {
		space := unicode.IsSpace(r)
		if space == prevSpace {
			run++
		} else {
			run = 1
			prevSpace = space
		}
		if run > maxLen {
			out = append(out, string(s[start:i]))
			start = i
			run = 1
		}
	}
	return append(out, string(s[start:]))
}
