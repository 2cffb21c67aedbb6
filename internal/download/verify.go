package download

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	ErrChecksumMismatch = errors.New("download: checksum mismatch")
	ErrNoChecklist      = errors.New("download: checklist.chk not found")
)

// VerifyResult is the outcome for one checklist entry. Actual is empty
// when the file is missing.
type VerifyResult struct {
	File     string `json:"file"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Exists   bool   `json:"exists"`
}

func (r VerifyResult) OK() bool { return r.Exists && r.Actual == r.Expected }

// ReadChecklist parses md5sum output: "<hex digest>  <file>" per line.
// File names must stay inside the model directory.
func ReadChecklist(r io.Reader) (map[string]string, error) {
	sums := map[string]string{}
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		sum, file, ok := strings.Cut(line, " ")
		file = strings.TrimPrefix(strings.TrimSpace(file), "*")
		if !ok || file == "" || len(sum) != 2*md5.Size {
			return nil, fmt.Errorf("checklist line %d: malformed %q", n, line)
		}
		if !filepath.IsLocal(filepath.FromSlash(file)) {
			return nil, fmt.Errorf("checklist line %d: %q escapes the model directory", n, file)
		}
		sums[file] = strings.ToLower(sum)
	}
	return sums, sc.Err()
}

// Verify hashes every file named in dir/checklist.chk. The error wraps
// ErrChecksumMismatch when any file is missing or differs.
func Verify(ctx context.Context, dir string) ([]VerifyResult, error) {
	f, err := os.Open(filepath.Join(dir, ChecklistFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoChecklist, dir)
		}
		return nil, err
	}
	sums, err := ReadChecklist(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]VerifyResult, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		g.Go(func() error {
			r := VerifyResult{File: name, Expected: sums[name]}
			sum, err := md5File(ctx, filepath.Join(dir, filepath.FromSlash(name)))
			switch {
			case errors.Is(err, os.ErrNotExist):
			case err != nil:
				return err
			default:
				r.Exists, r.Actual = true, sum
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bad := 0
	for _, r := range results {
		if !r.OK() {
			bad++
		}
	}
	if bad > 0 {
		return results, fmt.Errorf("%w: %d of %d files", ErrChecksumMismatch, bad, len(results))
	}
	return results, nil
}

func md5File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, ctxReader{ctx, f}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
