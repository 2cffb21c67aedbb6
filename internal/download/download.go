// Package download fetches model checkpoints from Meta's signed URLs or
// Hugging Face and verifies them against checklist.chk.
package download

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oscarAI2/llam4/internal/logger"
	"github.com/oscarAI2/llam4/internal/sku"
	"github.com/oscarAI2/llam4/internal/version"
)

type Source string

const (
	SourceMeta        Source = "meta"
	SourceHuggingFace Source = "huggingface"
)

const (
	DefaultMaxParallel = 3
	ChecklistFile      = "checklist.chk"
	partialSuffix      = ".partial"
)

var (
	ErrUnsupportedSource = errors.New("download: unsupported source")
	ErrMissingURL        = errors.New("download: meta source needs a signed URL")
	ErrNoRepo            = errors.New("download: model has no Hugging Face repository")
	ErrLocked            = errors.New("download: another process holds the model directory")
)

// ParseSource accepts "meta", "huggingface" and "hf".
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "meta":
		return SourceMeta, nil
	case "huggingface", "hf":
		return SourceHuggingFace, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedSource, s)
}

// FileProgress reports bytes written for one file. Total is -1 when the
// server did not send a length.
type FileProgress struct {
	File    string
	Written int64
	Total   int64
}

type Request struct {
	Model     sku.Model
	Source    Source
	MetaURL   string
	OutputDir string
	HFToken   string
	// HFEndpoint overrides https://huggingface.co.
	HFEndpoint     string
	IgnorePatterns []string
	MaxParallel    int
	Progress       func(FileProgress)
	Client         *http.Client
}

// DownloadAndVerify fetches every file of req.Model into req.OutputDir and
// checks the result against checklist.chk when one was downloaded.
func DownloadAndVerify(ctx context.Context, req Request) error {
	if req.OutputDir == "" {
		return errors.New("download: output directory is required")
	}
	if req.Client == nil {
		req.Client = http.DefaultClient
	}
	if req.MaxParallel <= 0 {
		req.MaxParallel = DefaultMaxParallel
	}

	session := uuid.NewString()
	log := logger.FromContext(ctx).With("model", req.Model.Descriptor(), "source", req.Source, "session", session)

	files, err := plan(ctx, req)
	if err != nil {
		return err
	}
	files = ignore(files, req.IgnorePatterns)

	if err := os.MkdirAll(req.OutputDir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", req.OutputDir, err)
	}
	unlock, err := Lock(req.OutputDir)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	log.Info("downloading", "files", len(files), "dir", req.OutputDir)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.MaxParallel)
	for _, f := range files {
		g.Go(func() error {
			dest := filepath.Join(req.OutputDir, filepath.FromSlash(f.name))
			return fetch(gctx, req.Client, f, dest, session, req.Progress)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("download complete", "elapsed", time.Since(start).Round(time.Second))

	if _, err := os.Stat(filepath.Join(req.OutputDir, ChecklistFile)); err != nil {
		log.Warn("no checklist, skipping verification")
		return nil
	}
	results, err := Verify(ctx, req.OutputDir)
	for _, r := range results {
		if !r.OK() {
			log.Error("verification failed", "file", r.File, "expected", r.Expected, "actual", r.Actual)
		}
	}
	return err
}

// Lock takes the lock guarding a model directory against concurrent
// downloads and removal. The lock file sits beside dir and is removed
// by unlock.
func Lock(dir string) (unlock func() error, err error) {
	lockPath := filepath.Clean(dir) + ".lock"
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return func() error {
		rmErr := os.Remove(lockPath)
		if errors.Is(rmErr, fs.ErrNotExist) {
			rmErr = nil
		}
		return errors.Join(rmErr, fl.Unlock())
	}, nil
}

type remoteFile struct {
	name  string
	url   string
	token string
}

func plan(ctx context.Context, req Request) ([]remoteFile, error) {
	switch req.Source {
	case SourceMeta:
		return metaFiles(req.Model, req.MetaURL)
	case SourceHuggingFace:
		return hfFiles(ctx, req.Client, req.HFEndpoint, req.Model, req.HFToken)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, req.Source)
}

func ignore(files []remoteFile, patterns []string) []remoteFile {
	if len(patterns) == 0 {
		return files
	}
	var out []remoteFile
	for _, f := range files {
		skip := false
		for _, p := range patterns {
			if ok, _ := path.Match(p, f.name); ok {
				skip = true
				break
			}
			if ok, _ := path.Match(p, path.Base(f.name)); ok {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, f)
		}
	}
	return out
}

func userAgent() string { return "llama-model/" + version.String() }
