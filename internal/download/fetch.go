package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/oscarAI2/llam4/internal/logger"
)

// fetch downloads f to dest, resuming from dest+".partial" when the
// server honours range requests. Existing complete files are kept.
func fetch(ctx context.Context, client *http.Client, f remoteFile, dest, session string, progress func(FileProgress)) error {
	log := logger.FromContext(ctx)
	if st, err := os.Stat(dest); err == nil && st.Mode().IsRegular() {
		log.Debug("already downloaded", "file", f.name)
		return nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create parent of %s: %w", dest, err)
	}
	tmp := dest + partialSuffix

	var offset int64
	if st, err := os.Stat(tmp); err == nil {
		offset = st.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	setHeaders(req, f.token)
	req.Header.Set("X-Request-Id", session)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", f.name, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
		log.Debug("resuming", "file", f.name, "offset", offset)
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The partial file is already complete.
		return os.Rename(tmp, dest)
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	default:
		return fmt.Errorf("download %s: unexpected status %d", f.name, resp.StatusCode)
	}

	out, err := os.OpenFile(tmp, flags, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	pw := &progressWriter{ctx: ctx, file: f.name, written: offset, total: total, report: progress}
	if _, err := io.Copy(io.MultiWriter(out, pw), resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", f.name, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	log.Debug("downloaded", "file", f.name, "bytes", pw.written)
	return nil
}

type progressWriter struct {
	ctx     context.Context
	file    string
	written int64
	total   int64
	report  func(FileProgress)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	if err := pw.ctx.Err(); err != nil {
		return 0, err
	}
	pw.written += int64(len(p))
	if pw.report != nil {
		pw.report(FileProgress{File: pw.file, Written: pw.written, Total: pw.total})
	}
	return len(p), nil
}
