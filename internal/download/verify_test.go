package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.bin":       "alpha",
		"b.bin":       "bravo",
		ChecklistFile: md5Hex("alpha") + "  a.bin\n" + md5Hex("bravo") + " *b.bin\n\n",
	})
	results, err := Verify(context.Background(), dir)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(results) != 2 || !results[0].OK() || results[1].File != "b.bin" {
		t.Fatalf("results = %+v", results)
	}
}

func TestVerifyReportsProblems(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.bin":       "changed",
		ChecklistFile: md5Hex("alpha") + "  a.bin\n" + md5Hex("bravo") + "  missing.bin\n",
	})
	results, err := Verify(context.Background(), dir)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if results[0].Actual != md5Hex("changed") || !results[0].Exists {
		t.Fatalf("a.bin = %+v", results[0])
	}
	if results[1].Exists || results[1].OK() {
		t.Fatalf("missing.bin = %+v", results[1])
	}
}

func TestVerifyNoChecklist(t *testing.T) {
	t.Parallel()

	if _, err := Verify(context.Background(), t.TempDir()); !errors.Is(err, ErrNoChecklist) {
		t.Fatalf("expected ErrNoChecklist, got %v", err)
	}
}

func TestReadChecklistMalformed(t *testing.T) {
	t.Parallel()

	sum := md5Hex("x")
	for _, in := range []string{
		"nothex file\n",
		sum + "  ../../etc/passwd\n",
		sum + "  /etc/passwd\n",
		sum + "  original/../../escape.pth\n",
	} {
		if _, err := ReadChecklist(strings.NewReader(in)); err == nil {
			t.Errorf("ReadChecklist(%q): expected error", in)
		}
	}
	sums, err := ReadChecklist(strings.NewReader(sum + "  original/./params.json\n"))
	if err != nil {
		t.Fatalf("nested entry: %v", err)
	}
	if sums["original/./params.json"] != sum {
		t.Fatalf("sums = %v", sums)
	}
}
