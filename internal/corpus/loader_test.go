package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/finrag/internal/ledger"
)

func TestFileLoad_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.txt")
	raw := "Invoice #001 | March 3, 2024 | Office supplies | $200\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := File{Path: path}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != raw {
		t.Errorf("Load = %q, want %q", got, raw)
	}
}

func TestFileLoad_Missing(t *testing.T) {
	_, err := File{Path: filepath.Join(t.TempDir(), "nope.txt")}.Load(context.Background())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileLoad_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (File{Path: "testdata/ledger.pdf"}).Load(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// testdata/ledger.pdf places each statement line in its own text object
// with Td, the way fpdf and most statement generators write them.
func TestFileLoad_PDFKeepsLines(t *testing.T) {
	got, err := File{Path: "testdata/ledger.pdf"}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{
		"Invoice #001 | March 3, 2024 | Office supplies | $200",
		"Invoice #002 | March 10, 2024 | Electricity bill | $500",
		"Income #001 | March 1, 2024 | Client payment | $1000",
	}
	var lines []string
	for _, l := range strings.Split(got, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	book := ledger.Parse(got)
	if len(book.Expenses) != 2 || len(book.Incomes) != 1 {
		t.Errorf("parsed %d expenses and %d incomes, want 2 and 1", len(book.Expenses), len(book.Incomes))
	}
}

func TestFileLoad_PDFCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.3\nnot really"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (File{Path: path}).Load(context.Background()); err == nil {
		t.Fatal("expected error for corrupt pdf")
	}
}

func TestSourceString(t *testing.T) {
	if got := Text("x").String(); got != "inline text" {
		t.Errorf("Text.String = %q", got)
	}
	if got := (File{Path: "/data/ledger.pdf"}).String(); got != "/data/ledger.pdf" {
		t.Errorf("File.String = %q", got)
	}
}

func TestResolveWithin(t *testing.T) {
	dir := t.TempDir()
	inside := filepath.Join(dir, "2024", "march.txt")
	if err := os.MkdirAll(filepath.Dir(inside), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "secrets.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "escape.txt")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	wantInside, err := filepath.EvalSymlinks(inside)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		dir     string
		path    string
		wantErr bool
	}{
		{"absolute inside", dir, inside, false},
		{"relative inside", dir, "2024/march.txt", false},
		{"absolute outside", dir, outside, true},
		{"dot-dot escape", dir, "../" + filepath.Base(outside), true},
		{"symlink escape", dir, link, true},
		{"directory itself", dir, dir, true},
		{"system file", dir, "/etc/passwd", true},
		{"no directory", "", inside, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(tt.dir, tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrOutsideCorpus) {
					t.Errorf("err = %v, want ErrOutsideCorpus", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveWithin: %v", err)
			}
			if got != wantInside {
				t.Errorf("got %q, want %q", got, wantInside)
			}
		})
	}
}
