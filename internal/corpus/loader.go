package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Source yields raw ledger text.
type Source interface {
	Load(ctx context.Context) (string, error)
	String() string
}

// Text is an in-memory Source.
type Text string

func (t Text) Load(context.Context) (string, error) { return string(t), nil }
func (t Text) String() string                       { return "inline text" }

// File reads ledger text from disk. Files ending in .pdf are converted to
// plain text, one line per PDF text line.
type File struct {
	Path string
}

func (f File) String() string { return f.Path }

func (f File) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(f.Path), ".pdf") {
		return readPDF(f.Path)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("reading corpus %s: %w", f.Path, err)
	}
	return string(data), nil
}

// ErrOutsideCorpus is returned by ResolveWithin for paths that leave the
// corpus directory.
var ErrOutsideCorpus = errors.New("path is outside the corpus directory")

// ResolveWithin returns the absolute, symlink-free form of path if it names
// a file inside dir. Relative paths are taken relative to dir.
func ResolveWithin(dir, path string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: no corpus directory configured", ErrOutsideCorpus)
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving corpus directory: %w", err)
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	if b, err := filepath.EvalSymlinks(base); err == nil {
		base = b
	}
	if t, err := filepath.EvalSymlinks(target); err == nil {
		target = t
	}

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideCorpus, path)
	}
	return target, nil
}

func readPDF(path string) (string, error) {
	fh, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer fh.Close()

	// Not GetTextByRow: lines positioned with Td all report Y=0 there and
	// collapse into a single row.
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading pdf page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
