// Package normalize turns heterogeneous tabular files into the canonical form:
// UTF-8, comma-delimited, one header row.
//
// Delimited text is read whole, decoded (UTF-8 first, one Latin-1 retry) and
// whitespace-collapsed into a per-invocation scratch file before parsing.
// Spreadsheets contribute their first sheet. JSON documents are flattened.
// Column names are passed through unchanged; lower-casing happens at the
// schema boundary.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/JonMunkholm/watchload/internal/ingesterr"
)

// CanonicalExt is the extension of files already in canonical form.
const CanonicalExt = ".csv"

// tempPrefix marks scratch and in-progress output files. Watchers and sweeps skip them.
const tempPrefix = ".watchload-"

// Table is a materialized table: a header row and data rows of equal width.
type Table struct {
	Columns []string
	Rows    [][]string

	// Skipped counts malformed rows dropped while parsing.
	Skipped int
	// Encoding is the decoding the source was read with; empty for spreadsheets.
	Encoding Encoding
}

// Format is the input kind, chosen by file extension.
type Format int

const (
	FormatOther Format = iota // space-delimited text
	FormatCanonical
	FormatText
	FormatXLS
	FormatXLSX
	FormatJSON
)

// FormatOf returns the input kind for path.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case CanonicalExt:
		return FormatCanonical
	case ".txt":
		return FormatText
	case ".xls":
		return FormatXLS
	case ".xlsx":
		return FormatXLSX
	case ".json":
		return FormatJSON
	default:
		return FormatOther
	}
}

// IsTemp reports whether name is a scratch or in-progress file written by this package.
func IsTemp(name string) bool {
	return strings.HasPrefix(filepath.Base(name), tempPrefix)
}

// Options configures a Normalizer.
type Options struct {
	// OutputDir receives canonical output and scratch files. Created if absent.
	OutputDir string
	// IgnoreHidden makes directory sweeps skip dot-files.
	IgnoreHidden bool
	Logger       *slog.Logger
}

// Normalizer converts files into canonical CSV in its output directory.
type Normalizer struct {
	outputDir    string
	ignoreHidden bool
	log          *slog.Logger

	// sweepMu serializes directory sweeps, which move files around.
	sweepMu sync.Mutex
}

// New creates a Normalizer, creating the output directory if needed.
func New(opts Options) (*Normalizer, error) {
	if opts.OutputDir == "" {
		return nil, errors.New("normalize: output directory is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, ingesterr.New(ingesterr.KindDirectory, "normalize", opts.OutputDir,
			fmt.Errorf("create output dir: %w", err))
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{outputDir: opts.OutputDir, ignoreHidden: opts.IgnoreHidden, log: log}, nil
}

// OutputDir returns the directory canonical files are written to.
func (n *Normalizer) OutputDir() string { return n.outputDir }

// OutputPath returns where the canonical form of src is written: <output>/<stem>.csv.
func (n *Normalizer) OutputPath(src string) string {
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(n.outputDir, stem+CanonicalExt)
}

// Normalize parses path into a Table without writing canonical output.
// Canonical files are read as-is; everything else goes through the
// format-specific path.
func (n *Normalizer) Normalize(ctx context.Context, path string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		t   *Table
		err error
	)
	switch FormatOf(path) {
	case FormatCanonical:
		t, err = ReadCanonical(path)
	case FormatXLSX:
		t, err = readXLSX(path)
	case FormatXLS:
		t, err = readXLS(path)
	case FormatJSON:
		t, err = n.readText(path, parseJSON)
	case FormatText:
		t, err = n.readText(path, n.cleanAndParse(path, 0))
	default:
		t, err = n.readText(path, n.cleanAndParse(path, ' '))
	}
	if err != nil {
		return nil, classify(path, err)
	}

	if t.Encoding == EncodingLatin1 {
		n.log.Warn("decoded with latin-1 fallback", "path", path)
	}
	if t.Skipped > 0 {
		n.log.Warn("skipped malformed rows", "path", path, "skipped", t.Skipped)
	}
	return t, nil
}

// ReadCanonical reads a comma-delimited file. A row with more fields than the
// header fails the file.
func ReadCanonical(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return withFallback(raw, func(text string) (*Table, error) {
		return parseDelimited(strings.NewReader(text), parseOptions{delim: ','})
	})
}

func (n *Normalizer) readText(path string, parse func(string) (*Table, error)) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return withFallback(raw, parse)
}

// cleanAndParse collapses whitespace into a scratch file and parses it.
// delim 0 means detect from the first cleaned line and skip malformed rows;
// any other delimiter is used as-is and malformed rows fail the file.
func (n *Normalizer) cleanAndParse(src string, delim rune) func(string) (*Table, error) {
	return func(text string) (*Table, error) {
		cleaned := CleanLines(text)

		scratch := filepath.Join(n.outputDir, tempPrefix+uuid.NewString()+".scratch")
		if err := os.WriteFile(scratch, []byte(cleaned), 0o600); err != nil {
			return nil, fmt.Errorf("write scratch file: %w", err)
		}
		defer func() {
			if err := os.Remove(scratch); err != nil && !errors.Is(err, os.ErrNotExist) {
				n.log.Warn("failed to remove scratch file", "path", scratch, "error", err)
			}
		}()

		f, err := os.Open(scratch)
		if err != nil {
			return nil, fmt.Errorf("open scratch file: %w", err)
		}
		defer f.Close()

		opts := parseOptions{delim: delim}
		if delim == 0 {
			opts = parseOptions{delim: DetectDelimiter(firstLine(cleaned)), lenient: true}
		}
		n.log.Debug("parsing delimited text", "path", src, "delimiter", string(opts.delim))
		return parseDelimited(f, opts)
	}
}

// classify tags parse failures; decode and I/O failures keep or get their own kind.
func classify(path string, err error) error {
	switch {
	case ingesterr.KindOf(err) != ingesterr.KindInternal:
		return ingesterr.New(ingesterr.KindInternal, "normalize", path, err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, context.Canceled):
		return ingesterr.New(ingesterr.KindInternal, "normalize", path, err)
	default:
		return ingesterr.New(ingesterr.KindParse, "normalize", path, err)
	}
}

// WriteCSV writes t as canonical CSV to path. The file appears atomically.
func WriteCSV(path string, t *Table) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := writeTable(tmp, t); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	return nil
}

// Result is the outcome of normalizing one file during a sweep.
type Result struct {
	Source string
	Output string
	// Moved is set for canonical files relocated into the output directory.
	Moved bool
	Rows  int
	// Encoding and Skipped describe how the source was read.
	Encoding Encoding
	Skipped  int
	Err      error
}

// NormalizeFile normalizes src and writes its canonical form. Canonical
// inputs are left where they are.
func (n *Normalizer) NormalizeFile(ctx context.Context, src string) Result {
	if FormatOf(src) == FormatCanonical {
		return Result{Source: src, Output: src}
	}

	t, err := n.Normalize(ctx, src)
	if err != nil {
		return Result{Source: src, Err: err}
	}

	out := n.OutputPath(src)
	if err := WriteCSV(out, t); err != nil {
		return Result{Source: src, Err: ingesterr.New(ingesterr.KindInternal, "normalize", src, err)}
	}
	n.log.Info("file normalized", "path", src, "output", out, "rows", len(t.Rows), "encoding", t.Encoding)
	return Result{Source: src, Output: out, Rows: len(t.Rows), Encoding: t.Encoding, Skipped: t.Skipped}
}

// NormalizeDir normalizes every regular file directly inside dir. Canonical
// files are moved into the output directory; others get a canonical copy
// there. A failing file is recorded in its Result and the sweep continues.
// The returned error is set only when dir itself cannot be read.
func (n *Normalizer) NormalizeDir(ctx context.Context, dir string) ([]Result, error) {
	n.sweepMu.Lock()
	defer n.sweepMu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindDirectory, "normalize", dir, err)
	}

	var results []Result
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if !e.Type().IsRegular() || n.skip(e.Name()) {
			continue
		}

		src := filepath.Join(dir, e.Name())
		var res Result
		if FormatOf(src) == FormatCanonical {
			res = n.move(src)
		} else {
			res = n.NormalizeFile(ctx, src)
		}
		if res.Err != nil {
			n.log.Warn("sweep: file failed", "path", src, "error", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (n *Normalizer) skip(name string) bool {
	if IsTemp(name) {
		return true
	}
	return n.ignoreHidden && strings.HasPrefix(name, ".")
}

func (n *Normalizer) move(src string) Result {
	dst := filepath.Join(n.outputDir, filepath.Base(src))
	if err := moveFile(src, dst); err != nil {
		return Result{Source: src, Err: ingesterr.New(ingesterr.KindInternal, "normalize", src, err)}
	}
	n.log.Info("canonical file moved", "path", src, "output", dst)
	return Result{Source: src, Output: dst, Moved: true}
}

// moveFile renames src to dst, copying across filesystems when needed.
// The copy keeps the source modification time so tracking stays stable.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", src, err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Remove(src)
}
