package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyFile is returned when input has no header row.
var ErrEmptyFile = errors.New("empty file: no header row")

// DetectDelimiter picks the field delimiter from the first line of a file:
// comma if present, else tab, else a single space.
func DetectDelimiter(firstLine string) rune {
	switch {
	case strings.ContainsRune(firstLine, ','):
		return ','
	case strings.ContainsRune(firstLine, '\t'):
		return '\t'
	default:
		return ' '
	}
}

// CleanLines collapses every run of whitespace in each line to one space and
// trims the ends. Whitespace inside quoted fields is collapsed too.
func CleanLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var b strings.Builder
	b.Grow(len(text))
	for _, line := range lines {
		b.WriteString(strings.Join(strings.Fields(line), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// firstLine returns text up to the first newline.
func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

// parseOptions controls how malformed rows are handled.
type parseOptions struct {
	delim rune
	// lenient skips rows that fail to parse or have more fields than the
	// header. When false such a row fails the whole file.
	lenient bool
}

// parseDelimited reads a header row and data rows from r. Rows shorter than
// the header are padded with empty cells.
func parseDelimited(r io.Reader, opts parseOptions) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = opts.delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{Columns: headerNames(header)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if opts.lenient && errors.As(err, &perr) {
				t.Skipped++
				continue
			}
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) > len(t.Columns) {
			if opts.lenient {
				t.Skipped++
				continue
			}
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(t.Columns), len(rec))
		}
		t.Rows = append(t.Rows, padRow(rec, len(t.Columns)))
	}
	return t, nil
}

// headerNames fills blank header cells the way spreadsheet exports label them.
func headerNames(header []string) []string {
	cols := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		cols[i] = h
	}
	return cols
}

func padRow(rec []string, width int) []string {
	if len(rec) == width {
		return rec
	}
	row := make([]string, width)
	copy(row, rec)
	return row
}
