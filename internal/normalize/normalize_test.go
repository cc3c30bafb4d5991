package normalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/watchload/internal/ingesterr"
)

func newTestNormalizer(t *testing.T) (*Normalizer, string, string) {
	t.Helper()
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "csv_utf8")
	n, err := New(Options{OutputDir: out, IgnoreHidden: true})
	require.NoError(t, err)
	return n, in, out
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		line string
		want rune
	}{
		{"a,b,c", ','},
		{"a\tb\tc", '\t'},
		{"a b c", ' '},
		{"a\tb,c", ','},
		{"single", ' '},
		{"", ' '},
	}
	for _, tt := range tests {
		assert.Equal(t, string(tt.want), string(DetectDelimiter(tt.line)), "line %q", tt.line)
	}
}

func TestCleanLines(t *testing.T) {
	got := CleanLines("a   b\t\tc\r\n   d  \n\n")
	assert.Equal(t, "a b c\nd\n\n\n", got)
}

func TestNormalize_TextComma(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "people.txt", []byte("Name,Age\nAnn,30\nBob,41\n"))

	tbl, err := n.Normalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Age"}, tbl.Columns, "column case is preserved")
	assert.Equal(t, [][]string{{"Ann", "30"}, {"Bob", "41"}}, tbl.Rows)
	assert.Equal(t, EncodingUTF8, tbl.Encoding)
}

func TestNormalize_TextSkipsMalformedRows(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "m.txt", []byte("a,b\n1,2\n1,2,3\n4\n"))

	tbl, err := n.Normalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 1, tbl.Skipped)
	assert.Equal(t, [][]string{{"1", "2"}, {"4", ""}}, tbl.Rows)
}

func TestNormalize_TabsCollapseToSpaces(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "tabs.txt", []byte("id\tname\n1\tAnn\n2\tBob\n"))

	tbl, err := n.Normalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, tbl.Columns)
	assert.Equal(t, [][]string{{"1", "Ann"}, {"2", "Bob"}}, tbl.Rows)
}

func TestNormalize_UnknownExtensionIsSpaceDelimited(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "readings.dat", []byte("sensor   value\nA1  3.5\n"))

	tbl, err := n.Normalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"sensor", "value"}, tbl.Columns)
	assert.Equal(t, [][]string{{"A1", "3.5"}}, tbl.Rows)
}

func TestNormalize_UnknownExtensionRejectsWideRows(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "bad.dat", []byte("a b\n1 2 3\n"))

	_, err := n.Normalize(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindParse, ingesterr.KindOf(err))
}

func TestNormalize_Latin1Fallback(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "cities.txt", []byte("name,city\nJos\xe9,M\xfcnchen\n"))

	tbl, err := n.Normalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, EncodingLatin1, tbl.Encoding)
	assert.Equal(t, [][]string{{"José", "München"}}, tbl.Rows)
}

func TestNormalize_BinaryIsDecodeError(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	// UTF-16LE "a,b"
	p := writeFile(t, in, "utf16.txt", []byte("\xff\xfea\x00,\x00b\x00"))

	_, err := n.Normalize(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindDecode, ingesterr.KindOf(err))
	assert.Equal(t, "FILE003", ingesterr.MapError(err).Code)
}

func TestNormalize_EmptyFile(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "empty.txt", []byte("   \n\n"))

	_, err := n.Normalize(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyFile))
	assert.Equal(t, "FILE005", ingesterr.MapError(err).Code)
}

func TestNormalize_ScratchFileRemoved(t *testing.T) {
	n, in, out := newTestNormalizer(t)
	good := writeFile(t, in, "ok.txt", []byte("a,b\n1,2\n"))
	bad := writeFile(t, in, "bad.txt", []byte(""))

	_, err := n.Normalize(context.Background(), good)
	require.NoError(t, err)
	_, err = n.Normalize(context.Background(), bad)
	require.Error(t, err)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, IsTemp(e.Name()), "scratch file left behind: %s", e.Name())
	}
}

func TestNormalize_JSONRecords(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "events.json", []byte(`[
		{"id": 1, "kind": "open"},
		{"kind": "close", "ok": true, "meta": {"by": "ann"}, "note": null}
	]`))

	tbl, err := n.Normalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "kind", "ok", "meta", "note"}, tbl.Columns)
	assert.Equal(t, [][]string{
		{"1", "open", "", "", ""},
		{"", "close", "True", `{"by": "ann"}`, ""},
	}, tbl.Rows)
}

func TestNormalize_JSONColumns(t *testing.T) {
	n, in, _ := newTestNormalizer(t)

	t.Run("arrays", func(t *testing.T) {
		p := writeFile(t, in, "cols.json", []byte(`{"a": [1, 2], "b": ["x", "y"]}`))
		tbl, err := n.Normalize(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, tbl.Columns)
		assert.Equal(t, [][]string{{"1", "x"}, {"2", "y"}}, tbl.Rows)
	})

	t.Run("labelled", func(t *testing.T) {
		p := writeFile(t, in, "labelled.json", []byte(`{"a": {"r1": 1, "r2": 2}, "b": {"r2": 5}}`))
		tbl, err := n.Normalize(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"1", ""}, {"2", "5"}}, tbl.Rows)
	})

	t.Run("single record", func(t *testing.T) {
		p := writeFile(t, in, "one.json", []byte(`{"a": 1, "b": "z"}`))
		tbl, err := n.Normalize(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"1", "z"}}, tbl.Rows)
	})
}

func TestNormalize_InvalidJSON(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := writeFile(t, in, "broken.json", []byte(`[{"a": 1},`))

	_, err := n.Normalize(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindParse, ingesterr.KindOf(err))
}

func TestNormalize_XLSX(t *testing.T) {
	n, in, _ := newTestNormalizer(t)
	p := filepath.Join(in, "book.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Id", "Name", "Score"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{1, "Ann", 9.5}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{2, "Bob"}))
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	tbl, err := n.Normalize(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"Id", "Name", "Score"}, tbl.Columns)
	assert.Equal(t, [][]string{{"1", "Ann", "9.5"}, {"2", "Bob", ""}}, tbl.Rows)
}

// gridRow is a sparse sheet row: cells holds values from column first on.
type gridRow struct {
	first int
	cells []string
}

func (r gridRow) FirstCol() int { return r.first }
func (r gridRow) LastCol() int  { return r.first + len(r.cells) }
func (r gridRow) Col(i int) string {
	if i < r.first || i >= r.LastCol() {
		return ""
	}
	return r.cells[i-r.first]
}

func TestRowCells(t *testing.T) {
	assert.Equal(t, []string{"", "", "x", "y"}, rowCells(gridRow{first: 2, cells: []string{"x", "y"}}))
	assert.Equal(t, []string{"a", "b"}, rowCells(gridRow{cells: []string{"a", "b"}}))
	assert.Nil(t, rowCells(gridRow{}))
}

func TestTableFromGrid_SparseRows(t *testing.T) {
	grid := [][]string{
		{"", ""},
		rowCells(gridRow{cells: []string{"id", "name", "total"}}),
		rowCells(gridRow{first: 1, cells: []string{"Ann", "3"}}),
		nil,
		rowCells(gridRow{cells: []string{"2"}}),
		rowCells(gridRow{first: 2, cells: []string{"9", "extra"}}),
	}

	tbl, err := tableFromGrid(grid)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "total", "Unnamed: 3"}, tbl.Columns)
	assert.Equal(t, [][]string{
		{"", "Ann", "3", ""},
		{"2", "", "", ""},
		{"", "", "9", "extra"},
	}, tbl.Rows)

	_, err = tableFromGrid([][]string{{""}, nil})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestReadCanonical(t *testing.T) {
	dir := t.TempDir()

	t.Run("strips BOM", func(t *testing.T) {
		p := writeFile(t, dir, "bom.csv", []byte("\xef\xbb\xbfid,name\n1,Ann\n"))
		tbl, err := ReadCanonical(p)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, tbl.Columns)
	})

	t.Run("quoted fields keep whitespace", func(t *testing.T) {
		p := writeFile(t, dir, "q.csv", []byte("id,note\n1,\"a,  b\"\n"))
		tbl, err := ReadCanonical(p)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"1", "a,  b"}}, tbl.Rows)
	})

	t.Run("wide row fails", func(t *testing.T) {
		p := writeFile(t, dir, "wide.csv", []byte("a,b\n1,2,3\n"))
		_, err := ReadCanonical(p)
		assert.Error(t, err)
	})

	t.Run("blank header cells are named", func(t *testing.T) {
		p := writeFile(t, dir, "blank.csv", []byte(",value\n0,1\n"))
		tbl, err := ReadCanonical(p)
		require.NoError(t, err)
		assert.Equal(t, []string{"Unnamed: 0", "value"}, tbl.Columns)
	})
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.csv")
	in := &Table{
		Columns: []string{"id", "note"},
		Rows:    [][]string{{"1", "has, comma"}, {"2", `has "quotes"`}},
	}

	require.NoError(t, WriteCSV(p, in))

	got, err := ReadCanonical(p)
	require.NoError(t, err)
	assert.Equal(t, in.Columns, got.Columns)
	assert.Equal(t, in.Rows, got.Rows)
}

func TestNormalizeDir_IsolatesFailures(t *testing.T) {
	n, in, out := newTestNormalizer(t)
	writeFile(t, in, "a.csv", []byte("x,y\n1,2\n"))
	writeFile(t, in, "b.txt", []byte("p q\n3 4\n"))
	writeFile(t, in, "c.json", []byte(`{not json`))
	writeFile(t, in, "d.json", []byte(`[{"k": "v"}]`))
	writeFile(t, in, ".hidden.txt", []byte("ignored"))
	require.NoError(t, os.Mkdir(filepath.Join(in, "sub"), 0o755))

	results, err := n.NormalizeDir(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, results, 4)

	bySource := map[string]Result{}
	for _, r := range results {
		bySource[filepath.Base(r.Source)] = r
	}

	assert.True(t, bySource["a.csv"].Moved)
	assert.NoError(t, bySource["b.txt"].Err)
	assert.Error(t, bySource["c.json"].Err)
	assert.NoError(t, bySource["d.json"].Err)

	for _, name := range []string{"a.csv", "b.csv", "d.csv"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.NoFileExists(t, filepath.Join(out, "c.csv"))
	assert.NoFileExists(t, filepath.Join(in, "a.csv"), "canonical files are moved, not copied")

	b, err := ReadCanonical(filepath.Join(out, "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q"}, b.Columns)
}

func TestNormalizeDir_MissingDirectory(t *testing.T) {
	n, in, _ := newTestNormalizer(t)

	_, err := n.NormalizeDir(context.Background(), filepath.Join(in, "nope"))
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindDirectory, ingesterr.KindOf(err))
}

func TestOutputPath(t *testing.T) {
	n, _, out := newTestNormalizer(t)

	assert.Equal(t, filepath.Join(out, "Sales Report.csv"), n.OutputPath("/in/Sales Report.xlsx"))
	assert.Equal(t, filepath.Join(out, "archive.tar.csv"), n.OutputPath("/in/archive.tar.gz"))
	assert.True(t, strings.HasSuffix(n.OutputPath("/in/noext"), "noext.csv"))
}

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"a.csv":  FormatCanonical,
		"a.CSV":  FormatCanonical,
		"a.txt":  FormatText,
		"a.xls":  FormatXLS,
		"a.xlsx": FormatXLSX,
		"a.json": FormatJSON,
		"a.log":  FormatOther,
		"a":      FormatOther,
	}
	for name, want := range tests {
		assert.Equal(t, want, FormatOf(name), name)
	}
}
