package normalize

import (
	"fmt"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// readXLSX reads the first sheet of an Office Open XML workbook.
func readXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return tableFromGrid(rows)
}

// readXLS reads the first sheet of a legacy BIFF workbook.
func readXLS(path string) (*Table, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("xls has no sheets")
	}

	var grid [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		grid = append(grid, rowCells(row))
	}
	return tableFromGrid(grid)
}

// sheetRow is the part of an xls row rowCells reads.
type sheetRow interface {
	FirstCol() int
	LastCol() int
	Col(i int) string
}

// rowCells places a row's cells at their column index. Columns before
// FirstCol stay empty so every row lines up with the header.
func rowCells(r sheetRow) []string {
	first, last := r.FirstCol(), r.LastCol()
	if last <= 0 {
		return nil
	}
	if first < 0 {
		first = 0
	}
	cells := make([]string, last)
	for j := first; j < last; j++ {
		cells[j] = r.Col(j)
	}
	return cells
}

// tableFromGrid turns sheet rows into a Table. Leading all-blank rows are
// dropped, the first remaining row is the header and ragged rows are padded
// to the widest row.
func tableFromGrid(grid [][]string) (*Table, error) {
	for len(grid) > 0 && blankRow(grid[0]) {
		grid = grid[1:]
	}
	if len(grid) == 0 {
		return nil, ErrEmptyFile
	}

	width := 0
	for _, r := range grid {
		if len(r) > width {
			width = len(r)
		}
	}

	t := &Table{Columns: headerNames(padRow(grid[0], width))}
	for _, r := range grid[1:] {
		if blankRow(r) {
			continue
		}
		t.Rows = append(t.Rows, padRow(r, width))
	}
	return t, nil
}

func blankRow(r []string) bool {
	for _, c := range r {
		if c != "" {
			return false
		}
	}
	return true
}
