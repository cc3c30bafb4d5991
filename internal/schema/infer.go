// Package schema infers PostgreSQL column types from untyped table cells and
// converts cells to the pgx values used for bulk copy.
//
// Inference is a single pass over every materialized value of a column. Null
// tokens are ignored; one non-conforming value anywhere pulls the column down
// to the next type in the order INTEGER, BIGINT, DOUBLE PRECISION, TIMESTAMP,
// TEXT.
package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/watchload/internal/normalize"
)

// SQLType is a destination column type.
type SQLType string

const (
	Integer   SQLType = "INTEGER"
	BigInt    SQLType = "BIGINT"
	Double    SQLType = "DOUBLE PRECISION"
	Timestamp SQLType = "TIMESTAMP"
	Text      SQLType = "TEXT"
)

// Column is a named, typed destination column.
type Column struct {
	Name string
	Type SQLType
}

// nullTokens are cell values treated as missing, matched after trimming.
var nullTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsNull reports whether a cell is a missing-value token.
func IsNull(v string) bool {
	_, ok := nullTokens[strings.TrimSpace(v)]
	return ok
}

// TwoDigitYearPivot defines how 2-digit years are interpreted. Years more than
// this many years in the future are moved to the previous century.
var TwoDigitYearPivot = 20

var (
	dateTimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006 3:04 PM",
		"1/2/2006 3:04:05 PM",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "02-Jan-2006",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
)

// ParseTime parses a date or date-time cell. Offsets are converted to UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// Infer returns the destination type for one column of values.
func Infer(values []string) SQLType {
	allInt, allFloat, allTime := true, true, true
	fitsInt32 := true
	seen := false

	for _, raw := range values {
		if IsNull(raw) {
			continue
		}
		seen = true
		v := strings.TrimSpace(raw)

		if allInt {
			if n, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			} else if n < math.MinInt32 || n > math.MaxInt32 {
				fitsInt32 = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if allTime {
			if _, ok := ParseTime(v); !ok {
				allTime = false
			}
		}
		if !allInt && !allFloat && !allTime {
			return Text
		}
	}

	switch {
	case !seen:
		return Text
	case allInt && fitsInt32:
		return Integer
	case allInt:
		return BigInt
	case allFloat:
		return Double
	case allTime:
		return Timestamp
	default:
		return Text
	}
}

// InferColumns infers every column of a table. Names are lower-cased here,
// at the boundary between normalization and loading.
func InferColumns(names []string, rows [][]string) []Column {
	cols := make([]Column, len(names))
	values := make([]string, len(rows))
	for c, name := range names {
		for r, row := range rows {
			if c < len(row) {
				values[r] = row[c]
			} else {
				values[r] = ""
			}
		}
		cols[c] = Column{Name: strings.ToLower(name), Type: Infer(values)}
	}
	return cols
}

// InferTable infers the columns of a normalized table.
func InferTable(t *normalize.Table) []Column {
	return InferColumns(t.Columns, t.Rows)
}

// ErrDuplicateColumn is returned by CheckColumns when two columns share a name.
var ErrDuplicateColumn = errors.New("duplicate column")

// CheckColumns rejects column sets PostgreSQL cannot create, such as two
// headers that only differ in case.
func CheckColumns(cols []Column) error {
	if len(cols) == 0 {
		return errors.New("table has no columns")
	}
	seen := make(map[string]int, len(cols))
	for i, c := range cols {
		if j, ok := seen[c.Name]; ok {
			return fmt.Errorf("%w %q at positions %d and %d", ErrDuplicateColumn, c.Name, j+1, i+1)
		}
		seen[c.Name] = i
	}
	return nil
}
