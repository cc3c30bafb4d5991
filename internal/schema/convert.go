package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Convert turns one cell into the pgx value for a column of type t. Null
// tokens become invalid (SQL NULL) values of the matching pgtype.
func Convert(v string, t SQLType) (any, error) {
	null := IsNull(v)
	s := strings.TrimSpace(v)

	switch t {
	case Integer:
		if null {
			return pgtype.Int4{}, nil
		}
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q for INTEGER: %w", v, err)
		}
		return pgtype.Int4{Int32: int32(n), Valid: true}, nil

	case BigInt:
		if null {
			return pgtype.Int8{}, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q for BIGINT: %w", v, err)
		}
		return pgtype.Int8{Int64: n, Valid: true}, nil

	case Double:
		if null {
			return pgtype.Float8{}, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q for DOUBLE PRECISION: %w", v, err)
		}
		if math.IsNaN(f) {
			return pgtype.Float8{}, nil
		}
		return pgtype.Float8{Float64: f, Valid: true}, nil

	case Timestamp:
		if null {
			return pgtype.Timestamp{}, nil
		}
		ts, ok := ParseTime(s)
		if !ok {
			return nil, fmt.Errorf("invalid date %q for TIMESTAMP", v)
		}
		return pgtype.Timestamp{Time: ts, Valid: true}, nil

	case Text:
		if null {
			return pgtype.Text{}, nil
		}
		return pgtype.Text{String: v, Valid: true}, nil

	default:
		return nil, fmt.Errorf("unknown column type %q", t)
	}
}

// ConvertRows converts every row for the given columns. Missing trailing
// cells are treated as null.
func ConvertRows(cols []Column, rows [][]string) ([][]any, error) {
	out := make([][]any, len(rows))
	for r, row := range rows {
		vals := make([]any, len(cols))
		for c, col := range cols {
			cell := ""
			if c < len(row) {
				cell = row[c]
			}
			v, err := Convert(cell, col.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %q: %w", r+1, col.Name, err)
			}
			vals[c] = v
		}
		out[r] = vals
	}
	return out, nil
}
