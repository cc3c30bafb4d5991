package normalize

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// parseJSON flattens a JSON document into a Table. Accepted shapes:
//
//	[{"a": 1, "b": 2}, {"a": 3}]        records; columns are the union of keys in first-seen order
//	[1, 2, 3]                           one column named "0"
//	{"a": [1, 3], "b": [2, 4]}          columns of positional values
//	{"a": {"r1": 1}, "b": {"r1": 2}}    columns keyed by row label
//	{"a": 1, "b": 2}                    a single record
//
// Nested objects and arrays inside a cell are kept as raw JSON text.
func parseJSON(text string) (*Table, error) {
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("invalid json")
	}
	root := gjson.Parse(text)

	var t *Table
	switch {
	case root.IsArray():
		t = jsonRecords(root.Array())
	case root.IsObject():
		t = jsonColumns(root)
	default:
		return nil, fmt.Errorf("json root must be an array or object, got %s", root.Type)
	}
	if len(t.Columns) == 0 {
		return nil, ErrEmptyFile
	}
	return t, nil
}

func jsonRecords(items []gjson.Result) *Table {
	t := &Table{}
	index := map[string]int{}
	var records []map[string]string

	for _, item := range items {
		rec := map[string]string{}
		if item.IsObject() {
			item.ForEach(func(key, value gjson.Result) bool {
				k := key.String()
				if _, ok := index[k]; !ok {
					index[k] = len(t.Columns)
					t.Columns = append(t.Columns, k)
				}
				rec[k] = jsonCell(value)
				return true
			})
		} else {
			if _, ok := index["0"]; !ok {
				index["0"] = len(t.Columns)
				t.Columns = append(t.Columns, "0")
			}
			rec["0"] = jsonCell(item)
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		row := make([]string, len(t.Columns))
		for k, v := range rec {
			row[index[k]] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func jsonColumns(root gjson.Result) *Table {
	t := &Table{}
	allScalar := true
	root.ForEach(func(key, value gjson.Result) bool {
		t.Columns = append(t.Columns, key.String())
		if value.IsArray() || value.IsObject() {
			allScalar = false
		}
		return true
	})
	if allScalar {
		row := make([]string, 0, len(t.Columns))
		root.ForEach(func(_, value gjson.Result) bool {
			row = append(row, jsonCell(value))
			return true
		})
		t.Rows = [][]string{row}
		return t
	}

	// Row labels in first-seen order across all columns.
	var labels []string
	labelIndex := map[string]int{}
	cells := make([]map[string]string, len(t.Columns))

	col := 0
	root.ForEach(func(_, value gjson.Result) bool {
		cells[col] = map[string]string{}
		switch {
		case value.IsArray():
			for i, v := range value.Array() {
				cells[col][addLabel(&labels, labelIndex, fmt.Sprint(i))] = jsonCell(v)
			}
		case value.IsObject():
			value.ForEach(func(k, v gjson.Result) bool {
				cells[col][addLabel(&labels, labelIndex, k.String())] = jsonCell(v)
				return true
			})
		default:
			cells[col][addLabel(&labels, labelIndex, "0")] = jsonCell(value)
		}
		col++
		return true
	})

	for _, label := range labels {
		row := make([]string, len(t.Columns))
		for c := range t.Columns {
			row[c] = cells[c][label]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func addLabel(labels *[]string, index map[string]int, label string) string {
	if _, ok := index[label]; !ok {
		index[label] = len(*labels)
		*labels = append(*labels, label)
	}
	return label
}

// jsonCell renders one JSON value as a table cell. Null becomes empty,
// booleans are spelled the way spreadsheet exports spell them.
func jsonCell(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return v.Str
	case gjson.True:
		return "True"
	case gjson.False:
		return "False"
	case gjson.Number:
		return v.Raw
	default:
		return v.Raw
	}
}
