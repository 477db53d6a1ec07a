package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
)

// Table is a catalog index: one row per asset, columns as the catalog defines them.
type Table struct {
	Columns []string
	Rows    [][]string
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of name (case-insensitive), or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// WriteCSV writes the table with a header row and no index column. The file at path
// is only replaced once the full table has been written.
func (t *Table) WriteCSV(path string) error {
	if t == nil {
		return errors.New("WriteCSV: nil table")
	}
	return fileutils.WriteCSVFileAtomic(path, t.Columns, t.Rows)
}

// ReadTable loads a table previously written by WriteCSV.
func ReadTable(path string) (*Table, error) {
	header, rows, err := fileutils.ReadCSV(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog table %s", path)
	}
	return &Table{Columns: header, Rows: rows}, nil
}

func (t *Table) validateAgainst(d Descriptor) error {
	if len(t.Columns) == 0 {
		return errors.New("index has no columns")
	}
	if t.ColumnIndex(d.Assets.ColumnName) < 0 {
		return fmt.Errorf("index is missing assets column %q", d.Assets.ColumnName)
	}
	if d.Assets.FormatColumnName != "" && t.ColumnIndex(d.Assets.FormatColumnName) < 0 {
		return fmt.Errorf("index is missing format column %q", d.Assets.FormatColumnName)
	}
	for _, a := range d.Attributes {
		if t.ColumnIndex(a.ColumnName) < 0 {
			return fmt.Errorf("index is missing attribute column %q", a.ColumnName)
		}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d fields, want %d", i+1, len(row), len(t.Columns))
		}
	}
	return nil
}

// tableFromDict flattens inline catalog_dict rows. Declared attributes come first,
// then the assets column, then any other keys in sorted order.
func tableFromDict(dict []map[string]any, d Descriptor) (*Table, error) {
	seen := map[string]bool{}
	var cols []string
	add := func(c string) {
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		cols = append(cols, c)
	}
	for _, a := range d.Attributes {
		add(a.ColumnName)
	}
	add(d.Assets.ColumnName)
	add(d.Assets.FormatColumnName)

	var extra []string
	for _, row := range dict {
		for k := range row {
			if !seen[k] {
				extra = append(extra, k)
				seen[k] = true
			}
		}
	}
	sort.Strings(extra)
	cols = append(cols, extra...)

	rows := make([][]string, 0, len(dict))
	for i, m := range dict {
		row := make([]string, len(cols))
		for j, c := range cols {
			v, ok := m[c]
			if !ok {
				continue
			}
			s, err := cellString(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, c, err)
			}
			row[j] = s
		}
		rows = append(rows, row)
	}
	return &Table{Columns: cols, Rows: rows}, nil
}

func cellString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
