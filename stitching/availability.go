package stitching

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/catalog"
)

// VariableIndex answers which variables an ESM ensemble member publishes.
type VariableIndex interface {
	HasAll(model, experiment, ensemble string, variables []string) bool
	Asset(model, experiment, ensemble, variable string) (string, bool)
}

// CatalogIndex is a VariableIndex built from a CMIP6 catalog table.
type CatalogIndex struct {
	assets map[catalogKey]string
}

type catalogKey struct {
	model, experiment, ensemble, variable string
}

// NewCatalogIndex indexes the rows of t, optionally restricted to one table_id (e.g.
// Amon). The table must carry source_id, experiment_id, member_id and variable_id; the
// asset path is read from zstore, path or uri when present.
func NewCatalogIndex(t *catalog.Table, tableID string) (*CatalogIndex, error) {
	if t == nil {
		return nil, errors.New("NewCatalogIndex: nil table")
	}
	cols := map[string]int{}
	for _, name := range []string{"source_id", "experiment_id", "member_id", "variable_id"} {
		i := t.ColumnIndex(name)
		if i < 0 {
			return nil, errors.Errorf("catalog table is missing column %q", name)
		}
		cols[name] = i
	}
	tableCol := t.ColumnIndex("table_id")
	assetCol := -1
	for _, name := range []string{"zstore", "path", "uri"} {
		if i := t.ColumnIndex(name); i >= 0 {
			assetCol = i
			break
		}
	}

	idx := &CatalogIndex{assets: make(map[catalogKey]string, len(t.Rows))}
	for _, row := range t.Rows {
		if tableID != "" && tableCol >= 0 && !strings.EqualFold(row[tableCol], tableID) {
			continue
		}
		k := catalogKey{
			model:      row[cols["source_id"]],
			experiment: row[cols["experiment_id"]],
			ensemble:   row[cols["member_id"]],
			variable:   row[cols["variable_id"]],
		}
		asset := ""
		if assetCol >= 0 {
			asset = row[assetCol]
		}
		if _, ok := idx.assets[k]; !ok {
			idx.assets[k] = asset
		}
	}
	return idx, nil
}

// LoadCatalogIndex reads a catalog CSV written by catalog-export.
func LoadCatalogIndex(path, tableID string) (*CatalogIndex, error) {
	t, err := catalog.ReadTable(path)
	if err != nil {
		return nil, err
	}
	return NewCatalogIndex(t, tableID)
}

func (c *CatalogIndex) Len() int { return len(c.assets) }

func (c *CatalogIndex) HasAll(model, experiment, ensemble string, variables []string) bool {
	for _, v := range variables {
		if _, ok := c.assets[catalogKey{model, experiment, ensemble, v}]; !ok {
			return false
		}
	}
	return true
}

func (c *CatalogIndex) Asset(model, experiment, ensemble, variable string) (string, bool) {
	a, ok := c.assets[catalogKey{model, experiment, ensemble, variable}]
	return a, ok
}
