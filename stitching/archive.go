package stitching

import (
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
)

var (
	chunkedArchiveColumns = []string{"ensemble", "experiment", "model", "start_yr", "end_yr", "fx", "dx"}
	rawArchiveColumns     = []string{"ensemble", "experiment", "model", "year", "value"}
)

// LoadArchive reads a matching archive. Two layouts are accepted: pre-chunked rows
// (ensemble, experiment, model, [variable,] start_yr, end_yr, [year,] fx, dx) and raw
// trajectories (ensemble, experiment, model, [variable,] year, value), which are chunked
// with opts.
func LoadArchive(path string, opts ChunkOptions) ([]ChunkInfo, error) {
	header, rows, err := fileutils.ReadCSV(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	switch {
	case fileutils.HasColumns(header, chunkedArchiveColumns...):
		return decodeChunkedArchive(path, header, rows)
	case fileutils.HasColumns(header, rawArchiveColumns...):
		records, err := decodeRawArchive(path, header, rows)
		if err != nil {
			return nil, err
		}
		chunked, err := ChunkSeries(records, opts)
		if err != nil {
			return nil, errors.Wrap(err, path)
		}
		return SummarizeChunks(chunked), nil
	default:
		return nil, errors.Errorf("%s: unrecognized archive layout (columns %s)", path, strings.Join(header, ","))
	}
}

func decodeChunkedArchive(path string, header []string, rows [][]string) ([]ChunkInfo, error) {
	idx, err := fileutils.ColumnIndex(header, chunkedArchiveColumns...)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	varCol := optionalColumn(header, "variable")
	yearCol := optionalColumn(header, "year")

	out := make([]ChunkInfo, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		var c ChunkInfo
		c.Ensemble = strings.TrimSpace(row[idx["ensemble"]])
		c.Experiment = strings.TrimSpace(row[idx["experiment"]])
		c.Model = strings.TrimSpace(row[idx["model"]])
		c.Variable = "tas"
		if varCol >= 0 {
			c.Variable = strings.TrimSpace(row[varCol])
		}
		if c.StartYear, err = parseYear(row[idx["start_yr"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d start_yr", path, line)
		}
		if c.EndYear, err = parseYear(row[idx["end_yr"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d end_yr", path, line)
		}
		if c.EndYear < c.StartYear {
			return nil, errors.Errorf("%s row %d: end_yr %d before start_yr %d", path, line, c.EndYear, c.StartYear)
		}
		c.Year = (c.StartYear + c.EndYear) / 2
		if yearCol >= 0 {
			if c.Year, err = parseYear(row[yearCol]); err != nil {
				return nil, errors.Wrapf(err, "%s row %d year", path, line)
			}
		}
		if c.Fx, err = parseValue(row[idx["fx"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d fx", path, line)
		}
		if c.Dx, err = parseValue(row[idx["dx"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d dx", path, line)
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeRawArchive(path string, header []string, rows [][]string) ([]Record, error) {
	idx, err := fileutils.ColumnIndex(header, rawArchiveColumns...)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	varCol := optionalColumn(header, "variable")

	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		r := Record{
			Variable:   "tas",
			Experiment: strings.TrimSpace(row[idx["experiment"]]),
			Ensemble:   strings.TrimSpace(row[idx["ensemble"]]),
			Model:      strings.TrimSpace(row[idx["model"]]),
		}
		if varCol >= 0 {
			r.Variable = strings.TrimSpace(row[varCol])
		}
		if r.Year, err = parseYear(row[idx["year"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, i+2)
		}
		if r.Value, err = parseValue(row[idx["value"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, i+2)
		}
		out = append(out, r)
	}
	return out, nil
}

func optionalColumn(header []string, name string) int {
	idx, err := fileutils.ColumnIndex(header, name)
	if err != nil {
		return -1
	}
	return idx[name]
}

// ArchiveFilter selects the archive rows a target may be matched against.
type ArchiveFilter struct {
	Model       string
	Experiments []string

	// Exclude is the target experiment. It may never appear in Experiments.
	Exclude string
}

// FilterArchive keeps entries for f.Model whose experiment is in the allow-list.
func FilterArchive(entries []ChunkInfo, f ArchiveFilter) ([]ChunkInfo, error) {
	if f.Exclude != "" && slices.Contains(f.Experiments, f.Exclude) {
		return nil, errors.Wrapf(ErrTargetLeak, "allow-list %v contains %s", f.Experiments, f.Exclude)
	}
	allowed := make(map[string]struct{}, len(f.Experiments))
	for _, e := range f.Experiments {
		allowed[e] = struct{}{}
	}

	out := make([]ChunkInfo, 0, len(entries)/4+1)
	for _, e := range entries {
		if e.Model != f.Model {
			continue
		}
		if _, ok := allowed[e.Experiment]; !ok {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrEmptyArchive, "model=%s experiments=%s", f.Model, strconv.Quote(strings.Join(f.Experiments, ",")))
	}
	return out, nil
}
