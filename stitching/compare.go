package stitching

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
)

// TrajectoryPoint is one annual value of one ESM ensemble member.
type TrajectoryPoint struct {
	Model      string
	Experiment string
	Ensemble   string
	Variable   string
	Year       int
	Value      float64
}

// LoadTrajectories reads a per-model trajectory table (ensemble, experiment, year,
// value, and optionally model and variable). Rows without a model get defaultModel;
// rows without a variable are tas.
func LoadTrajectories(path, defaultModel string) ([]TrajectoryPoint, error) {
	header, rows, err := fileutils.ReadCSV(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	idx, err := fileutils.ColumnIndex(header, "ensemble", "experiment", "year", "value")
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	modelCol := optionalColumn(header, "model")
	varCol := optionalColumn(header, "variable")

	out := make([]TrajectoryPoint, 0, len(rows))
	for i, row := range rows {
		p := TrajectoryPoint{
			Model:      defaultModel,
			Experiment: strings.TrimSpace(row[idx["experiment"]]),
			Ensemble:   strings.TrimSpace(row[idx["ensemble"]]),
			Variable:   "tas",
		}
		if modelCol >= 0 {
			if m := strings.TrimSpace(row[modelCol]); m != "" {
				p.Model = m
			}
		}
		if varCol >= 0 {
			if v := strings.TrimSpace(row[varCol]); v != "" {
				p.Variable = v
			}
		}
		if p.Year, err = parseYear(row[idx["year"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, i+2)
		}
		if p.Value, err = parseValue(row[idx["value"]]); err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, i+2)
		}
		out = append(out, p)
	}
	return out, nil
}

// MemberSeries is one reference ensemble member.
type MemberSeries struct {
	Ensemble      string
	Distinguished bool
	Points        []SeriesPoint
}

// ComparisonData is the reference ensemble a stitched ensemble is plotted against.
type ComparisonData struct {
	Model      string
	Experiment string
	Title      string
	Members    []MemberSeries
}

// StitchedSeries is one stitched realization.
type StitchedSeries struct {
	StitchingID string
	Points      []SeriesPoint
}

// Renderer draws the reference ensemble against the stitched realizations.
type Renderer interface {
	RenderComparison(ctx context.Context, ref ComparisonData, stitched []StitchedSeries) error
}

// BuildComparison groups the model's trajectories for experiment by ensemble member,
// ordered by ensemble id. The member named distinguished is flagged.
func BuildComparison(points []TrajectoryPoint, model, experiment, distinguished string) (ComparisonData, error) {
	groups := make(map[string][]SeriesPoint)
	for _, p := range points {
		if p.Experiment != experiment {
			continue
		}
		if model != "" && p.Model != model {
			continue
		}
		groups[p.Ensemble] = append(groups[p.Ensemble], SeriesPoint{Year: p.Year, Value: p.Value})
	}
	if len(groups) == 0 {
		return ComparisonData{}, errors.Wrapf(ErrEmptyComparison, "model=%s experiment=%s", model, experiment)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data := ComparisonData{Model: model, Experiment: experiment, Members: make([]MemberSeries, 0, len(ids))}
	for _, id := range ids {
		pts := groups[id]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Year < pts[j].Year })
		data.Members = append(data.Members, MemberSeries{
			Ensemble:      id,
			Distinguished: id == distinguished,
			Points:        pts,
		})
	}
	return data, nil
}

// GroupStitched groups stitched points by stitching id, keeping the order in which ids
// first appear and sorting each series by year.
func GroupStitched(points []StitchedPoint) []StitchedSeries {
	var order []string
	groups := make(map[string][]SeriesPoint)
	for _, p := range points {
		if _, ok := groups[p.StitchingID]; !ok {
			order = append(order, p.StitchingID)
		}
		groups[p.StitchingID] = append(groups[p.StitchingID], SeriesPoint{Year: p.Year, Value: p.Value})
	}
	out := make([]StitchedSeries, 0, len(order))
	for _, id := range order {
		pts := groups[id]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Year < pts[j].Year })
		out = append(out, StitchedSeries{StitchingID: id, Points: pts})
	}
	return out
}
