package stitching

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
)

// SeriesPoint is one annual value.
type SeriesPoint struct {
	Year  int
	Value float64
}

// Record is one row of a tagged time series, the shape shared by the target series and
// raw archive trajectories.
type Record struct {
	Variable   string
	Experiment string
	Ensemble   string
	Model      string
	Year       int
	Value      float64
	Unit       string
}

// LoadSeries reads a CSV with year and value columns, sorted by year. Other columns
// are ignored. Duplicate years and non-finite values are rejected.
func LoadSeries(path string) ([]SeriesPoint, error) {
	header, rows, err := fileutils.ReadCSV(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	idx, err := fileutils.ColumnIndex(header, "year", "value")
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	points := make([]SeriesPoint, 0, len(rows))
	for i, row := range rows {
		year, err := parseYear(row[idx["year"]])
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, i+2)
		}
		v, err := parseValue(row[idx["value"]])
		if err != nil {
			return nil, errors.Wrapf(err, "%s row %d", path, i+2)
		}
		points = append(points, SeriesPoint{Year: year, Value: v})
	}
	if len(points) == 0 {
		return nil, errors.Errorf("%s has no rows", path)
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Year < points[j].Year })
	for i := 1; i < len(points); i++ {
		if points[i].Year == points[i-1].Year {
			return nil, errors.Errorf("%s has duplicate year %d", path, points[i].Year)
		}
	}
	return points, nil
}

// ReferenceMean is the mean value over the years in period.
func ReferenceMean(points []SeriesPoint, period YearRange) (float64, error) {
	vals := make([]float64, 0, period.End-period.Start+1)
	for _, p := range points {
		if period.Contains(p.Year) {
			vals = append(vals, p.Value)
		}
	}
	if len(vals) == 0 {
		return 0, errors.Wrapf(ErrInsufficientReferenceData, "no rows in reference period %s", period)
	}
	return stat.Mean(vals, nil), nil
}

// Normalize subtracts the reference-period mean from every value. The input is not modified.
func Normalize(points []SeriesPoint, period YearRange) ([]SeriesPoint, float64, error) {
	ref, err := ReferenceMean(points, period)
	if err != nil {
		return nil, 0, err
	}
	out := make([]SeriesPoint, len(points))
	for i, p := range points {
		out[i] = SeriesPoint{Year: p.Year, Value: p.Value - ref}
	}
	return out, ref, nil
}

// BuildTarget tags a normalized series with the target metadata.
func BuildTarget(points []SeriesPoint, target TargetOptions, model, unit string) []Record {
	out := make([]Record, len(points))
	for i, p := range points {
		out[i] = Record{
			Variable:   target.Variable,
			Experiment: target.Experiment,
			Ensemble:   target.Ensemble,
			Model:      model,
			Year:       p.Year,
			Value:      p.Value,
			Unit:       unit,
		}
	}
	return out
}

func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if y, err := strconv.Atoi(s); err == nil {
		return y, nil
	}
	// Some exports write years as floats ("1995.0").
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, errors.Errorf("invalid year %q", s)
	}
	return int(f), nil
}

func parseValue(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Errorf("invalid value %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("non-finite value %q", s)
	}
	return v, nil
}
