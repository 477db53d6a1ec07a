package stitching

import (
	"context"

	"github.com/pkg/errors"
)

// StitchedPoint is one year of one stitched realization.
type StitchedPoint struct {
	StitchingID string
	Variable    string
	Year        int
	Value       float64
}

// Stitcher turns a RecipeSet into stitched global-mean trajectories.
type Stitcher interface {
	Stitch(ctx context.Context, recipes *RecipeSet) ([]StitchedPoint, error)
}

// GriddedStitcher writes spatially resolved stitched fields for a RecipeSet. No
// implementation ships with this module; the pipeline only calls one when
// Options.Stitch.Gridded is set.
type GriddedStitcher interface {
	StitchGridded(ctx context.Context, outDir string, recipes *RecipeSet) error
}

// GlobalMeanStitcher builds each realization by copying the archive years named in
// each recipe row out of Source and relabelling them onto the target years.
type GlobalMeanStitcher struct {
	Source []TrajectoryPoint

	// Variable selects Source rows. Empty means tas.
	Variable string

	// Archive years up to HistoricalEndYear missing from the scenario itself are read
	// from HistoricalExperiment.
	HistoricalExperiment string
	HistoricalEndYear    int

	index map[trajectoryKey]float64
}

type trajectoryKey struct {
	model, experiment, ensemble string
	year                        int
}

func (s *GlobalMeanStitcher) Stitch(ctx context.Context, recipes *RecipeSet) ([]StitchedPoint, error) {
	if ctx == nil {
		return nil, errors.New("Stitch: ctx is nil")
	}
	if recipes == nil || len(recipes.Recipes) == 0 {
		return nil, errors.Wrap(ErrNoRecipes, "Stitch")
	}
	variable := s.Variable
	if variable == "" {
		variable = "tas"
	}
	if s.index == nil {
		s.index = make(map[trajectoryKey]float64, len(s.Source))
		for _, p := range s.Source {
			if p.Variable != variable {
				continue
			}
			s.index[trajectoryKey{p.Model, p.Experiment, p.Ensemble, p.Year}] = p.Value
		}
	}

	out := make([]StitchedPoint, 0, len(recipes.Recipes)*10)
	for _, r := range recipes.Recipes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.ArchiveEndYear-r.ArchiveStartYear != r.TargetEndYear-r.TargetStartYear {
			return nil, errors.Errorf("recipe %s: archive span %d-%d does not fit target span %d-%d",
				r.StitchingID, r.ArchiveStartYear, r.ArchiveEndYear, r.TargetStartYear, r.TargetEndYear)
		}
		for y := r.ArchiveStartYear; y <= r.ArchiveEndYear; y++ {
			v, ok := s.lookup(r, y)
			if !ok {
				return nil, errors.Errorf("recipe %s: no %s value for %s/%s/%s in %d",
					r.StitchingID, variable, r.ArchiveModel, r.ArchiveExperiment, r.ArchiveEnsemble, y)
			}
			out = append(out, StitchedPoint{
				StitchingID: r.StitchingID,
				Variable:    variable,
				Year:        r.TargetStartYear + (y - r.ArchiveStartYear),
				Value:       v,
			})
		}
	}
	return out, nil
}

func (s *GlobalMeanStitcher) lookup(r Recipe, year int) (float64, bool) {
	if v, ok := s.index[trajectoryKey{r.ArchiveModel, r.ArchiveExperiment, r.ArchiveEnsemble, year}]; ok {
		return v, true
	}
	if s.HistoricalExperiment != "" && year <= s.HistoricalEndYear {
		v, ok := s.index[trajectoryKey{r.ArchiveModel, s.HistoricalExperiment, r.ArchiveEnsemble, year}]
		return v, ok
	}
	return 0, false
}
