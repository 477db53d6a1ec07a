package stitching

import (
	"strconv"
	"time"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
)

// Manifest is written as run.json after every other output of a run.
type Manifest struct {
	RunID         string    `json:"run_id"`
	FinishedAt    time.Time `json:"finished_at"`
	Options       Options   `json:"options"`
	TargetPath    string    `json:"target_path"`
	ArchivePath   string    `json:"archive_path"`
	ReferenceMean float64   `json:"reference_mean"`
	TargetChunks  int       `json:"target_chunks"`
	ArchiveRows   int       `json:"archive_rows"`
	Realizations  []string  `json:"realizations"`
	RecipesPath   string    `json:"recipes_path"`
	StitchedPath  string    `json:"stitched_path"`
	PlotPath      string    `json:"plot_path,omitempty"`
}

// WriteRecipes writes one row per recipe. A <variable>_file column is added for every
// variable of the set when any recipe carries catalog assets.
func WriteRecipes(path string, set *RecipeSet) error {
	header := []string{
		"stitching_id", "target_start_yr", "target_end_yr",
		"archive_experiment", "archive_variable", "archive_model", "archive_ensemble",
		"archive_start_yr", "archive_end_yr", "distance",
	}
	withFiles := false
	for _, r := range set.Recipes {
		if len(r.Files) > 0 {
			withFiles = true
			break
		}
	}
	if withFiles {
		for _, v := range set.Variables {
			header = append(header, v+"_file")
		}
	}

	rows := make([][]string, 0, len(set.Recipes))
	for _, r := range set.Recipes {
		row := []string{
			r.StitchingID,
			strconv.Itoa(r.TargetStartYear),
			strconv.Itoa(r.TargetEndYear),
			r.ArchiveExperiment,
			r.ArchiveVariable,
			r.ArchiveModel,
			r.ArchiveEnsemble,
			strconv.Itoa(r.ArchiveStartYear),
			strconv.Itoa(r.ArchiveEndYear),
			formatFloat(r.Distance),
		}
		if withFiles {
			for _, v := range set.Variables {
				row = append(row, r.Files[v])
			}
		}
		rows = append(rows, row)
	}
	return fileutils.WriteCSVFileAtomic(path, header, rows)
}

// WriteStitched writes the stitched trajectories as stitching_id,variable,year,value.
func WriteStitched(path string, points []StitchedPoint) error {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{p.StitchingID, p.Variable, strconv.Itoa(p.Year), formatFloat(p.Value)})
	}
	return fileutils.WriteCSVFileAtomic(path, []string{"stitching_id", "variable", "year", "value"}, rows)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
