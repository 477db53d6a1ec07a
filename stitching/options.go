package stitching

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options holds every parameter of a stitching run. DefaultOptions reproduces the
// reference MRI-ESM2-0 / Hector / ssp245 run.
type Options struct {
	// Model is the ESM whose archive and trajectories are used (CMIP6 source_id).
	Model string `yaml:"model" json:"model" jsonschema:"description=ESM source_id used for the archive and comparison data"`

	// EmulatorName labels the target series (the model column of the target records).
	EmulatorName string `yaml:"emulator_name" json:"emulator_name"`

	// TargetPath is the emulator CSV. Empty means output/<Model>.csv.
	TargetPath string `yaml:"target_path,omitempty" json:"target_path,omitempty"`

	// DataDir holds the packaged reference data (matching archive + tas-data/).
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// ArchiveFile is relative to DataDir.
	ArchiveFile string `yaml:"archive_file" json:"archive_file"`

	// TrajectoryFile is relative to DataDir. Empty means tas-data/<Model>_tas.csv.
	TrajectoryFile string `yaml:"trajectory_file,omitempty" json:"trajectory_file,omitempty"`

	// CatalogPath optionally points at a catalog CSV (as written by catalog-export) used to
	// check that archive members publish the non-tas variables.
	CatalogPath string `yaml:"catalog_path,omitempty" json:"catalog_path,omitempty"`

	OutputDir string `yaml:"output_dir" json:"output_dir"`
	PlotFile  string `yaml:"plot_file" json:"plot_file"`

	Target          TargetOptions  `yaml:"target" json:"target"`
	ReferencePeriod YearRange      `yaml:"reference_period" json:"reference_period"`
	Chunk           ChunkOptions   `yaml:"chunk" json:"chunk"`
	Archive         ArchiveOptions `yaml:"archive" json:"archive"`
	Match           MatchOptions   `yaml:"match" json:"match"`
	Stitch          StitchOptions  `yaml:"stitch" json:"stitch"`
	Compare         CompareOptions `yaml:"compare" json:"compare"`
	Plot            PlotOptions    `yaml:"plot" json:"plot"`
}

// TargetOptions is the fixed metadata attached to the normalized target series.
type TargetOptions struct {
	Variable   string `yaml:"variable" json:"variable"`
	Experiment string `yaml:"experiment" json:"experiment"`
	Ensemble   string `yaml:"ensemble" json:"ensemble"`

	// Unit defaults to a description of the reference period.
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// YearRange is an inclusive range of years.
type YearRange struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

func (r YearRange) Contains(year int) bool {
	return year >= r.Start && year <= r.End
}

func (r YearRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ChunkOptions controls how a series is cut into matching windows.
type ChunkOptions struct {
	// Size is the number of years in each chunk.
	Size int `yaml:"size" json:"size" jsonschema:"minimum=1"`

	// BaseIndex is the number of leading years skipped before the first chunk.
	BaseIndex int `yaml:"base_index" json:"base_index" jsonschema:"minimum=0"`
}

type ArchiveOptions struct {
	// Experiments is the allow-list of archive experiments. It must not contain the
	// target experiment.
	Experiments []string `yaml:"experiments" json:"experiments"`
}

type MatchOptions struct {
	Tolerance       float64  `yaml:"tolerance" json:"tolerance" jsonschema:"minimum=0"`
	MatchesPerChunk int      `yaml:"matches_per_chunk" json:"matches_per_chunk" jsonschema:"minimum=1"`
	Reproducible    bool     `yaml:"reproducible" json:"reproducible"`
	Seed            uint64   `yaml:"seed" json:"seed"`
	NonTasVariables []string `yaml:"non_tas_variables" json:"non_tas_variables"`

	// CatalogTableID restricts catalog rows used for the availability check (e.g. Amon).
	CatalogTableID string `yaml:"catalog_table_id,omitempty" json:"catalog_table_id,omitempty"`
}

type StitchOptions struct {
	// Gridded enables the spatially resolved stitching step. It needs a GriddedStitcher.
	Gridded       bool   `yaml:"gridded" json:"gridded"`
	GriddedOutDir string `yaml:"gridded_out_dir,omitempty" json:"gridded_out_dir,omitempty"`

	// Archive years up to HistoricalEndYear are read from HistoricalExperiment when the
	// scenario itself has no row for them.
	HistoricalExperiment string `yaml:"historical_experiment" json:"historical_experiment"`
	HistoricalEndYear    int    `yaml:"historical_end_year" json:"historical_end_year"`
}

type CompareOptions struct {
	// Experiment of the reference ensemble. Empty means Target.Experiment.
	Experiment string `yaml:"experiment,omitempty" json:"experiment,omitempty"`

	// DistinguishedEnsemble is drawn as the thick black reference line.
	DistinguishedEnsemble string `yaml:"distinguished_ensemble" json:"distinguished_ensemble"`
}

type PlotOptions struct {
	WidthInches  float64 `yaml:"width_inches" json:"width_inches" jsonschema:"exclusiveMinimum=0"`
	HeightInches float64 `yaml:"height_inches" json:"height_inches" jsonschema:"exclusiveMinimum=0"`

	// Title defaults to "Stitched Global Mean Temperature vs <Model> Results".
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		Model:        "MRI-ESM2-0",
		EmulatorName: "Hector",
		DataDir:      "data",
		ArchiveFile:  "matching_archive.csv",
		OutputDir:    filepath.FromSlash("output/stitched"),
		PlotFile:     "stitched_global_temp.png",
		Target: TargetOptions{
			Variable:   "tas",
			Experiment: "ssp245",
			Ensemble:   "NA",
		},
		ReferencePeriod: YearRange{Start: 1995, End: 2014},
		Chunk:           ChunkOptions{Size: 9, BaseIndex: 8},
		Archive: ArchiveOptions{
			Experiments: []string{"ssp119", "ssp126", "ssp370", "ssp585", "ssp460", "ssp434"},
		},
		Match: MatchOptions{
			Tolerance:       0.06,
			MatchesPerChunk: 4,
			Reproducible:    true,
			Seed:            42,
			NonTasVariables: []string{"pr", "hurs", "rsds"},
			CatalogTableID:  "Amon",
		},
		Stitch: StitchOptions{
			GriddedOutDir:        ".",
			HistoricalExperiment: "historical",
			HistoricalEndYear:    2014,
		},
		Compare: CompareOptions{DistinguishedEnsemble: "x"},
		Plot:    PlotOptions{WidthInches: 8, HeightInches: 5},
	}
}

// LoadOptionsFile reads a YAML options file over DefaultOptions. Unknown keys are rejected.
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrap(err, "read options file")
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return Options{}, errors.Wrapf(err, "decode options file %s", path)
	}
	return opts, nil
}

func (o Options) Validate() error {
	if strings.TrimSpace(o.Model) == "" {
		return errors.New("model is empty")
	}
	if strings.TrimSpace(o.DataDir) == "" || strings.TrimSpace(o.ArchiveFile) == "" {
		return errors.New("data_dir and archive_file are required")
	}
	if strings.TrimSpace(o.OutputDir) == "" {
		return errors.New("output_dir is empty")
	}
	if o.Target.Experiment == "" || o.Target.Variable == "" {
		return errors.New("target variable and experiment are required")
	}
	if o.ReferencePeriod.Start > o.ReferencePeriod.End {
		return errors.Errorf("reference period %s is inverted", o.ReferencePeriod)
	}
	if o.Chunk.Size <= 0 {
		return errors.Wrap(ErrIncompatibleChunking, "chunk size must be > 0")
	}
	if o.Chunk.BaseIndex < 0 {
		return errors.Wrap(ErrIncompatibleChunking, "base chunk index must be >= 0")
	}
	if len(o.Archive.Experiments) == 0 {
		return errors.New("archive experiment allow-list is empty")
	}
	if slices.Contains(o.Archive.Experiments, o.Target.Experiment) {
		return errors.Wrapf(ErrTargetLeak, "allow-list contains %s", o.Target.Experiment)
	}
	if o.Match.Tolerance < 0 {
		return errors.New("tolerance must be >= 0")
	}
	if o.Match.MatchesPerChunk <= 0 {
		return errors.New("matches per chunk must be > 0")
	}
	if o.Plot.WidthInches <= 0 || o.Plot.HeightInches <= 0 {
		return errors.New("plot dimensions must be > 0")
	}
	return nil
}

// TargetFile returns the emulator CSV path.
func (o Options) TargetFile() string {
	if o.TargetPath != "" {
		return o.TargetPath
	}
	return filepath.Join("output", o.Model+".csv")
}

func (o Options) ArchivePath() string {
	return filepath.Join(o.DataDir, o.ArchiveFile)
}

func (o Options) TrajectoryPath() string {
	if o.TrajectoryFile != "" {
		return filepath.Join(o.DataDir, o.TrajectoryFile)
	}
	return filepath.Join(o.DataDir, "tas-data", o.Model+"_tas.csv")
}

func (o Options) PlotPath() string {
	return filepath.Join(o.OutputDir, o.PlotFile)
}

func (o Options) TargetUnit() string {
	if o.Target.Unit != "" {
		return o.Target.Unit
	}
	return fmt.Sprintf("degC change from avg over %d~%d", o.ReferencePeriod.Start, o.ReferencePeriod.End)
}

func (o Options) CompareExperiment() string {
	if o.Compare.Experiment != "" {
		return o.Compare.Experiment
	}
	return o.Target.Experiment
}

func (o Options) PlotTitle() string {
	if o.Plot.Title != "" {
		return o.Plot.Title
	}
	return fmt.Sprintf("Stitched Global Mean Temperature vs %s Results", o.Model)
}

// ArchiveFilter returns the filter applied to the matching archive.
func (o Options) ArchiveFilter() ArchiveFilter {
	return ArchiveFilter{
		Model:       o.Model,
		Experiments: slices.Clone(o.Archive.Experiments),
		Exclude:     o.Target.Experiment,
	}
}

// MatchParams returns the matcher parameters; index may be nil.
func (o Options) MatchParams(index VariableIndex) MatchParams {
	return MatchParams{
		Tolerance:       o.Match.Tolerance,
		MatchesPerChunk: o.Match.MatchesPerChunk,
		Reproducible:    o.Match.Reproducible,
		Seed:            o.Match.Seed,
		NonTasVariables: slices.Clone(o.Match.NonTasVariables),
		Availability:    index,
	}
}
