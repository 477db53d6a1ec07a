package stitching

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
	"github.com/theimaginaryfoundation/cmip-stitch/stitching/logging"
)

// Output file names inside Options.OutputDir.
const (
	RecipesFile  = "recipes.csv"
	StitchedFile = "stitched_global_temp.csv"
	ManifestFile = "run.json"
)

// Pipeline runs one stitching job: normalize and chunk the emulator series, match it
// against the filtered archive, stitch realizations and compare them with the ESM's
// own ensemble.
type Pipeline struct {
	Options Options

	// Matcher defaults to NeighborhoodMatcher.
	Matcher Matcher

	// Stitcher defaults to a GlobalMeanStitcher over the comparison trajectories.
	Stitcher Stitcher

	// Gridded is required when Options.Stitch.Gridded is set.
	Gridded GriddedStitcher

	// Renderer draws the comparison plot. Nil skips rendering.
	Renderer Renderer

	// Availability defaults to the catalog at Options.CatalogPath, when set.
	Availability VariableIndex

	Logger *zap.Logger

	// Now stamps the manifest. Nil means time.Now.
	Now func() time.Time
}

// Result carries everything a run produced.
type Result struct {
	RunID         string
	ReferenceMean float64
	Target        []Record
	TargetChunks  []ChunkInfo
	Archive       []ChunkInfo
	Recipes       *RecipeSet
	Stitched      []StitchedPoint
	Comparison    ComparisonData
	Outputs       Manifest
}

// Run executes every stage in order. Loading the target, the archive and the comparison
// trajectories happens concurrently; everything after is sequential. The first failure
// is returned as a *StageError and nothing further is written.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, errors.New("Run: ctx is nil")
	}
	opts := p.Options
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	log := logging.OrNop(p.Logger)
	res := &Result{RunID: uuid.NewString()}
	log = log.With(zap.String("run_id", res.RunID))

	var (
		trajectories []TrajectoryPoint
		archive      []ChunkInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.prepareTarget(gctx, log, res)
	})
	g.Go(func() error {
		path := opts.ArchivePath()
		log.Info("stage start", zap.String("stage", StageLoadArchive), zap.String("input", path))
		all, err := LoadArchive(path, opts.Chunk)
		if err != nil {
			return stageErr(StageLoadArchive, path, err)
		}
		filtered, err := FilterArchive(all, opts.ArchiveFilter())
		if err != nil {
			return stageErr(StageLoadArchive, path, err)
		}
		archive = filtered
		log.Info("stage done", zap.String("stage", StageLoadArchive),
			zap.Int("rows", len(all)), zap.Int("kept", len(filtered)),
			zap.Strings("experiments", opts.Archive.Experiments))
		return nil
	})
	g.Go(func() error {
		path := opts.TrajectoryPath()
		log.Info("stage start", zap.String("stage", StageLoadComparison), zap.String("input", path))
		pts, err := LoadTrajectories(path, opts.Model)
		if err != nil {
			return stageErr(StageLoadComparison, path, err)
		}
		trajectories = pts
		log.Info("stage done", zap.String("stage", StageLoadComparison), zap.Int("rows", len(pts)))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Archive = archive

	index := p.Availability
	if index == nil && opts.CatalogPath != "" {
		log.Info("stage start", zap.String("stage", StageLoadCatalog), zap.String("input", opts.CatalogPath))
		ci, err := LoadCatalogIndex(opts.CatalogPath, opts.Match.CatalogTableID)
		if err != nil {
			return nil, stageErr(StageLoadCatalog, opts.CatalogPath, err)
		}
		log.Info("stage done", zap.String("stage", StageLoadCatalog), zap.Int("entries", ci.Len()))
		index = ci
	}
	if index == nil && len(opts.Match.NonTasVariables) > 0 {
		log.Warn("no catalog configured; availability of non-tas variables is not checked",
			zap.Strings("variables", opts.Match.NonTasVariables))
	}

	matcher := p.Matcher
	if matcher == nil {
		matcher = NeighborhoodMatcher{Logger: log}
	}
	params := opts.MatchParams(index)
	log.Info("stage start", zap.String("stage", StageMatch),
		zap.Float64("tolerance", params.Tolerance),
		zap.Int("matches", params.MatchesPerChunk),
		zap.Bool("reproducible", params.Reproducible))
	recipes, err := matcher.Match(ctx, res.TargetChunks, archive, params)
	if err != nil {
		return nil, stageErr(StageMatch, opts.ArchivePath(), err)
	}
	res.Recipes = recipes
	log.Info("stage done", zap.String("stage", StageMatch),
		zap.Int("recipes", len(recipes.Recipes)), zap.Strings("realizations", recipes.IDs()))

	stitcher := p.Stitcher
	if stitcher == nil {
		stitcher = &GlobalMeanStitcher{
			Source:               trajectories,
			Variable:             opts.Target.Variable,
			HistoricalExperiment: opts.Stitch.HistoricalExperiment,
			HistoricalEndYear:    opts.Stitch.HistoricalEndYear,
		}
	}
	log.Info("stage start", zap.String("stage", StageStitch))
	stitched, err := stitcher.Stitch(ctx, recipes)
	if err != nil {
		return nil, stageErr(StageStitch, opts.TrajectoryPath(), err)
	}
	res.Stitched = stitched
	log.Info("stage done", zap.String("stage", StageStitch), zap.Int("points", len(stitched)))

	if opts.Stitch.Gridded {
		if p.Gridded == nil {
			return nil, stageErr(StageGridded, opts.Stitch.GriddedOutDir, ErrGriddedUnavailable)
		}
		log.Info("stage start", zap.String("stage", StageGridded), zap.String("out_dir", opts.Stitch.GriddedOutDir))
		if err := p.Gridded.StitchGridded(ctx, opts.Stitch.GriddedOutDir, recipes); err != nil {
			return nil, stageErr(StageGridded, opts.Stitch.GriddedOutDir, err)
		}
	}

	cmpData, err := BuildComparison(trajectories, opts.Model, opts.CompareExperiment(), opts.Compare.DistinguishedEnsemble)
	if err != nil {
		return nil, stageErr(StageCompare, opts.TrajectoryPath(), err)
	}
	cmpData.Title = opts.PlotTitle()
	res.Comparison = cmpData

	if p.Renderer != nil {
		log.Info("stage start", zap.String("stage", StageRender), zap.Int("members", len(cmpData.Members)))
		if err := p.Renderer.RenderComparison(ctx, cmpData, GroupStitched(stitched)); err != nil {
			return nil, stageErr(StageRender, opts.PlotPath(), err)
		}
	}

	if err := p.writeOutputs(log, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) prepareTarget(ctx context.Context, log *zap.Logger, res *Result) error {
	opts := p.Options
	path := opts.TargetFile()
	log.Info("stage start", zap.String("stage", StageLoadTarget), zap.String("input", path))
	points, err := LoadSeries(path)
	if err != nil {
		return stageErr(StageLoadTarget, path, err)
	}
	normalized, ref, err := Normalize(points, opts.ReferencePeriod)
	if err != nil {
		return stageErr(StageLoadTarget, path, err)
	}
	res.ReferenceMean = ref
	res.Target = BuildTarget(normalized, opts.Target, opts.EmulatorName, opts.TargetUnit())
	log.Info("stage done", zap.String("stage", StageLoadTarget),
		zap.Int("rows", len(points)), zap.Float64("reference_mean", ref),
		zap.Stringer("reference_period", opts.ReferencePeriod))

	if err := ctx.Err(); err != nil {
		return err
	}
	chunked, err := ChunkSeries(res.Target, opts.Chunk)
	if err != nil {
		return stageErr(StageChunk, path, err)
	}
	res.TargetChunks = SummarizeChunks(chunked)
	log.Info("stage done", zap.String("stage", StageChunk),
		zap.Int("chunks", len(res.TargetChunks)),
		zap.Int("size", opts.Chunk.Size), zap.Int("base_index", opts.Chunk.BaseIndex))
	return nil
}

func (p *Pipeline) writeOutputs(log *zap.Logger, res *Result) error {
	opts := p.Options
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	m := Manifest{
		RunID:         res.RunID,
		Options:       opts,
		TargetPath:    opts.TargetFile(),
		ArchivePath:   opts.ArchivePath(),
		ReferenceMean: res.ReferenceMean,
		TargetChunks:  len(res.TargetChunks),
		ArchiveRows:   len(res.Archive),
		Realizations:  res.Recipes.IDs(),
		RecipesPath:   filepath.Join(opts.OutputDir, RecipesFile),
		StitchedPath:  filepath.Join(opts.OutputDir, StitchedFile),
	}
	if p.Renderer != nil {
		m.PlotPath = opts.PlotPath()
	}

	if err := WriteRecipes(m.RecipesPath, res.Recipes); err != nil {
		return stageErr(StageWriteOutputs, m.RecipesPath, err)
	}
	if err := WriteStitched(m.StitchedPath, res.Stitched); err != nil {
		return stageErr(StageWriteOutputs, m.StitchedPath, err)
	}
	m.FinishedAt = now().UTC()
	manifestPath := filepath.Join(opts.OutputDir, ManifestFile)
	if err := fileutils.WriteJSONFileAtomic(manifestPath, m, true); err != nil {
		return stageErr(StageWriteOutputs, manifestPath, err)
	}
	res.Outputs = m
	log.Info("stage done", zap.String("stage", StageWriteOutputs), zap.String("out_dir", opts.OutputDir))
	return nil
}
