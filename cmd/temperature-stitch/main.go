package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching"
	"github.com/theimaginaryfoundation/cmip-stitch/stitching/logging"
	"github.com/theimaginaryfoundation/cmip-stitch/stitching/plotting"
	"github.com/theimaginaryfoundation/cmip-stitch/stitching/schema"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.PrintSchema {
		b, err := schema.GenerateJSON[stitching.Options]()
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(append(b, '\n'))
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("stitching run failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *zap.Logger, stdout io.Writer) error {
	opts := cfg.Options
	start := time.Now()
	p := &stitching.Pipeline{
		Options:  opts,
		Renderer: plotting.New(opts.PlotPath(), opts.Plot.WidthInches, opts.Plot.HeightInches),
		Logger:   logger,
	}
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("stitching run complete",
		zap.String("run_id", res.RunID),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
	fmt.Fprintf(stdout, "run_id=%s realizations=%d recipes=%d stitched_points=%d out_dir=%s\n",
		res.RunID, len(res.Recipes.IDs()), len(res.Recipes.Recipes), len(res.Stitched), opts.OutputDir)
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	d := cfg.Options
	fs.SetOutput(os.Stderr)

	var (
		model, emulator, target, dataDir, catalogPath, outDir, experiments string
		tolerance                                                          float64
		matches, chunkSize, baseChunk                                      int
		reproducible, gridded                                              bool
		seed                                                               uint64
	)
	fs.StringVar(&cfg.OptionsPath, "config", "", "Optional YAML options file; flags given explicitly override it")
	fs.StringVar(&model, "model", d.Model, "ESM (CMIP6 source_id) whose archive and ensemble are used")
	fs.StringVar(&emulator, "emulator", d.EmulatorName, "Name recorded as the model of the target series")
	fs.StringVar(&target, "target", "", "Emulator CSV with year,value columns (default output/<model>.csv)")
	fs.StringVar(&dataDir, "data-dir", d.DataDir, "Directory holding matching_archive.csv and tas-data/")
	fs.StringVar(&catalogPath, "catalog", "", "Catalog CSV from catalog-export used to check non-tas variable availability")
	fs.StringVar(&outDir, "out", d.OutputDir, "Output directory for recipes, stitched series, plot and run.json")
	fs.Float64Var(&tolerance, "tolerance", d.Match.Tolerance, "Neighborhood tolerance added to the nearest match distance")
	fs.IntVar(&matches, "matches", d.Match.MatchesPerChunk, "Stitched realizations to draw")
	fs.BoolVar(&reproducible, "reproducible", d.Match.Reproducible, "Seed the draw with -seed instead of the clock")
	fs.Uint64Var(&seed, "seed", d.Match.Seed, "Seed for reproducible draws")
	fs.IntVar(&chunkSize, "chunk-size", d.Chunk.Size, "Years per matching chunk")
	fs.IntVar(&baseChunk, "base-chunk", d.Chunk.BaseIndex, "Leading years skipped before the first chunk")
	fs.StringVar(&experiments, "experiments", strings.Join(d.Archive.Experiments, ","), "Comma-separated archive experiment allow-list")
	fs.BoolVar(&gridded, "gridded", d.Stitch.Gridded, "Also run gridded stitching")
	fs.BoolVar(&cfg.PrintSchema, "print-schema", false, "Print the JSON schema of the options file and exit")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Debug logging")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/temperature-stitch")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/temperature-stitch -config stitch.yaml -reproducible=false")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/temperature-stitch -catalog pangeo_catalog.csv -matches 8")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.OptionsPath != "" {
		opts, err := stitching.LoadOptionsFile(filepath.Clean(cfg.OptionsPath))
		if err != nil {
			return Config{}, err
		}
		cfg.Options = opts
	}

	o := &cfg.Options
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			o.Model = model
		case "emulator":
			o.EmulatorName = emulator
		case "target":
			o.TargetPath = filepath.Clean(target)
		case "data-dir":
			o.DataDir = filepath.Clean(dataDir)
		case "catalog":
			o.CatalogPath = filepath.Clean(catalogPath)
		case "out":
			o.OutputDir = filepath.Clean(outDir)
		case "tolerance":
			o.Match.Tolerance = tolerance
		case "matches":
			o.Match.MatchesPerChunk = matches
		case "reproducible":
			o.Match.Reproducible = reproducible
		case "seed":
			o.Match.Seed = seed
		case "chunk-size":
			o.Chunk.Size = chunkSize
		case "base-chunk":
			o.Chunk.BaseIndex = baseChunk
		case "experiments":
			o.Archive.Experiments = splitList(experiments)
		case "gridded":
			o.Stitch.Gridded = gridded
		}
	})
	return cfg, nil
}

// splitList splits a comma list, dropping blanks and case-insensitive repeats.
func splitList(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
