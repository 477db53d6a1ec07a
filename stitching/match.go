package stitching

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/logging"
)

// MatchParams configures a Matcher.
type MatchParams struct {
	// Tolerance widens each neighborhood: archive chunks within (nearest + Tolerance) of a
	// target chunk are candidates.
	Tolerance float64

	// MatchesPerChunk is the number of stitched realizations requested.
	MatchesPerChunk int

	// Reproducible seeds the draw with Seed; otherwise the draw is seeded from the clock.
	Reproducible bool
	Seed         uint64

	// NonTasVariables must all be published by an archive member for it to be used.
	// They are only enforced when Availability is set.
	NonTasVariables []string
	Availability    VariableIndex
}

// Recipe maps one target chunk onto one archive chunk within a stitched realization.
type Recipe struct {
	StitchingID       string
	TargetStartYear   int
	TargetEndYear     int
	ArchiveModel      string
	ArchiveExperiment string
	ArchiveEnsemble   string
	ArchiveVariable   string
	ArchiveStartYear  int
	ArchiveEndYear    int
	Distance          float64

	// Files holds the catalog asset of each variable for this archive member, when known.
	Files map[string]string
}

// RecipeSet is the output of matching: Recipes ordered by realization, then by target year.
type RecipeSet struct {
	TargetExperiment string
	TargetEnsemble   string
	Variables        []string
	Recipes          []Recipe
}

// IDs returns the stitching ids in order of first appearance.
func (s *RecipeSet) IDs() []string {
	var ids []string
	seen := map[string]bool{}
	for _, r := range s.Recipes {
		if !seen[r.StitchingID] {
			seen[r.StitchingID] = true
			ids = append(ids, r.StitchingID)
		}
	}
	return ids
}

// Matcher turns target chunks and an archive into a RecipeSet.
type Matcher interface {
	Match(ctx context.Context, target []ChunkInfo, archive []ChunkInfo, params MatchParams) (*RecipeSet, error)
}

// NeighborhoodMatcher matches each target chunk to the archive chunks nearest to it in
// (Fx, Dx) space, then draws realizations from those neighborhoods without reusing any
// archive chunk, which keeps the stitched ensemble from collapsing onto the same
// archive segments.
type NeighborhoodMatcher struct {
	Logger *zap.Logger

	// Clock seeds non-reproducible runs. Nil means time.Now.
	Clock func() time.Time
}

type candidate struct {
	entry    ChunkInfo
	distance float64
}

func (c candidate) key() string {
	e := c.entry
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d", e.Model, e.Experiment, e.Ensemble, e.Variable, e.StartYear, e.EndYear)
}

func (m NeighborhoodMatcher) Match(ctx context.Context, target []ChunkInfo, archive []ChunkInfo, params MatchParams) (*RecipeSet, error) {
	if ctx == nil {
		return nil, errors.New("Match: ctx is nil")
	}
	if len(target) == 0 {
		return nil, errors.New("Match: no target chunks")
	}
	if len(archive) == 0 {
		return nil, errors.Wrap(ErrEmptyArchive, "Match")
	}
	if params.Tolerance < 0 || math.IsNaN(params.Tolerance) {
		return nil, errors.Errorf("Match: invalid tolerance %v", params.Tolerance)
	}
	if params.MatchesPerChunk <= 0 {
		return nil, errors.Errorf("Match: matches per chunk must be > 0, got %d", params.MatchesPerChunk)
	}
	log := logging.OrNop(m.Logger)

	targets := append([]ChunkInfo(nil), target...)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].StartYear < targets[j].StartYear })

	pool := archive
	if params.Availability != nil && len(params.NonTasVariables) > 0 {
		pool = make([]ChunkInfo, 0, len(archive))
		for _, a := range archive {
			if params.Availability.HasAll(a.Model, a.Experiment, a.Ensemble, params.NonTasVariables) {
				pool = append(pool, a)
			}
		}
		log.Debug("archive restricted to members publishing non-tas variables",
			zap.Int("before", len(archive)), zap.Int("after", len(pool)), zap.Strings("variables", params.NonTasVariables))
	}

	neighborhoods := make([][]candidate, len(targets))
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nb := neighborhood(t, pool, params.Tolerance)
		if len(nb) == 0 {
			return nil, errors.Wrapf(ErrNoCandidates, "target chunk %d-%d", t.StartYear, t.EndYear)
		}
		neighborhoods[i] = nb
		log.Debug("target chunk neighborhood",
			zap.Int("start_yr", t.StartYear), zap.Int("end_yr", t.EndYear),
			zap.Float64("fx", t.Fx), zap.Float64("dx", t.Dx),
			zap.Int("candidates", len(nb)), zap.Float64("nearest", nb[0].distance))
	}

	seed := params.Seed
	if !params.Reproducible {
		now := time.Now
		if m.Clock != nil {
			now = m.Clock
		}
		seed = uint64(now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	set := &RecipeSet{
		TargetExperiment: targets[0].Experiment,
		TargetEnsemble:   targets[0].Ensemble,
		Variables:        append([]string{targets[0].Variable}, params.NonTasVariables...),
	}

	used := make(map[string]bool)
	for n := 1; n <= params.MatchesPerChunk; n++ {
		id := fmt.Sprintf("%s~%s~%d", set.TargetExperiment, set.TargetEnsemble, n)
		picked := make(map[string]bool, len(targets))
		rows := make([]Recipe, 0, len(targets))
		complete := true
		for i, t := range targets {
			open := make([]candidate, 0, len(neighborhoods[i]))
			for _, c := range neighborhoods[i] {
				k := c.key()
				if !used[k] && !picked[k] {
					open = append(open, c)
				}
			}
			if len(open) == 0 {
				complete = false
				break
			}
			c := open[rng.IntN(len(open))]
			picked[c.key()] = true
			rows = append(rows, recipeRow(id, t, c, set.Variables, params.Availability))
		}
		if !complete {
			log.Info("archive neighborhoods exhausted",
				zap.Int("requested", params.MatchesPerChunk), zap.Int("drawn", n-1))
			break
		}
		for k := range picked {
			used[k] = true
		}
		set.Recipes = append(set.Recipes, rows...)
	}
	if len(set.Recipes) == 0 {
		return nil, ErrNoRecipes
	}
	return set, nil
}

// neighborhood returns the archive chunks of t's variable and span lying within
// nearest+tol of it, sorted by distance and then by identity.
func neighborhood(t ChunkInfo, pool []ChunkInfo, tol float64) []candidate {
	all := make([]candidate, 0, len(pool))
	nearest := math.Inf(1)
	for _, a := range pool {
		if a.Span() != t.Span() || a.Variable != t.Variable {
			continue
		}
		d := math.Hypot(t.Fx-a.Fx, t.Dx-a.Dx)
		all = append(all, candidate{entry: a, distance: d})
		nearest = min(nearest, d)
	}
	out := all[:0]
	for _, c := range all {
		if c.distance <= nearest+tol {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].distance != out[j].distance {
			return out[i].distance < out[j].distance
		}
		return out[i].key() < out[j].key()
	})
	return out
}

func recipeRow(id string, t ChunkInfo, c candidate, variables []string, index VariableIndex) Recipe {
	a := c.entry
	r := Recipe{
		StitchingID:       id,
		TargetStartYear:   t.StartYear,
		TargetEndYear:     t.EndYear,
		ArchiveModel:      a.Model,
		ArchiveExperiment: a.Experiment,
		ArchiveEnsemble:   a.Ensemble,
		ArchiveVariable:   a.Variable,
		ArchiveStartYear:  a.StartYear,
		ArchiveEndYear:    a.EndYear,
		Distance:          c.distance,
	}
	if index != nil {
		for _, v := range variables {
			if f, ok := index.Asset(a.Model, a.Experiment, a.Ensemble, v); ok {
				if r.Files == nil {
					r.Files = make(map[string]string)
				}
				r.Files[v] = f
			}
		}
	}
	return r
}
