package stitching

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func targetChunks() []ChunkInfo {
	return []ChunkInfo{
		{Variable: "tas", Experiment: "ssp245", Ensemble: "NA", Model: "Hector", Chunk: 1, StartYear: 2024, EndYear: 2032, Year: 2028, Fx: 0.80, Dx: 0.030},
		{Variable: "tas", Experiment: "ssp245", Ensemble: "NA", Model: "Hector", Chunk: 0, StartYear: 2015, EndYear: 2023, Year: 2019, Fx: 0.50, Dx: 0.025},
	}
}

// gridArchive builds members r1..rN for two experiments with fx values near both
// target chunks.
func gridArchive(members int) []ChunkInfo {
	var out []ChunkInfo
	for _, exp := range []string{"ssp126", "ssp585"} {
		for m := 1; m <= members; m++ {
			ens := fmt.Sprintf("r%di1p1f1", m)
			off := 0.001 * float64(m)
			out = append(out,
				ChunkInfo{Variable: "tas", Experiment: exp, Ensemble: ens, Model: "MRI-ESM2-0", StartYear: 2015, EndYear: 2023, Fx: 0.50 + off, Dx: 0.025},
				ChunkInfo{Variable: "tas", Experiment: exp, Ensemble: ens, Model: "MRI-ESM2-0", StartYear: 2033, EndYear: 2041, Fx: 0.80 - off, Dx: 0.030},
				ChunkInfo{Variable: "tas", Experiment: exp, Ensemble: ens, Model: "MRI-ESM2-0", StartYear: 2060, EndYear: 2068, Fx: 2.5, Dx: 0.05},
			)
		}
	}
	return out
}

func defaultParams() MatchParams {
	return DefaultOptions().MatchParams(nil)
}

func TestNeighborhoodMatcher_ReproducibleIsStable(t *testing.T) {
	t.Parallel()

	m := NeighborhoodMatcher{}
	params := defaultParams()
	a, err := m.Match(context.Background(), targetChunks(), gridArchive(10), params)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	b, err := m.Match(context.Background(), targetChunks(), gridArchive(10), params)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("reproducible runs differ (-a +b):\n%s", diff)
	}
	if got := a.IDs(); len(got) != 4 || got[0] != "ssp245~NA~1" || got[3] != "ssp245~NA~4" {
		t.Fatalf("ids=%v", got)
	}
	if len(a.Recipes) != 8 {
		t.Fatalf("recipes=%d, want 8 (4 realizations x 2 chunks)", len(a.Recipes))
	}
	if diff := cmp.Diff([]string{"tas", "pr", "hurs", "rsds"}, a.Variables); diff != "" {
		t.Fatalf("variables (-want +got):\n%s", diff)
	}
}

func TestNeighborhoodMatcher_RecipeShape(t *testing.T) {
	t.Parallel()

	set, err := NeighborhoodMatcher{}.Match(context.Background(), targetChunks(), gridArchive(10), defaultParams())
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	used := map[string]bool{}
	for i, r := range set.Recipes {
		// Rows are ordered by realization then target start year.
		wantStart := 2015
		if i%2 == 1 {
			wantStart = 2024
		}
		if r.TargetStartYear != wantStart {
			t.Fatalf("row %d target start=%d, want %d", i, r.TargetStartYear, wantStart)
		}
		if r.ArchiveEndYear-r.ArchiveStartYear != r.TargetEndYear-r.TargetStartYear {
			t.Fatalf("row %d span mismatch: %+v", i, r)
		}
		if r.ArchiveStartYear == 2060 {
			t.Fatalf("row %d matched an out-of-neighborhood chunk: %+v", i, r)
		}
		k := fmt.Sprintf("%s/%s/%d", r.ArchiveExperiment, r.ArchiveEnsemble, r.ArchiveStartYear)
		if used[k] {
			t.Fatalf("archive chunk %s reused", k)
		}
		used[k] = true
	}
}

func TestNeighborhoodMatcher_SeedFromClockWhenNotReproducible(t *testing.T) {
	t.Parallel()

	params := defaultParams()
	params.Reproducible = false
	clock := func() time.Time { return time.Unix(1700000000, 0) }

	m := NeighborhoodMatcher{Clock: clock}
	a, err := m.Match(context.Background(), targetChunks(), gridArchive(10), params)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	b, err := m.Match(context.Background(), targetChunks(), gridArchive(10), params)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same clock should give the same draw (-a +b):\n%s", diff)
	}

	// The fixed seed must be ignored when not reproducible.
	params.Seed = 7
	c, err := m.Match(context.Background(), targetChunks(), gridArchive(10), params)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if diff := cmp.Diff(a, c); diff != "" {
		t.Fatalf("seed changed a clock-seeded draw (-a +c):\n%s", diff)
	}
}

func TestNeighborhoodMatcher_StopsWhenNeighborhoodExhausted(t *testing.T) {
	t.Parallel()

	params := defaultParams()
	params.Tolerance = 0
	params.MatchesPerChunk = 4

	// With zero tolerance only member r1 qualifies, once per experiment, so each
	// neighborhood holds two entries and only two realizations can be drawn.
	set, err := NeighborhoodMatcher{}.Match(context.Background(), targetChunks(), gridArchive(3), params)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got := len(set.IDs()); got != 2 {
		t.Fatalf("realizations=%d, want 2", got)
	}
}

func TestNeighborhoodMatcher_AvailabilityFilter(t *testing.T) {
	t.Parallel()

	idx := fakeIndex{
		"MRI-ESM2-0|ssp585|r2i1p1f1": {"tas": "gs://tas", "pr": "gs://pr", "hurs": "gs://hurs", "rsds": "gs://rsds"},
		"MRI-ESM2-0|ssp126|r1i1p1f1": {"tas": "gs://tas", "pr": "gs://pr"},
	}
	params := DefaultOptions().MatchParams(idx)
	params.Tolerance = 10

	set, err := NeighborhoodMatcher{}.Match(context.Background(), targetChunks(), gridArchive(3), params)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	for _, r := range set.Recipes {
		if r.ArchiveExperiment != "ssp585" || r.ArchiveEnsemble != "r2i1p1f1" {
			t.Fatalf("member without all variables was used: %+v", r)
		}
		if r.Files["pr"] != "gs://pr" || r.Files["rsds"] != "gs://rsds" {
			t.Fatalf("files=%v", r.Files)
		}
	}

	params.NonTasVariables = []string{"sfcWind"}
	_, err = NeighborhoodMatcher{}.Match(context.Background(), targetChunks(), gridArchive(3), params)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err=%v, want ErrNoCandidates", err)
	}
}

func TestNeighborhoodMatcher_InvalidInput(t *testing.T) {
	t.Parallel()

	m := NeighborhoodMatcher{}
	ctx := context.Background()
	if _, err := m.Match(ctx, nil, gridArchive(1), defaultParams()); err == nil {
		t.Fatalf("expected error for empty target")
	}
	if _, err := m.Match(ctx, targetChunks(), nil, defaultParams()); !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("err=%v, want ErrEmptyArchive", err)
	}
	p := defaultParams()
	p.Tolerance = -1
	if _, err := m.Match(ctx, targetChunks(), gridArchive(1), p); err == nil {
		t.Fatalf("expected error for negative tolerance")
	}
	p = defaultParams()
	p.MatchesPerChunk = 0
	if _, err := m.Match(ctx, targetChunks(), gridArchive(1), p); err == nil {
		t.Fatalf("expected error for zero matches")
	}

	// Archive chunks of another span never match.
	short := []ChunkInfo{{Variable: "tas", Model: "MRI-ESM2-0", Experiment: "ssp126", StartYear: 2015, EndYear: 2019, Fx: 0.5, Dx: 0.025}}
	if _, err := m.Match(ctx, targetChunks(), short, defaultParams()); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err=%v, want ErrNoCandidates", err)
	}
}

type fakeIndex map[string]map[string]string

func (f fakeIndex) HasAll(model, experiment, ensemble string, variables []string) bool {
	vars := f[model+"|"+experiment+"|"+ensemble]
	for _, v := range variables {
		if _, ok := vars[v]; !ok {
			return false
		}
	}
	return true
}

func (f fakeIndex) Asset(model, experiment, ensemble, variable string) (string, bool) {
	a, ok := f[model+"|"+experiment+"|"+ensemble][variable]
	return a, ok
}
