package stitching

import (
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestFilterArchive_ModelAndAllowList(t *testing.T) {
	t.Parallel()

	var entries []ChunkInfo
	for _, model := range []string{"A", "B"} {
		for _, exp := range []string{"ssp119", "ssp245", "ssp585"} {
			entries = append(entries, ChunkInfo{Model: model, Experiment: exp, Ensemble: "r1i1p1f1", Variable: "tas", StartYear: 2015, EndYear: 2023})
		}
	}

	got, err := FilterArchive(entries, ArchiveFilter{
		Model:       "A",
		Experiments: []string{"ssp119", "ssp585"},
		Exclude:     "ssp245",
	})
	if err != nil {
		t.Fatalf("FilterArchive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2", len(got))
	}
	for _, e := range got {
		if e.Model != "A" {
			t.Fatalf("model=%s, want A", e.Model)
		}
		if e.Experiment != "ssp119" && e.Experiment != "ssp585" {
			t.Fatalf("experiment=%s leaked through", e.Experiment)
		}
	}
}

func TestFilterArchive_DefaultsNeverIncludeTarget(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	f := opts.ArchiveFilter()
	if slices.Contains(f.Experiments, "ssp245") {
		t.Fatalf("default allow-list contains ssp245: %v", f.Experiments)
	}

	var entries []ChunkInfo
	for _, exp := range []string{"historical", "ssp119", "ssp126", "ssp245", "ssp370", "ssp434", "ssp460", "ssp534-over", "ssp585"} {
		entries = append(entries, ChunkInfo{Model: opts.Model, Experiment: exp, Variable: "tas"})
	}
	got, err := FilterArchive(entries, f)
	if err != nil {
		t.Fatalf("FilterArchive: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("len=%d, want 6", len(got))
	}
	for _, e := range got {
		if e.Experiment == "ssp245" {
			t.Fatalf("target experiment in filtered archive")
		}
	}
}

func TestFilterArchive_Errors(t *testing.T) {
	t.Parallel()

	entries := []ChunkInfo{{Model: "A", Experiment: "ssp119"}}
	_, err := FilterArchive(entries, ArchiveFilter{Model: "A", Experiments: []string{"ssp119", "ssp245"}, Exclude: "ssp245"})
	if !errors.Is(err, ErrTargetLeak) {
		t.Fatalf("err=%v, want ErrTargetLeak", err)
	}
	_, err = FilterArchive(entries, ArchiveFilter{Model: "B", Experiments: []string{"ssp119"}, Exclude: "ssp245"})
	if !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("err=%v, want ErrEmptyArchive", err)
	}
}

func TestLoadArchive_ChunkedLayout(t *testing.T) {
	t.Parallel()

	path := writeFile(t, filepath.Join(t.TempDir(), "matching_archive.csv"),
		"ensemble,experiment,variable,model,start_yr,end_yr,year,fx,dx\n"+
			"r1i1p1f1,ssp126,tas,MRI-ESM2-0,2015,2023,2019,0.41,0.021\n"+
			"r1i1p1f1,ssp585,tas,MRI-ESM2-0,2024,2032,2028,0.93,0.047\n")
	got, err := LoadArchive(path, ChunkOptions{Size: 9, BaseIndex: 8})
	if err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	want := ChunkInfo{
		Variable: "tas", Experiment: "ssp585", Ensemble: "r1i1p1f1", Model: "MRI-ESM2-0",
		StartYear: 2024, EndYear: 2032, Year: 2028, Fx: 0.93, Dx: 0.047,
	}
	if len(got) != 2 || got[1] != want {
		t.Fatalf("got=%+v", got)
	}
}

func TestLoadArchive_RawLayoutIsChunked(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("model,experiment,ensemble,year,value\n")
	for y := 2015; y <= 2032; y++ {
		b.WriteString("MRI-ESM2-0,ssp585,r1i1p1f1," + strconv.Itoa(y) + "," + strconv.FormatFloat(0.05*float64(y-2015), 'f', -1, 64) + "\n")
	}
	path := writeFile(t, filepath.Join(t.TempDir(), "raw.csv"), b.String())

	got, err := LoadArchive(path, ChunkOptions{Size: 9, BaseIndex: 0})
	if err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("chunks=%d, want 2", len(got))
	}
	if got[0].StartYear != 2015 || got[1].EndYear != 2032 {
		t.Fatalf("spans=%d..%d", got[0].StartYear, got[1].EndYear)
	}
	if got[0].Variable != "tas" {
		t.Fatalf("variable=%q, want tas", got[0].Variable)
	}
}

func TestLoadArchive_UnknownLayout(t *testing.T) {
	t.Parallel()

	path := writeFile(t, filepath.Join(t.TempDir(), "x.csv"), "a,b\n1,2\n")
	if _, err := LoadArchive(path, ChunkOptions{Size: 9}); err == nil {
		t.Fatalf("expected layout error")
	}
}
