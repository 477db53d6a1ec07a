package plotting

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching"
)

func sampleData() (stitching.ComparisonData, []stitching.StitchedSeries) {
	ref := stitching.ComparisonData{
		Model:      "MRI-ESM2-0",
		Experiment: "ssp245",
		Title:      "Stitched Global Mean Temperature vs MRI-ESM2-0 Results",
		Members: []stitching.MemberSeries{
			{Ensemble: "r1i1p1f1", Points: []stitching.SeriesPoint{{Year: 2015, Value: 0.1}, {Year: 2016, Value: 0.2}}},
			{Ensemble: "x", Distinguished: true, Points: []stitching.SeriesPoint{{Year: 2015, Value: 0.15}, {Year: 2016, Value: 0.25}}},
		},
	}
	stitched := []stitching.StitchedSeries{
		{StitchingID: "ssp245~NA~1", Points: []stitching.SeriesPoint{{Year: 2015, Value: 0.12}, {Year: 2016, Value: 0.22}}},
		{StitchingID: "ssp245~NA~2", Points: []stitching.SeriesPoint{{Year: 2015, Value: 0.11}, {Year: 2016, Value: 0.24}}},
	}
	return ref, stitched
}

func TestBuild_LegendKeyedByStitchingID(t *testing.T) {
	t.Parallel()

	ref, stitched := sampleData()
	p, err := Build(ref, stitched)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.X.Label.Text != "Year" || p.Y.Label.Text != "C" {
		t.Fatalf("labels=%q/%q", p.X.Label.Text, p.Y.Label.Text)
	}
	if p.Title.Text != ref.Title {
		t.Fatalf("title=%q", p.Title.Text)
	}
	if p.X.Min != 2015 || p.X.Max != 2016 {
		t.Fatalf("x range=%v..%v, want 2015..2016", p.X.Min, p.X.Max)
	}
}

func TestRenderComparison_WritesPNG(t *testing.T) {
	t.Parallel()

	ref, stitched := sampleData()
	path := filepath.Join(t.TempDir(), "plots", "stitched.png")
	r := New(path, 6, 4)
	if err := r.RenderComparison(context.Background(), ref, stitched); err != nil {
		t.Fatalf("RenderComparison: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatalf("output is not a PNG (len=%d)", len(b))
	}
}

func TestRenderComparison_SVGByExtension(t *testing.T) {
	t.Parallel()

	ref, stitched := sampleData()
	path := filepath.Join(t.TempDir(), "stitched.svg")
	if err := New(path, 6, 4).RenderComparison(context.Background(), ref, stitched); err != nil {
		t.Fatalf("RenderComparison: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(b, []byte("<svg")) {
		t.Fatalf("output is not SVG")
	}
}

func TestRenderComparison_RejectsEmptyPath(t *testing.T) {
	t.Parallel()

	ref, stitched := sampleData()
	if err := (&Renderer{}).RenderComparison(context.Background(), ref, stitched); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
