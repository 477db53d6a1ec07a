// Package plotting renders the stitched-vs-ESM comparison chart with gonum/plot.
package plotting

import (
	"bytes"
	"context"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching"
	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
)

var (
	memberColor        = color.NRGBA{R: 128, G: 128, B: 128, A: 128}
	distinguishedColor = color.Black
)

// Renderer saves the comparison chart to Path. The format follows the extension
// (png, svg, pdf, ...).
type Renderer struct {
	Path   string
	Width  vg.Length
	Height vg.Length
}

// New returns a Renderer sized in inches.
func New(path string, widthInches, heightInches float64) *Renderer {
	return &Renderer{
		Path:   path,
		Width:  vg.Length(widthInches) * vg.Inch,
		Height: vg.Length(heightInches) * vg.Inch,
	}
}

var _ stitching.Renderer = (*Renderer)(nil)

func (r *Renderer) RenderComparison(ctx context.Context, ref stitching.ComparisonData, stitched []stitching.StitchedSeries) error {
	if ctx == nil {
		return errors.New("RenderComparison: ctx is nil")
	}
	if r.Path == "" {
		return errors.New("RenderComparison: empty output path")
	}
	p, err := Build(ref, stitched)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(r.Path)), ".")
	if format == "" {
		format = "png"
	}
	w, err := p.WriterTo(r.Width, r.Height, format)
	if err != nil {
		return errors.Wrapf(err, "encode %s", format)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return errors.Wrap(err, "render plot")
	}
	if err := fileutils.WriteFileAtomicSameDir(r.Path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", r.Path)
	}
	return nil
}

// Build lays out the chart: reference members as thin translucent grey lines, the
// distinguished member as a thick black line, and one labelled line per stitched
// realization.
func Build(ref stitching.ComparisonData, stitched []stitching.StitchedSeries) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = ref.Title
	p.X.Label.Text = "Year"
	p.Y.Label.Text = "C"
	p.Legend.Top = true
	p.Legend.Left = true

	// Distinguished member last so it is drawn above the rest of the ensemble.
	var distinguished []stitching.MemberSeries
	for _, m := range ref.Members {
		if m.Distinguished {
			distinguished = append(distinguished, m)
			continue
		}
		l, err := plotter.NewLine(xys(m.Points))
		if err != nil {
			return nil, errors.Wrapf(err, "member %s", m.Ensemble)
		}
		l.Color = memberColor
		l.Width = vg.Points(1)
		p.Add(l)
	}
	for _, m := range distinguished {
		l, err := plotter.NewLine(xys(m.Points))
		if err != nil {
			return nil, errors.Wrapf(err, "member %s", m.Ensemble)
		}
		l.Color = distinguishedColor
		l.Width = vg.Points(2)
		l.Dashes = []vg.Length{}
		p.Add(l)
	}

	for i, s := range stitched {
		l, err := plotter.NewLine(xys(s.Points))
		if err != nil {
			return nil, errors.Wrapf(err, "stitched %s", s.StitchingID)
		}
		l.LineStyle = draw.LineStyle{Color: plotutil.Color(i), Width: vg.Points(1)}
		p.Add(l)
		p.Legend.Add(s.StitchingID, l)
	}
	return p, nil
}

func xys(points []stitching.SeriesPoint) plotter.XYs {
	out := make(plotter.XYs, len(points))
	for i, pt := range points {
		out[i].X = float64(pt.Year)
		out[i].Y = pt.Value
	}
	return out
}
