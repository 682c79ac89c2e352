package report

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/sells-group/market-forecast/internal/forecast"
)

var (
	observedColor = color.RGBA{R: 31, G: 78, B: 120, A: 255}
	fittedColor   = color.RGBA{R: 214, G: 96, B: 77, A: 255}
)

// RenderChart draws the observed ratios and the fitted curve of one region
// as a PNG at path. Records of other regions are ignored.
func RenderChart(path, region string, records []forecast.Record) error {
	var observed, fitted plotter.XYs
	for _, r := range records {
		if r.Region != region {
			continue
		}
		x := float64(r.Date.Unix())
		fitted = append(fitted, plotter.XY{X: x, Y: r.Forecast})
		if r.ServiceRatio != nil {
			observed = append(observed, plotter.XY{X: x, Y: *r.ServiceRatio})
		}
	}
	if len(fitted) == 0 {
		return eris.Errorf("report: no records for region %s", region)
	}

	p := plot.New()
	p.Title.Text = region + " adoption forecast"
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.X.Label.Text = "Date"
	p.Y.Label.Text = "Adoption ratio"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(fitted)
	if err != nil {
		return eris.Wrap(err, "report: fitted line")
	}
	line.Color = fittedColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("fitted", line)

	if len(observed) > 0 {
		points, err := plotter.NewScatter(observed)
		if err != nil {
			return eris.Wrap(err, "report: observed points")
		}
		points.GlyphStyle.Color = observedColor
		points.GlyphStyle.Radius = vg.Points(3)
		points.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(points)
		p.Legend.Add("observed", points)
	}
	p.Legend.Top = true
	p.Legend.Left = true

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create %s", filepath.Dir(path))
	}
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return eris.Wrapf(err, "report: save chart %s", path)
	}
	return nil
}

// ChartPath is the file RenderChart is given for region under dir.
func ChartPath(dir, region string) string {
	return filepath.Join(dir, sanitize(region)+".png")
}

func sanitize(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
