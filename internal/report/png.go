// Package report renders recorded runs as static PNG plots and as an
// interactive HTML page.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/telemetry"
)

// ErrNoTicks is returned when a run has nothing to plot.
var ErrNoTicks = errors.New("report: run has no ticks")

var (
	axisColors = [3]color.Color{
		color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
		color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
		color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	}
	faultColor = color.RGBA{R: 0xff, G: 0x52, B: 0x52, A: 0xff}
	axisNames  = [3]string{"x", "y", "z"}
)

// stateLevel maps a fusion state onto the y axis of the state plot.
func stateLevel(s fusion.State) float64 {
	switch s {
	case fusion.StateRecovering:
		return 1
	case fusion.StateFaultDetected:
		return 2
	default:
		return 0
	}
}

type vecSeries func(telemetry.TickRow) [3]float64

func position(r telemetry.TickRow) [3]float64 {
	p := r.Kinematics.Position
	return [3]float64{p.X, p.Y, p.Z}
}

func linearVelocity(r telemetry.TickRow) [3]float64 {
	v := r.Kinematics.LinVel
	return [3]float64{v.X, v.Y, v.Z}
}

// RenderPNG writes position.png, velocity.png and state.png into dir and
// returns their paths. Ticks in the fault_detected state are marked on
// the position and velocity plots.
func RenderPNG(ticks []telemetry.TickRow, dir string) ([]string, error) {
	if len(ticks) == 0 {
		return nil, ErrNoTicks
	}

	var files []string

	for _, pl := range []struct {
		file, title, unit string
		values            vecSeries
	}{
		{"position.png", "Floating-base position", "Position (m)", position},
		{"velocity.png", "Floating-base linear velocity", "Velocity (m/s)", linearVelocity},
	} {
		p, err := vectorPlot(ticks, pl.title, pl.unit, pl.values)
		if err != nil {
			return files, fmt.Errorf("%s: %w", pl.file, err)
		}
		path := filepath.Join(dir, pl.file)
		if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return files, fmt.Errorf("save %s: %w", pl.file, err)
		}
		files = append(files, path)
	}

	p, err := statePlot(ticks)
	if err != nil {
		return files, fmt.Errorf("state.png: %w", err)
	}
	path := filepath.Join(dir, "state.png")
	if err := p.Save(14*vg.Inch, 3*vg.Inch, path); err != nil {
		return files, fmt.Errorf("save state.png: %w", err)
	}
	return append(files, path), nil
}

func vectorPlot(ticks []telemetry.TickRow, title, unit string, values vecSeries) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = unit

	var pts [3]plotter.XYs
	var faults plotter.XYs
	for _, r := range ticks {
		v := values(r)
		for i := range pts {
			pts[i] = append(pts[i], plotter.XY{X: float64(r.Tick), Y: v[i]})
		}
		if r.State == fusion.StateFaultDetected {
			faults = append(faults, plotter.XY{X: float64(r.Tick), Y: v[2]})
		}
	}

	for i := range pts {
		line, err := plotter.NewLine(pts[i])
		if err != nil {
			return nil, err
		}
		line.Color = axisColors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(axisNames[i], line)
	}

	if len(faults) > 0 {
		sc, err := plotter.NewScatter(faults)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = faultColor
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("fault", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func statePlot(ticks []telemetry.TickRow) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Fusion state"
	p.X.Label.Text = "Tick"
	p.Y.Min = -0.5
	p.Y.Max = 2.5
	p.Y.Tick.Marker = plot.ConstantTicks([]plot.Tick{
		{Value: 0, Label: string(fusion.StateNominal)},
		{Value: 1, Label: string(fusion.StateRecovering)},
		{Value: 2, Label: string(fusion.StateFaultDetected)},
	})

	pts := make(plotter.XYs, 0, len(ticks))
	for _, r := range ticks {
		pts = append(pts, plotter.XY{X: float64(r.Tick), Y: stateLevel(r.State)})
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.StepStyle = plotter.PreStep
	line.Color = axisColors[2]
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}
