package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/telemetry"
)

// HTMLOptions tunes RenderHTML. The zero value is usable.
type HTMLOptions struct {
	Title string
	// MaxPoints bounds the samples per series; longer runs are strided.
	MaxPoints int
	// AssetsHost overrides where the echarts scripts are loaded from.
	AssetsHost string
}

const defaultMaxPoints = 5000

// RenderHTML writes an interactive page with the position, velocity and
// fusion-state series of a run. Fault and recovery events are drawn as
// vertical markers on the state chart.
func RenderHTML(w io.Writer, ticks []telemetry.TickRow, events []fusion.Event, o HTMLOptions) error {
	if len(ticks) == 0 {
		return ErrNoTicks
	}
	if o.Title == "" {
		o.Title = "Floating-base estimation"
	}
	maxPoints := o.MaxPoints
	if maxPoints <= 0 {
		maxPoints = defaultMaxPoints
	}
	stride := 1
	if len(ticks) > maxPoints {
		stride = int(math.Ceil(float64(len(ticks)) / float64(maxPoints)))
	}

	var x []string
	var pos, vel [3][]opts.LineData
	var state []opts.LineData
	for i := 0; i < len(ticks); i += stride {
		r := ticks[i]
		x = append(x, strconv.FormatInt(r.Tick, 10))
		p, v := position(r), linearVelocity(r)
		for k := 0; k < 3; k++ {
			pos[k] = append(pos[k], opts.LineData{Value: p[k]})
			vel[k] = append(vel[k], opts.LineData{Value: v[k]})
		}
		state = append(state, opts.LineData{Value: stateLevel(r.State), Name: string(r.State)})
	}

	page := components.NewPage()
	page.SetPageTitle(o.Title)
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}

	subtitle := fmt.Sprintf("ticks=%d stride=%d", len(ticks), stride)
	page.AddCharts(
		vectorChart(o, "Position", "m", subtitle, x, pos),
		vectorChart(o, "Linear velocity", "m/s", subtitle, x, vel),
		stateChart(o, x, state, events),
	)
	return page.Render(w)
}

func newLine(o HTMLOptions, height string) *charts.Line {
	line := charts.NewLine()
	initOpts := opts.Initialization{Width: "100%", Height: height}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	return line
}

func vectorChart(o HTMLOptions, title, unit, subtitle string, x []string, series [3][]opts.LineData) *charts.Line {
	line := newLine(o, "420px")
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: unit}),
	)
	line.SetXAxis(x)
	for i, name := range axisNames {
		line.AddSeries(name, series[i], charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line
}

func stateChart(o HTMLOptions, x []string, state []opts.LineData, events []fusion.Event) *charts.Line {
	line := newLine(o, "240px")
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Fusion state", Subtitle: "0 nominal, 1 recovering, 2 fault_detected"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 2}),
	)
	line.SetXAxis(x)

	var marks []opts.MarkLineNameXAxisItem
	for _, ev := range events {
		if ev.Kind != fusion.EventFaultEntered && ev.Kind != fusion.EventRecoveryCompleted {
			continue
		}
		marks = append(marks, opts.MarkLineNameXAxisItem{
			Name:  string(ev.Kind),
			XAxis: strconv.FormatInt(ev.Tick, 10),
		})
	}

	seriesOpts := []charts.SeriesOpts{
		charts.WithLineChartOpts(opts.LineChart{Step: "end", ShowSymbol: opts.Bool(false)}),
	}
	if len(marks) > 0 {
		seriesOpts = append(seriesOpts, charts.WithMarkLineNameXAxisItemOpts(marks...))
	}
	line.AddSeries("state", state, seriesOpts...)
	return line
}
