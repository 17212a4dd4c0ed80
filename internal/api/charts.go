package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/VishwanathaRgitgit/DeepAir/internal/durability"
	"github.com/VishwanathaRgitgit/DeepAir/internal/livestate"
)

var (
	pm25Colour = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	pm10Colour = color.RGBA{R: 38, G: 139, B: 210, A: 255}
)

// handleChart renders the history window as an interactive go-echarts line
// chart.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	snap := s.live.Snapshot()

	labels := make([]string, 0, len(snap.History))
	pm25 := make([]opts.LineData, 0, len(snap.History))
	pm10 := make([]opts.LineData, 0, len(snap.History))
	for _, m := range snap.History {
		labels = append(labels, m.ObservedAt.Local().Format("15:04:05"))
		pm25 = append(pm25, opts.LineData{Value: m.PM25})
		pm10 = append(pm10, opts.LineData{Value: m.PM10})
	}

	subtitle := "waiting for data"
	if snap.Latest != nil {
		subtitle = fmt.Sprintf("last=%s points=%d", snap.Latest.ObservedAt.Local().Format(durability.TimestampLayout), len(snap.History))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DeepAir history", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Particulate matter (µg/m³)", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "µg/m³", Min: 0}),
	)
	line.SetXAxis(labels).
		AddSeries("PM2.5", pm25).
		AddSeries("PM10", pm10).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleHistoryPNG renders the history window as a static PNG, used by the
// dashboard so it works without any chart library.
func (s *Server) handleHistoryPNG(w http.ResponseWriter, r *http.Request) {
	p, err := historyPlot(s.live.Snapshot())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	wt, err := p.WriterTo(8*vg.Inch, 3*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func historyPlot(snap livestate.Snapshot) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Particulate matter"
	p.X.Label.Text = "time"
	p.Y.Label.Text = "µg/m³"
	p.Y.Min = 0
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04:05"}
	p.Add(plotter.NewGrid())

	if len(snap.History) == 0 {
		return p, nil
	}

	pm25 := make(plotter.XYs, 0, len(snap.History))
	pm10 := make(plotter.XYs, 0, len(snap.History))
	for _, m := range snap.History {
		x := float64(m.ObservedAt.Unix())
		pm25 = append(pm25, plotter.XY{X: x, Y: m.PM25})
		pm10 = append(pm10, plotter.XY{X: x, Y: m.PM10})
	}

	for _, series := range []struct {
		name string
		pts  plotter.XYs
		col  color.Color
	}{
		{"PM2.5", pm25, pm25Colour},
		{"PM10", pm10, pm10Colour},
	} {
		l, err := plotter.NewLine(series.pts)
		if err != nil {
			return nil, err
		}
		l.Color = series.col
		l.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add(series.name, l)
	}
	p.Legend.Top = true
	return p, nil
}
