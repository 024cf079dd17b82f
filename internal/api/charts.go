package api

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/fusion.report/internal/fusion/l5tracks"
	"github.com/banshee-data/fusion.report/internal/httputil"
)

// minChartRange keeps the ego vehicle and nearby tracks readable when the
// scene is nearly empty.
const minChartRange = 20.0

// chartRange returns a symmetric axis bound covering every track.
func chartRange(tracks []l5tracks.Track) float64 {
	r := minChartRange
	for _, t := range tracks {
		r = math.Max(r, math.Abs(t.Position.X)+2)
		r = math.Max(r, math.Abs(t.Position.Y)+2)
	}
	return math.Ceil(r)
}

// byClass groups tracks by classification, "unknown" for unclassified.
func byClass(tracks []l5tracks.Track) (map[string][]l5tracks.Track, []string) {
	groups := map[string][]l5tracks.Track{}
	for _, t := range tracks {
		c := t.Classification
		if c == "" {
			c = "unknown"
		}
		groups[c] = append(groups[c], t)
	}
	names := make([]string, 0, len(groups))
	for c := range groups {
		names = append(names, c)
	}
	sort.Strings(names)
	return groups, names
}

// handleTrackChart renders the published tracks as a bird's-eye scatter
// (HTML) using go-echarts, one series per classification. Debugging only.
func (s *Server) handleTrackChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.engine.Published()
	tracks := snap.Tracks()
	pad := chartRange(tracks)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fused Tracks", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fused Tracks", Subtitle: fmt.Sprintf("cycle=%d tracks=%d time=%s", snap.Cycle(), len(tracks), snap.Time().Format(time.RFC3339Nano))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	groups, names := byClass(tracks)
	for _, name := range names {
		data := make([]opts.ScatterData, 0, len(groups[name]))
		for _, t := range groups[name] {
			data = append(data, opts.ScatterData{
				Name:  t.ID,
				Value: []interface{}{t.Position.X, t.Position.Y, t.Confidence},
			})
		}
		scatter.AddSeries(name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	}
	scatter.AddSeries("ego", []opts.ScatterData{{Name: "ego", Value: []interface{}{0, 0, 1}}},
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

var classColors = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
}

// handleTrackPlot renders the published tracks as a PNG using gonum/plot,
// with velocity vectors drawn one second ahead.
func (s *Server) handleTrackPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.engine.Published()
	tracks := snap.Tracks()
	pad := chartRange(tracks)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fused tracks, cycle %d", snap.Cycle())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad
	p.Add(plotter.NewGrid())

	ego, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	ego.GlyphStyle.Shape = draw.PyramidGlyph{}
	ego.GlyphStyle.Radius = vg.Points(5)
	p.Add(ego)
	p.Legend.Add("ego", ego)

	groups, names := byClass(tracks)
	for i, name := range names {
		pts := make(plotter.XYs, 0, len(groups[name]))
		for _, t := range groups[name] {
			pts = append(pts, plotter.XY{X: t.Position.X, Y: t.Position.Y})

			if t.Velocity == nil {
				continue
			}
			line, err := plotter.NewLine(plotter.XYs{
				{X: t.Position.X, Y: t.Position.Y},
				{X: t.Position.X + t.Velocity.X, Y: t.Position.Y + t.Velocity.Y},
			})
			if err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
				return
			}
			line.Width = vg.Points(1)
			line.Color = classColors[i%len(classColors)]
			p.Add(line)
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
			return
		}
		sc.GlyphStyle.Color = classColors[i%len(classColors)]
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add(name, sc)
	}

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
