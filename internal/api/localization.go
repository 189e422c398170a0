package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/geoanchor/internal/httputil"
)

const (
	defaultHistoryWindow = time.Hour
	maxHistoryWindow     = 7 * 24 * time.Hour
	defaultHistoryLimit  = 1000
	maxChartPoints       = 5000
)

// parseWindow reads the optional "minutes" query parameter and returns the
// [since, until) window ending now.
func (s *Server) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	window := defaultHistoryWindow
	if m := r.URL.Query().Get("minutes"); m != "" {
		v, err := strconv.Atoi(m)
		if err != nil || v < 1 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'minutes' parameter")
		}
		window = time.Duration(v) * time.Minute
		if window > maxHistoryWindow {
			window = maxHistoryWindow
		}
	}
	until := s.clock.Now().Add(time.Nanosecond)
	return until.Add(-window), until, nil
}

func (s *Server) requireHistory(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return false
	}
	if s.history == nil {
		httputil.NotFound(w, "localization history is not recorded")
		return false
	}
	return true
}

// listLocalizationHistory returns log rows. Query params:
//   - kind: "transition" or "sample" (optional)
//   - minutes: window length ending now (default 60)
//   - limit: maximum rows (default 1000)
func (s *Server) listLocalizationHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	since, until, err := s.parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != "transition" && kind != "sample" {
		httputil.BadRequest(w, "invalid 'kind' parameter")
		return
	}

	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = v
	}

	entries, err := s.history.Entries(kind, since, until, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read localization history: %v", err))
		return
	}
	httputil.WriteJSONOK(w, entries)
}

func (s *Server) showLocalizationSummary(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	since, until, err := s.parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sum, err := s.history.Summary(since, until)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarise localization history: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sum)
}

// handleAccuracyChart renders horizontal and heading accuracy over the
// window as an HTML scatter chart.
func (s *Server) handleAccuracyChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	since, until, err := s.parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	samples, err := s.history.Entries("sample", since, until, maxChartPoints)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read localization history: %v", err))
		return
	}
	if len(samples) == 0 {
		httputil.NotFound(w, "no samples in window")
		return
	}

	start := samples[0].Timestamp
	horiz := make([]opts.ScatterData, 0, len(samples))
	heading := make([]opts.ScatterData, 0, len(samples))
	for _, e := range samples {
		x := e.Timestamp.Sub(start).Seconds()
		if e.HorizontalAccuracy != nil {
			horiz = append(horiz, opts.ScatterData{Value: []interface{}{x, *e.HorizontalAccuracy}})
		}
		if e.HeadingAccuracy != nil {
			heading = append(heading, opts.ScatterData{Value: []interface{}{x, *e.HeadingAccuracy}})
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Localization Accuracy", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Localization Accuracy", Subtitle: fmt.Sprintf("from %s samples=%d", start.Format(time.RFC3339), len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "accuracy (m / °)", NameLocation: "middle", NameGap: 35}),
	)
	scatter.AddSeries("horizontal (m)", horiz, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#26828e"}))
	scatter.AddSeries("heading (°)", heading, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#fde725"}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
