package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/tac3d.report/internal/httputil"
)

// echartsAssetsPrefix is where the rendered pages load echarts.min.js from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleForceChart renders the resultant-force history of one sensor as a
// line chart: magnitude plus the three components against receive time.
func (ws *WebServer) handleForceChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.history == nil {
		httputil.NotFound(w, "force history is disabled")
		return
	}
	sn, ok := ws.sensorParam(r)
	if !ok {
		httputil.BadRequest(w, "missing 'sn' parameter")
		return
	}
	samples := ws.history.Samples(sn)
	if len(samples) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no force samples for sensor %s", sn))
		return
	}

	buf, err := renderForceChart(sn, samples)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderForceChart(sn string, samples []ForceSample) (*bytes.Buffer, error) {
	x := make([]string, len(samples))
	mag := make([]opts.LineData, len(samples))
	var comp [3][]opts.LineData
	for i := range comp {
		comp[i] = make([]opts.LineData, len(samples))
	}
	for i, s := range samples {
		x[i] = strconv.FormatFloat(s.ReceiveTimestamp, 'f', 3, 64)
		mag[i] = opts.LineData{Value: s.Magnitude, Name: strconv.FormatUint(uint64(s.FrameIndex), 10)}
		for j := range comp {
			comp[j][i] = opts.LineData{Value: s.Force[j]}
		}
	}

	last := samples[len(samples)-1]
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tac3D Resultant Force", Theme: "dark", Width: "1000px", Height: "500px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Resultant force", Subtitle: fmt.Sprintf("sensor=%s frames=%d last=%d |F|=%.3f", sn, len(samples), last.FrameIndex, last.Magnitude)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "F (N)", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(x).
		AddSeries("|F|", mag).
		AddSeries("Fx", comp[0]).
		AddSeries("Fy", comp[1]).
		AddSeries("Fz", comp[2])

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}
