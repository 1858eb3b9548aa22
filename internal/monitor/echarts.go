package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/meshlayers/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleHistogram renders a bar chart (HTML) of a layer's cost distribution
// with the share of lethal vertices in the subtitle. Debugging only.
// Query params:
//   - layer (required)
//   - bins (optional; default 40, max 500)
func (ws *WebServer) handleHistogram(w http.ResponseWriter, r *http.Request) {
	name, ok := layerParam(w, r)
	if !ok {
		return
	}

	bins := defaultHistogramBins
	if b := r.URL.Query().Get("bins"); b != "" {
		if v, err := strconv.Atoi(b); err == nil && v > 0 && v <= 500 {
			bins = v
		}
	}

	info, err := ws.meshMap.LayerInfo(name)
	if err != nil {
		writeLayerError(w, name, err)
		return
	}
	costs, err := ws.meshMap.LayerCosts(name)
	if err != nil {
		writeLayerError(w, name, err)
		return
	}

	dividers, counts := histogram(costs, bins)
	if counts == nil {
		httputil.NotFound(w, fmt.Sprintf("layer '%s' has no values", name))
		return
	}

	x := make([]string, len(counts))
	y := make([]opts.BarData, len(counts))
	for i, c := range counts {
		x[i] = fmt.Sprintf("%.3f", (dividers[i]+dividers[i+1])/2)
		y[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Layer %s", name),
			Subtitle: fmt.Sprintf("%d vertices, %d lethal (threshold %g)", info.Vertices, info.Lethals, info.Threshold),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "cost"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vertices"}),
	)
	bar.SetXAxis(x).AddSeries("vertices", y)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
