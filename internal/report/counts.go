package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/cellflow/internal/tracking"
)

// LaneSummary is the per-frame result of one lane.
type LaneSummary struct {
	Name   string
	Counts []int
	Events []tracking.FrameEvents
}

func (s LaneSummary) frames() int {
	return max(len(s.Counts), len(s.Events))
}

// WriteObjectCounts renders an HTML page with the number of objects per
// frame and the division, appearance and disappearance counts of every
// lane.
func WriteObjectCounts(w io.Writer, title string, lanes []LaneSummary) error {
	frames := 0
	for _, l := range lanes {
		frames = max(frames, l.frames())
	}
	x := make([]string, frames)
	for t := range x {
		x[t] = strconv.Itoa(t)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Objects per frame", Subtitle: fmt.Sprintf("%s lanes=%d", title, len(lanes))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
	)
	bar.SetXAxis(x)
	for _, l := range lanes {
		data := make([]opts.BarData, frames)
		for t := range data {
			v := 0
			if t < len(l.Counts) {
				v = l.Counts[t]
			}
			data[t] = opts.BarData{Value: v}
		}
		bar.AddSeries(l.Name, data)
	}

	events := charts.NewLine()
	events.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracking events per frame"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
	)
	events.SetXAxis(x)
	for _, l := range lanes {
		for _, kind := range []tracking.EventKind{tracking.EventDivision, tracking.EventAppearance, tracking.EventDisappearance} {
			data := make([]opts.LineData, frames)
			for t := range data {
				v := 0
				if t < len(l.Events) {
					v = l.Events[t].Count(kind)
				}
				data[t] = opts.LineData{Value: v}
			}
			events.AddSeries(fmt.Sprintf("%s %s", l.Name, kind), data)
		}
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(bar, events)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render object counts: %w", err)
	}
	return nil
}
