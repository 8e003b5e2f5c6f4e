// Command mpg-report renders an HTML chart of fuel economy over time
// from the fill-up log in a navmiles database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/navmiles/navmiles/internal/fuel"
	"github.com/navmiles/navmiles/internal/store"
)

var (
	dbFile  = flag.String("db", "navmiles.db", "SQLite database path")
	outFile = flag.String("out", "mpg-report.html", "Output HTML file")
)

// interval is one full-to-full stretch of driving with a measured MPG.
type interval struct {
	EndedAt time.Time
	Miles   float64
	Gallons float64
	MPG     float64
}

// intervals walks the fill log and pairs consecutive full fills that
// both carry odometer readings. Gallons pumped between the pair,
// including the closing fill, are the fuel burned over the stretch.
// Calibration entries are corrections, not purchases, so they are
// skipped.
func intervals(fills []fuel.FillEvent) []interval {
	var out []interval
	prevFullOdo := -1.0
	gallons := 0.0

	for _, ev := range fills {
		if ev.Kind == fuel.FillCalibration {
			continue
		}
		gallons += ev.Gallons

		if ev.Kind != fuel.FillFull || ev.Odometer <= 0 {
			continue
		}
		if prevFullOdo > 0 && ev.Odometer > prevFullOdo && gallons > 0 {
			miles := ev.Odometer - prevFullOdo
			out = append(out, interval{
				EndedAt: ev.Time,
				Miles:   miles,
				Gallons: gallons,
				MPG:     miles / gallons,
			})
		}
		prevFullOdo = ev.Odometer
		gallons = 0
	}
	return out
}

func renderChart(ivals []interval, out *os.File) error {
	var (
		dates []string
		mpg   []opts.LineData
	)
	for _, iv := range ivals {
		dates = append(dates, iv.EndedAt.Format("Jan 2"))
		mpg = append(mpg, opts.LineData{
			Value: fmt.Sprintf("%.1f", iv.MPG),
			Name:  fmt.Sprintf("%.0f mi / %.1f gal", iv.Miles, iv.Gallons),
		})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fuel Economy", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fuel Economy", Subtitle: fmt.Sprintf("%d full-tank intervals", len(ivals))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MPG"}),
	)
	line.SetXAxis(dates)
	line.AddSeries("MPG", mpg,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return line.Render(out)
}

func main() {
	flag.Parse()

	st, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	fills, err := st.ListFills()
	if err != nil {
		log.Fatalf("Failed to read fill log: %v", err)
	}

	ivals := intervals(fills)
	if len(ivals) == 0 {
		log.Fatal("Not enough full fills with odometer readings to compute MPG")
	}

	f, err := os.Create(*outFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	if err := renderChart(ivals, f); err != nil {
		log.Fatalf("Failed to render chart: %v", err)
	}
	log.Printf("Wrote %s (%d intervals)", *outFile, len(ivals))
}
