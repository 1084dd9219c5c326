// Command flightreport renders an HTML post-flight report from a
// persisted track: altitude profile, ground speed and climb rate over
// time, plus the recorded flight sessions.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kestrel-data/recovery.report/internal/storage/sqlite"
	"github.com/kestrel-data/recovery.report/internal/telemetry"
)

var (
	dbFile  = flag.String("db", "tracker.db", "path to the SQLite database file")
	subject = flag.String("subject", "", "flight/sonde serial to report on (required)")
	outFile = flag.String("out", "flight_report.html", "output HTML file")
)

func main() {
	flag.Parse()

	if *subject == "" {
		log.Fatal("missing required -subject flag")
	}

	db, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", *dbFile, err)
	}
	defer db.Close()

	track, err := db.LoadTrack(*subject)
	if err != nil {
		log.Fatalf("failed to load track for %s: %v", *subject, err)
	}
	if track == nil || track.Len() == 0 {
		log.Fatalf("no persisted track for %s", *subject)
	}

	sessions, err := db.GetSessions(*subject, 1)
	if err != nil {
		log.Fatalf("failed to load sessions for %s: %v", *subject, err)
	}

	page := components.NewPage()
	page.AddCharts(
		altitudeChart(track, sessions),
		speedChart(track),
	)

	f, err := os.Create(*outFile)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *outFile, err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s (%d points)", *outFile, track.Len())
}

func timeAxis(track *telemetry.Track) []string {
	axis := make([]string, track.Len())
	for i, p := range track.Points {
		axis[i] = p.Time.UTC().Format("15:04:05")
	}
	return axis
}

func altitudeChart(track *telemetry.Track, sessions []*sqlite.FlightSession) *charts.Line {
	data := make([]opts.LineData, track.Len())
	maxAlt := 0.0
	for i, p := range track.Points {
		data[i] = opts.LineData{Value: p.AltitudeM}
		if p.AltitudeM > maxAlt {
			maxAlt = p.AltitudeM
		}
	}

	subtitle := fmt.Sprintf("max altitude %.0f m", maxAlt)
	if len(sessions) > 0 && sessions[0].LandedAt != nil {
		subtitle += fmt.Sprintf(", landed %s", sessions[0].LandedAt.UTC().Format(time.RFC3339))
		if pos := sessions[0].LandingPosition; pos != nil {
			subtitle += fmt.Sprintf(" at %.5f,%.5f", pos.Lat, pos.Lon)
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Flight report", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Altitude", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Altitude (m)"}),
	)
	line.SetXAxis(timeAxis(track))
	line.AddSeries("altitude", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

func speedChart(track *telemetry.Track) *charts.Line {
	horizontal := make([]opts.LineData, track.Len())
	vertical := make([]opts.LineData, track.Len())
	for i, p := range track.Points {
		horizontal[i] = opts.LineData{Value: p.HorizontalMps}
		vertical[i] = opts.LineData{Value: p.VerticalMps}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Flight report", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Speeds", Subtitle: "raw telemetry, m/s"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Speed (m/s)"}),
	)
	line.SetXAxis(timeAxis(track))
	line.AddSeries("ground speed", horizontal,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	line.AddSeries("climb rate", vertical,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}
