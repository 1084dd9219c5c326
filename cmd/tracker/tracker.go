// Command tracker follows one high-altitude balloon flight: it ingests
// telemetry from a serial radio receiver and an HTTP relay, smooths the
// motion estimates, detects landing, arbitrates between the feeds and
// keeps an externally predicted trajectory warm, serving everything
// over a status HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrel-data/recovery.report/internal/api"
	"github.com/kestrel-data/recovery.report/internal/arbiter"
	"github.com/kestrel-data/recovery.report/internal/config"
	"github.com/kestrel-data/recovery.report/internal/feed"
	"github.com/kestrel-data/recovery.report/internal/httputil"
	"github.com/kestrel-data/recovery.report/internal/landing"
	"github.com/kestrel-data/recovery.report/internal/monitoring"
	"github.com/kestrel-data/recovery.report/internal/motion"
	"github.com/kestrel-data/recovery.report/internal/pipeline"
	"github.com/kestrel-data/recovery.report/internal/predict"
	"github.com/kestrel-data/recovery.report/internal/storage/sqlite"
	"github.com/kestrel-data/recovery.report/internal/timeutil"
	"github.com/kestrel-data/recovery.report/internal/version"
)

var (
	subject          = flag.String("subject", "", "flight/sonde serial to track (required)")
	serialDevice     = flag.String("serial", "", "radio receiver serial device (empty disables the primary feed)")
	serialBaud       = flag.Int("baud", 57600, "radio receiver baud rate")
	fallbackURL      = flag.String("fallback-url", "", "base URL of the fallback telemetry relay (empty disables)")
	fallbackInterval = flag.Duration("fallback-interval", 15*time.Second, "fallback relay poll interval")
	predictorURL     = flag.String("predictor-url", "", "base URL of the trajectory predictor (empty disables predictions)")
	burstAltitude    = flag.Float64("burst-altitude", 30000, "expected burst altitude in metres")
	dbFile           = flag.String("db", "tracker.db", "path to the SQLite database file")
	listen           = flag.String("listen", ":8080", "HTTP listen address")
	tuningFile       = flag.String("tuning", "", "tuning config JSON (empty uses built-in defaults)")
	speedUnits       = flag.String("units", "mps", "speed units for the status API (mps, mph, kmph, kph)")
	verbose          = flag.Bool("verbose", false, "log every received frame")
)

func main() {
	flag.Parse()
	monitoring.Verbose = *verbose

	if *subject == "" {
		log.Fatal("missing required -subject flag")
	}

	tuning, err := loadTuning()
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	db, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", *dbFile, err)
	}
	defer db.Close()

	clock := timeutil.RealClock{}
	registry := prometheus.NewRegistry()

	var dispatcher *predict.Dispatcher
	if *predictorURL != "" {
		httpClient := httputilClient()
		dispatcher = predict.NewDispatcher(
			predict.DispatcherConfigFromTuning(tuning),
			predict.NewClient(httpClient, *predictorURL),
			clock,
			predict.NewMetrics(registry),
		)
	}

	pipeCfg := pipeline.ConfigFromTuning(tuning)
	pipeCfg.Subject = *subject
	pipeCfg.BurstAltitudeM = *burstAltitude
	if dispatcher == nil {
		pipeCfg.PredictionInterval = 0
	}

	pipe := pipeline.New(
		pipeCfg,
		motion.NewFilter(motion.ConfigFromTuning(tuning), *subject),
		landing.NewDetector(landing.ConfigFromTuning(tuning), clock),
		arbiter.New(arbiter.ConfigFromTuning(tuning), clock),
		dispatcher,
		db,
		clock,
	)

	server := api.NewServer(dispatcher, db, *subject, *speedUnits, registry)
	pipe.OnPosition = server.UpdatePosition
	pipe.OnLanding = func(ev pipeline.LandingEvent) {
		server.UpdateLanding(ev)
		if ev.Landed {
			monitoring.Logf("LANDED: %s at %.5f,%.5f (confidence %.2f)",
				ev.Subject, ev.Position.Lat, ev.Position.Lon, ev.Confidence)
		} else {
			monitoring.Logf("AIRBORNE AGAIN: %s (confidence %.2f)", ev.Subject, ev.Confidence)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("pipeline failed: %v", err)
		}
	}()

	if *fallbackURL != "" {
		poller := feed.NewPoller(*fallbackURL, *subject, *fallbackInterval,
			httputilClient(), clock, pipe.OnFallbackTelemetry)
		pipe.OnFlags = func(f arbiter.Flags) {
			poller.SetEnabled(f.ShouldEnableFallbackPolling)
		}
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Fatalf("fallback poller failed: %v", err)
			}
		}()
	}

	if *serialDevice != "" {
		port, err := feed.OpenPort(*serialDevice, feed.PortOptions{BaudRate: *serialBaud})
		if err != nil {
			log.Fatalf("failed to open serial device %s: %v", *serialDevice, err)
		}
		gateway := feed.NewGateway(port, pipe.OnPrimaryTelemetry)
		defer gateway.Close()
		go func() {
			if err := gateway.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Fatalf("serial gateway failed: %v", err)
			}
		}()
	}

	pipe.StartupComplete()
	monitoring.Logf("tracker %s: tracking %s, listening on %s", version.Version, *subject, *listen)

	httpServer := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(server.ServeMux()),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

func loadTuning() (*config.TuningConfig, error) {
	if *tuningFile == "" {
		return config.MustLoadDefaultConfig(), nil
	}
	return config.LoadTuningConfig(*tuningFile)
}

func httputilClient() *httputil.StandardClient {
	return httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
}
