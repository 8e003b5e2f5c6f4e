// Command navd runs the in-vehicle navigation daemon: it reads NMEA
// fixes from a GPS puck (serial) or a UDP feed, drives the navigation
// engine, and serves the HTTP API and telemetry websocket.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/navmiles/navmiles/internal/api"
	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/fuel"
	"github.com/navmiles/navmiles/internal/gps"
	"github.com/navmiles/navmiles/internal/hazard"
	"github.com/navmiles/navmiles/internal/nav"
	"github.com/navmiles/navmiles/internal/route"
	"github.com/navmiles/navmiles/internal/store"
	"github.com/navmiles/navmiles/internal/timeutil"
	"github.com/navmiles/navmiles/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "navmiles.db", "SQLite database path")
	tuningFile  = flag.String("tuning", "", "Optional tuning config JSON")
	serialPort  = flag.String("serial", "", "Serial port of the GPS puck (e.g. /dev/ttyUSB0)")
	baudRate    = flag.Int("baud", gps.DefaultBaudRate, "Serial baud rate")
	udpAddr     = flag.String("udp", "", "UDP listen address for NMEA feeds (e.g. :10110)")
	fixture     = flag.String("fixture", "", "Replay NMEA sentences from a file instead of live input")
	mapsAPIKey  = flag.String("maps-key", os.Getenv("MAPS_API_KEY"), "Google Maps API key")
	tankGallons = flag.Float64("tank", 15, "Fuel tank capacity in gallons")
	epaMPG      = flag.Float64("epa-mpg", 28, "EPA combined MPG for the vehicle")
)

// consoleAnnouncer writes guidance to the log. A phone front end would
// subscribe to the telemetry websocket and do TTS instead.
type consoleAnnouncer struct{}

func (consoleAnnouncer) Speak(text string) {
	log.Printf("[speak] %s", text)
}

func (consoleAnnouncer) Notify(key, title, body string) {
	log.Printf("[notify %s] %s: %s", key, title, body)
}

func (consoleAnnouncer) CancelAll() {
	log.Print("[speak] (cancelled)")
}

func openSource(clock timeutil.Clock) (gps.Source, error) {
	switch {
	case *fixture != "":
		f, err := os.Open(*fixture)
		if err != nil {
			return nil, err
		}
		return gps.NewMux(f, clock, *fixture), nil
	case *serialPort != "":
		return gps.OpenSerial(*serialPort, *baudRate, clock)
	default:
		return gps.ListenUDP(*udpAddr, clock)
	}
}

// restoreFuel rebuilds the fuel model from the persisted level and fill
// log. A fresh database starts with a full tank.
func restoreFuel(cfg *config.TuningConfig, clock timeutil.Clock, st *store.Store) (*fuel.Model, error) {
	gallons := *tankGallons
	if v, ok, err := st.GetKV(nav.KVFuelGallons); err != nil {
		return nil, err
	} else if ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			gallons = parsed
		}
	}
	fills, err := st.ListFills()
	if err != nil {
		return nil, err
	}
	return fuel.NewModel(cfg, clock, *tankGallons, *epaMPG, gallons, fills), nil
}

func main() {
	flag.Parse()
	log.Printf("navd %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *serialPort == "" && *udpAddr == "" && *fixture == "" {
		log.Fatal("One of -serial, -udp or -fixture is required")
	}
	if *mapsAPIKey == "" {
		log.Fatal("A Maps API key is required (-maps-key or MAPS_API_KEY)")
	}

	cfg := config.Default()
	if *tuningFile != "" {
		var err error
		cfg, err = config.Load(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	clock := timeutil.RealClock{}

	st, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	fuelModel, err := restoreFuel(cfg, clock, st)
	if err != nil {
		log.Fatalf("Failed to restore fuel state: %v", err)
	}
	if v, ok, err := st.GetKV(nav.KVLastDrain); err == nil && ok {
		log.Printf("fuel level %.1f gal, last drained %s", fuelModel.Gallons(), v)
	}

	src, err := openSource(clock)
	if err != nil {
		log.Fatalf("Failed to open GPS source: %v", err)
	}
	defer src.Close()

	engine := nav.NewEngine(nav.Deps{
		Cfg:       cfg,
		Clock:     clock,
		Router:    route.NewClient(*mapsAPIKey, nil),
		Announcer: consoleAnnouncer{},
		Store:     st,
		Fuel:      fuelModel,
		Board:     hazard.NewBoard(cfg, clock),
	})
	if err := engine.RestoreHazards(); err != nil {
		log.Printf("Failed to restore hazards: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// GPS read loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		gps.RunSource(ctx, src)
		log.Print("gps routine terminated")
	}()

	// Feed fixes from the GPS source into the engine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, fixes := src.Subscribe()
		defer src.Unsubscribe(id)
		for {
			select {
			case fix, ok := <-fixes:
				if !ok {
					return
				}
				if err := engine.ProcessFix(ctx, fix); err != nil {
					log.Printf("error processing fix: %v", err)
				}
			case <-ctx.Done():
				log.Print("fix routine terminated")
				return
			}
		}
	}()

	// Guidance cadence.
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
		engine.FlushTrip()
		log.Print("guidance routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(engine, st).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("Graceful shutdown complete")
}
