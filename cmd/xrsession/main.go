package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/xrsession/internal/api"
	"github.com/banshee-data/xrsession/internal/backends/geolocation"
	"github.com/banshee-data/xrsession/internal/config"
	"github.com/banshee-data/xrsession/internal/db"
	"github.com/banshee-data/xrsession/internal/host"
	"github.com/banshee-data/xrsession/internal/host/window"
	"github.com/banshee-data/xrsession/internal/monitoring"
	"github.com/banshee-data/xrsession/internal/scene"
	"github.com/banshee-data/xrsession/internal/serialmux"
	"github.com/banshee-data/xrsession/internal/version"
	"github.com/banshee-data/xrsession/internal/xr"
	"github.com/banshee-data/xrsession/internal/xr/compat"
	"github.com/banshee-data/xrsession/internal/xr/frame"
	"github.com/banshee-data/xrsession/internal/xr/session"
)

var (
	configPath   = flag.String("config", config.DefaultConfigPath, "Session config file (JSON)")
	manifestPath = flag.String("manifest", "", "Scene manifest: an .hcl file or a directory of them")
	listen       = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath       = flag.String("db", "", "SQLite journal path (overrides config)")
	gpsPort      = flag.String("gps-port", "", "GPS receiver serial port (overrides config)")
	devMode      = flag.Bool("dev", false, "Replay canned NMEA sentences instead of opening a receiver")
	logLevel     = flag.String("log-level", "", "off, error, warn, info, debug or trace (overrides config)")
	useWindow    = flag.Bool("window", false, "Open a top-down view window instead of running headless")
	maxTicks     = flag.Uint64("max-ticks", 0, "Stop after this many frames (0 runs until interrupted)")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		log.Printf("xrsession %s built %s", version.String(), version.BuildTime)
		return
	}

	cfg, err := config.LoadSessionConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	monitoring.SetLevel(cfg.GetLogLevel(), os.Stderr)
	log.Printf("xrsession %s", version.String())

	plan, err := buildPlan(cfg, *manifestPath)
	if err != nil {
		log.Fatalf("failed to load manifest: %v", err)
	}

	var database *db.DB
	if path := cfg.GetDBPath(); path != "" {
		database, err = db.NewDB(path)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer database.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	receiver := openReceiver(cfg, database, *devMode)
	defer receiver.Close()
	if err := receiver.Initialise(); err != nil {
		log.Printf("failed to initialise receiver: %v", err)
	}
	if cfg.GetGPSPort() == "" && !*devMode {
		// Without a port on the command line, an enabled journal config may
		// still name one.
		if res, err := receiver.ReloadConfig(ctx); err != nil {
			monitoring.Diagf("receiver: no journal config applied: %v", err)
		} else {
			log.Printf("receiver: %s", res.Message)
		}
	}

	reg := session.New(session.Options{
		Policy: compat.Policy{ImmersiveExclusive: cfg.GetImmersiveExclusive()},
		OnEvent: func(ev session.Event) {
			if ev.Err != nil {
				monitoring.Opsf("session: %s %s: %v", ev.Type, ev.Kind, ev.Err)
			} else {
				monitoring.Diagf("session: %s %s (%s)", ev.Type, ev.Kind, ev.InstanceID)
			}
			if database == nil {
				return
			}
			if err := database.RecordSessionEvent(ev, time.Now()); err != nil {
				monitoring.Opsf("session: failed to journal event: %v", err)
			}
		},
	})
	defer reg.Close()

	res := xr.Resources{
		Scene:    scene.NewGroup("scene"),
		Camera:   scene.NewCamera(60),
		Renderer: scene.NewHeadlessRenderer(800, 600),
	}

	if err := plan.register(ctx, reg, res, receiver); err != nil {
		log.Fatalf("failed to start sessions: %v", err)
	}
	if b, ok := reg.Backend(xr.KindGeolocation); ok && database != nil {
		cancel := b.(*geolocation.Backend).Subscribe(func(f geolocation.Fix) {
			if err := database.RecordFix(f); err != nil {
				monitoring.Opsf("journal: failed to record fix: %v", err)
			}
		})
		defer cancel()
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := receiver.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor receiver: %v", err)
		}
		log.Print("receiver monitor terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, cfg.GetListen(), reg, database, receiver)
	}()

	disp := frame.New(reg, nil)
	if *useWindow {
		err = window.Run(ctx, disp, res, window.Config{TPS: int(cfg.GetHz())})
	} else {
		err = host.RunHeadless(ctx, disp, host.HeadlessConfig{Hz: cfg.GetHz(), MaxTicks: *maxTicks})
	}
	if err != nil {
		log.Printf("render loop stopped: %v", err)
	}

	// The render loop may end on its own (window closed, max ticks).
	stop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// applyFlags lets non-empty command-line values override the config file.
func applyFlags(cfg *config.SessionConfig) {
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *gpsPort != "" {
		cfg.GPSPort = gpsPort
	}
	if *logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

// devSentences drive the receiver in -dev mode: a fix near the default fake
// location, drifting a few metres north.
var devSentences = []string{
	"GPGGA,120000.00,5103.0000,N,00043.2000,W,1,08,0.9,12.0,M,47.0,M,,",
	"GPGGA,120001.00,5103.0030,N,00043.2000,W,1,08,0.9,12.0,M,47.0,M,,",
	"GPGGA,120002.00,5103.0060,N,00043.2000,W,1,08,0.9,12.0,M,47.0,M,,",
}

func openReceiver(cfg *config.SessionConfig, database *db.DB, dev bool) *api.ReceiverManager {
	opts := cfg.GetGPSSerial()
	factory := func(path string, o serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
		return serialmux.NewRealSerialMux(path, o)
	}

	var initial serialmux.SerialMuxInterface
	snap := api.ReceiverConfigSnapshot{Options: opts, Source: "disabled"}
	switch {
	case dev:
		initial = serialmux.NewMockSerialMux(devSentences, time.Second)
		snap.Source = "dev"
	case cfg.GetGPSPort() != "":
		m, err := serialmux.NewRealSerialMux(cfg.GetGPSPort(), opts)
		if err != nil {
			log.Printf("failed to open GPS receiver %s (%s), continuing without it: %v", cfg.GetGPSPort(), opts, err)
			initial = serialmux.NewDisabledSerialMux()
		} else {
			initial = m
			snap.PortPath = cfg.GetGPSPort()
			snap.Source = "config"
		}
	default:
		initial = serialmux.NewDisabledSerialMux()
	}
	return api.NewReceiverManager(database, initial, snap, factory)
}

func serveHTTP(ctx context.Context, addr string, reg *session.Registry, database *db.DB, receiver *api.ReceiverManager) {
	mux := api.NewServer(reg, database, receiver).ServeMux()
	receiver.AttachAdminRoutes(mux)
	if database != nil {
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach journal admin routes: %v", err)
		}
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
