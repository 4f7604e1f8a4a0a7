package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/flirble-lb/flirble-dns-server/internal/config"
	"github.com/flirble-lb/flirble-dns-server/internal/configfeed"
	"github.com/flirble-lb/flirble-dns-server/internal/dispatcher"
	"github.com/flirble-lb/flirble-dns-server/internal/geo"
	"github.com/flirble-lb/flirble-dns-server/internal/geocache"
	"github.com/flirble-lb/flirble-dns-server/internal/idle"
	"github.com/flirble-lb/flirble-dns-server/internal/listener"
	"github.com/flirble-lb/flirble-dns-server/internal/logging"
	"github.com/flirble-lb/flirble-dns-server/internal/servertable"
	"github.com/flirble-lb/flirble-dns-server/internal/zonetable"
)

// Build information set via -ldflags during build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		cfgPath  string
		testOnly bool
		showVer  bool
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "flirbledns - geo-aware authoritative DNS server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: flirbledns [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fmt.Fprintf(os.Stderr, "  -c, -config <file>   Path to config file (default: config.yaml)\n")
		fmt.Fprintf(os.Stderr, "  -t, -test            Validate config and exit\n")
		fmt.Fprintf(os.Stderr, "  -v, -version         Print version and exit\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  FLIRBLE_CONFIG       Config file path (overridden by -c flag)\n")
		fmt.Fprintf(os.Stderr, "  FLIRBLE_LISTEN, FLIRBLE_DEBUG, FLIRBLE_RETHINKDB_*, FLIRBLE_GEOIP_PATH\n")
	}

	flag.StringVar(&cfgPath, "c", "", "")
	flag.StringVar(&cfgPath, "config", "", "")
	flag.BoolVar(&testOnly, "t", false, "")
	flag.BoolVar(&testOnly, "test", false, "")
	flag.BoolVar(&showVer, "v", false, "")
	flag.BoolVar(&showVer, "version", false, "")
	flag.Parse()

	if showVer {
		fmt.Printf("flirbledns %s\n", Version)
		fmt.Printf("  Commit:    %s\n", GitCommit)
		fmt.Printf("  Built:     %s\n", BuildDate)
		fmt.Printf("  Go:        %s\n", runtime.Version())
		fmt.Printf("  Platform:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	if cfgPath == "" {
		cfgPath = os.Getenv("FLIRBLE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if testOnly {
		fmt.Printf("Config OK: %s\n", cfgPath)
		return
	}

	log := logging.New(cfg.Debug)

	geoInst, err := geo.New(cfg.GeoIP.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to open geoip database")
	}
	defer geoInst.Close()

	zones := zonetable.New()
	servers := servertable.New()
	cache := geocache.New()

	feed, err := configfeed.Connect(cfg.RethinkDB, zones, servers, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to config feed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed.Start(ctx)
	go idle.Run(ctx, cache, time.Duration(cfg.Performance.IdleIntervalSec)*time.Second, log)

	disp := dispatcher.New(zones, servers, geoInst, cache, log)
	lst := listener.New(cfg.Listen, disp, cfg.Performance.MaxHandlerThreads, log)

	if err := lst.Start(); err != nil {
		log.WithError(err).Fatal("failed to start listeners")
	}
	log.WithField("listen", cfg.Listen).Info("flirbledns started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()
	if err := lst.Shutdown(); err != nil {
		log.WithError(err).Warn("listener shutdown reported an error")
	}
	feed.Wait()
}
