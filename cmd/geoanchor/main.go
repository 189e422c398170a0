package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/geoanchor/internal/api"
	"github.com/banshee-data/geoanchor/internal/config"
	"github.com/banshee-data/geoanchor/internal/db"
	"github.com/banshee-data/geoanchor/internal/lifecycle"
	"github.com/banshee-data/geoanchor/internal/monitoring"
	"github.com/banshee-data/geoanchor/internal/positioning/sim"
	"github.com/banshee-data/geoanchor/internal/reconcile"
	"github.com/banshee-data/geoanchor/internal/timeutil"
	"github.com/banshee-data/geoanchor/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON tuning config (optional)")
	tracePath   = flag.String("trace", "", "JSONL frame trace to replay (default: generated)")
	listen      = flag.String("listen", ":8090", "Listen address")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config db_path)")
	ackPrivacy  = flag.Bool("ack-privacy", false, "Acknowledge the privacy notice and continue")
	showVersion = flag.Bool("version", false, "Print version and exit")
	logDiag     = flag.Bool("log-diag", false, "Log state transitions and anchor lifecycle")
	logTrace    = flag.Bool("log-trace", false, "Log per-frame telemetry")
	healthEvery = flag.Duration("health-interval", 30*time.Second, "Interval between frame loop health lines (0 disables)")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: geoanchor [flags]")
	fmt.Fprintln(out, "       geoanchor migrate <command>")
	fmt.Fprintln(out, "       geoanchor ctl [-addr URL] <status|add|add-terrain|clear|restart|summary>")
	fmt.Fprintln(out, "       geoanchor gen-trace [-o file] [-lat N -lon N]")
	fmt.Fprintln(out)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}

	if args := flag.Args(); len(args) > 0 {
		os.Exit(runSubcommand(args, cfg))
	}

	configureLogging(os.Stderr, *logDiag, *logTrace)
	log.Print(version.String())

	if err := serve(cfg); err != nil {
		if errors.Is(err, ErrPrivacyNotAcknowledged) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.EmptyConfig(), nil
	}
	return config.LoadConfig(path)
}

func runSubcommand(args []string, cfg *config.Config) int {
	var err error
	switch args[0] {
	case "migrate":
		err = db.RunMigrateCommand(args[1:], cfg.GetDBPath(), os.Stdin, os.Stdout)
	case "ctl":
		err = runCtl(context.Background(), args[1:], nil, os.Stdout)
	case "gen-trace":
		err = runGenTrace(args[1:], cfg, os.Stdout)
	default:
		flag.Usage()
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

// configureLogging routes the per-package ops/diag/trace streams. Ops is
// always on; diag and trace are opt-in.
func configureLogging(w io.Writer, diag, trace bool) {
	var diagW, traceW io.Writer
	if diag {
		diagW = w
	}
	if trace {
		traceW = w
	}
	reconcile.SetLogWriters(w, diagW, traceW)
	lifecycle.SetLogWriters(w, diagW, traceW)
	sim.SetLogWriters(w, diagW, traceW)
	monitoring.SetLogger(log.New(w, "", log.LstdFlags|log.Lmicroseconds).Printf)
}

func serve(cfg *config.Config) error {
	st, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open %s persistence: %w", cfg.GetPersistence(), err)
	}
	defer st.close()

	if err := checkPrivacy(st.store, *ackPrivacy, os.Stderr); err != nil {
		return err
	}

	frames, err := loadTrace(*tracePath, cfg)
	if err != nil {
		return fmt.Errorf("load trace: %w", err)
	}
	clock := timeutil.RealClock{}
	runner, _, err := buildRunner(cfg, frames, st, clock)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// frame loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			log.Printf("frame loop stopped: %v", err)
		}
		log.Print("frame loop terminated")
	}()

	if *healthEvery > 0 {
		reporter := monitoring.NewHealthReporter(clock, *healthEvery, func() monitoring.Snapshot {
			latest := runner.Latest()
			return monitoring.Snapshot{
				SessionID:   latest.SessionID,
				State:       string(latest.State),
				Frames:      runner.Frames(),
				AnchorCount: latest.AnchorCount,
			}
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter.Run(ctx)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(runner, st.history, clock).ServeMux()
		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}
