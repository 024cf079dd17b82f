// Command fusiond runs the multi-sensor fusion engine behind an HTTP API
// and a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/fusion.report/internal/api"
	"github.com/banshee-data/fusion.report/internal/config"
	"github.com/banshee-data/fusion.report/internal/fusion/pipeline"
	"github.com/banshee-data/fusion.report/internal/fusion/synthetic"
	"github.com/banshee-data/fusion.report/internal/monitoring"
	"github.com/banshee-data/fusion.report/internal/storage/sqlite"
	"github.com/banshee-data/fusion.report/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to tuning config JSON (defaults built in when empty)")
	dbPath       = flag.String("db", "fusion.db", "SQLite track history database (empty disables persistence)")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen   = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	interval     = flag.Duration("interval", 0, "Override the periodic cycle interval from config (0 keeps config)")
	maxCycleRate = flag.Float64("max-cycle-rate", 0, "Override the max cycles per second from config")
	devMode      = flag.Bool("dev", false, "Feed the engine from the synthetic lidar/camera/radar generator")
	devSeed      = flag.Int64("dev-seed", 1, "Seed for the synthetic generator")
	debugLog     = flag.Bool("debug", false, "Log recoverable cycle skips and per-cycle traces")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// runnerConfig merges the tuning file with command-line overrides. set
// reports whether a flag was given explicitly.
func runnerConfig(tc *config.TuningConfig, set func(name string) bool) pipeline.RunnerConfig {
	rc := pipeline.RunnerConfig{
		Interval:     tc.GetCycleInterval(),
		OnIngest:     tc.GetCycleOnIngest(),
		MaxCycleRate: tc.GetMaxCycleRate(),
	}
	if set("interval") {
		rc.Interval = *interval
	}
	if set("max-cycle-rate") {
		rc.MaxCycleRate = *maxCycleRate
	}
	return rc
}

func flagWasSet() func(string) bool {
	given := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { given[f.Name] = true })
	return func(name string) bool { return given[name] }
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return &config.TuningConfig{}, nil
	}
	return config.LoadTuningConfig(path)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	monitoring.SetDebug(*debugLog)
	if *debugLog {
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		pipeline.SetLogWriters(os.Stderr, nil, nil)
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg, err := tuning.FusionConfig()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	health := api.NewHealthReporter()
	engineOpts := []pipeline.Option{pipeline.WithObserver(health)}

	var db *sqlite.DB
	var store *sqlite.TrackStore
	if *dbPath != "" {
		db, err = sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open track database: %v", err)
		}
		defer db.Close()
		store = sqlite.NewTrackStore(db, nil)
		engineOpts = append(engineOpts, pipeline.WithObserver(store))
	}

	engine, err := pipeline.NewEngine(cfg, engineOpts...)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}
	runner := pipeline.NewRunner(engine, runnerConfig(tuning, flagWasSet()))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			log.Printf("fusion runner stopped: %v", err)
			stop()
		}
		log.Print("runner routine terminated")
	}()

	if *devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSynthetic(ctx, engine, *devSeed)
			log.Print("synthetic feed terminated")
		}()
	}

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", *grpcListen, err)
		}
		grpcServer := grpc.NewServer()
		health.Register(grpcServer)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC health listening on %s", *grpcListen)
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			health.Shutdown()
			grpcServer.GracefulStop()
			log.Print("gRPC server stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiOpts := []api.Option{api.WithRunner(runner), api.WithHealth(health)}
		if store != nil {
			apiOpts = append(apiOpts, api.WithHistory(store))
		}
		apiServer := api.NewServer(engine, apiOpts...)
		mux := apiServer.ServeMux()
		if err := apiServer.AttachDebugRoutes(mux, db); err != nil {
			log.Printf("debug routes disabled: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP API listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// runSynthetic feeds one generator frame per frame period until ctx ends.
func runSynthetic(ctx context.Context, reg synthetic.Registrar, seed int64) {
	g := synthetic.NewGenerator(seed, time.Now())
	period := time.Duration(float64(time.Second) / g.FrameRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.Printf("synthetic feed: %d objects at %.0f Hz", g.ObjectCount, g.FrameRate)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Feed(reg)
		}
	}
}
