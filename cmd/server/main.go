/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and configuration (env > file > defaults)
  2. Configure zerolog
  3. Load and validate the level catalog (fatal on bad partition)
  4. Initialize SQLite store
  5. Start the event dispatcher
  6. Wire engine, ledger, dispute workflow, metrics
  7. Start HTTP server with graceful shutdown

CONFIGURATION:
  Environment variables with POINTS_ prefix, or a yaml file via -config:
    POINTS_ADDR                  Listen address (default :8080)
    POINTS_DB_PATH               SQLite path, ":memory:" for in-memory
    POINTS_LEVELS_FILE           YAML level catalog (default built-in)
    POINTS_DISPUTE_WINDOW_HOURS  Dispute eligibility window (default 72)
    POINTS_MIN_REASON_LENGTH     Minimum dispute reason length (default 10)
    POINTS_LOG_LEVEL             zerolog level (default info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the event dispatcher
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/dispute"
	"github.com/warp/points-engine/metrics"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "optional yaml config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.LogLevel)

	// Level catalog. A table that does not partition [0, inf) is a fatal
	// configuration error; refusing to start beats serving wrong levels.
	levels := points.DefaultCatalog()
	if cfg.LevelsFile != "" {
		levels, err = points.LoadCatalogFile(cfg.LevelsFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.LevelsFile).Msg("invalid level catalog")
		}
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	m := metrics.New()

	dispatcher := points.NewDispatcher(cfg.EventWorkers, cfg.EventBuffer, log)
	dispatcher.OnDrop = m.EventsDropped.Inc
	dispatcher.Subscribe(func(e points.Event) {
		log.Debug().
			Str("event", string(e.Type)).
			Str("account_id", string(e.AccountID)).
			Msg("domain event")
	})

	engine := points.NewEngine(store, levels)
	engine.Events = dispatcher
	engine.Log = log

	ledger := points.NewLedger(store)

	workflow := dispute.NewWorkflow(store, ledger, engine, cfg.DisputeWindow(), cfg.MinReasonLength)
	workflow.Events = dispatcher
	workflow.Log = log

	handler := api.NewHandler(engine, workflow, ledger, store, store, levels)
	handler.Metrics = m
	handler.Log = log

	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("db", cfg.DBPath).
			Int("dispute_window_hours", cfg.DisputeWindowHours).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("event dispatcher drain timed out")
	}

	log.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
