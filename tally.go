package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tallyops/tally/admin"
	"github.com/tallyops/tally/cache"
	"github.com/tallyops/tally/cfg"
	"github.com/tallyops/tally/coordinator"
	"github.com/tallyops/tally/datastore"
	"github.com/tallyops/tally/events"
	"github.com/tallyops/tally/schema"
	"github.com/tallyops/tally/telemetry"
	"github.com/tallyops/tally/validate"
)

func main() {
	flag.Parse()

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("process_id", cfg.Config.ProcessID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Tally - back-office write transactions")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Validation rules
	rules := schema.Default()
	if cfg.Config.Rules.File != "" {
		var err error
		rules, err = schema.LoadFile(cfg.Config.Rules.File)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Config.Rules.File).Msg("Failed to load validation rules")
			return
		}
		log.Info().Str("path", cfg.Config.Rules.File).Msg("Loaded validation rules")
	}

	// Datastore collaborator
	store, cleanup, err := buildStore()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize datastore")
		return
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Cache invalidation
	var invalidator *cache.Invalidator
	if cfg.Config.Cache.Enabled {
		deps := cache.DefaultDependencyMap()
		if cfg.Config.Cache.DependencyFile != "" {
			deps, err = cache.LoadDependencyMap(cfg.Config.Cache.DependencyFile)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to load cache dependency map")
				return
			}
		}
		invalidator = cache.NewInvalidator(deps, cache.NewMemoryCache())
	}

	engine := validate.NewEngine(rules, store, validate.WithProbeCache(
		cfg.Config.Coordinator.ProbeCacheSize,
		time.Duration(cfg.Config.Coordinator.ProbeCacheTTLMS)*time.Millisecond,
	))

	opts := []coordinator.Option{
		coordinator.WithRecentResults(cfg.Config.Coordinator.RecentResults),
	}

	// Post-commit event publishing
	if cfg.Config.Events.Enabled {
		publisher, err := buildPublisher()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize event publisher")
			return
		}
		defer publisher.Close()
		opts = append(opts, coordinator.WithNotifier(publisher))
	}

	wc := coordinator.NewWriteCoordinator(store, rules, engine, invalidator, opts...)
	log.Info().
		Str("backend", string(cfg.Config.Datastore.Backend)).
		Bool("cache", invalidator != nil).
		Msg("Write coordinator initialized")

	// Admin surface
	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
		adminServer = admin.NewServer(addr, wc.Recent())
		adminServer.Start()
	}

	log.Info().Uint64("process_id", cfg.Config.ProcessID).Msg("Tally is operational")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminServer.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
	}
}

func buildStore() (datastore.Store, func(), error) {
	switch cfg.Config.Datastore.Backend {
	case cfg.BackendREST:
		timeout := time.Duration(cfg.Config.Datastore.TimeoutMS) * time.Millisecond
		return datastore.NewRESTClient(cfg.Config.Datastore.BaseURL, timeout), nil, nil
	case cfg.BackendSQLite:
		store, err := datastore.OpenSQLiteStore(cfg.Config.Datastore.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case cfg.BackendMemory:
		return datastore.NewMemoryStore(schema.Default().Tables()...), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown datastore backend %q", cfg.Config.Datastore.Backend)
}

func buildPublisher() (*events.Publisher, error) {
	var sink events.Sink
	switch cfg.Config.Events.Sink {
	case "nats":
		natsSink, err := events.NewNatsSink(cfg.Config.Events.NatsURL)
		if err != nil {
			return nil, err
		}
		sink = natsSink
	default:
		sink = events.NewLogSink()
	}
	return events.NewPublisher(sink, cfg.Config.Events.SubjectPrefix, cfg.Config.Events.TablePatterns)
}
