// Package main provides the dadgar gateway entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/parslaw/dadgar/internal/compose"
	"github.com/parslaw/dadgar/internal/config"
	dbgorm "github.com/parslaw/dadgar/internal/db/gorm"
	"github.com/parslaw/dadgar/internal/llm"
	"github.com/parslaw/dadgar/internal/prompt"
	"github.com/parslaw/dadgar/internal/quota"
	"github.com/parslaw/dadgar/internal/router"
	"github.com/parslaw/dadgar/internal/session"
	"github.com/parslaw/dadgar/internal/tokens"
	"github.com/parslaw/dadgar/internal/turn"
	"github.com/parslaw/dadgar/internal/watcher"
	"github.com/parslaw/dadgar/internal/worker"
	"github.com/parslaw/dadgar/internal/worker/sse"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	port := flag.Int("port", 0, "Listen port (overrides settings)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load settings, using defaults")
		cfg = config.Default()
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if _, err := config.LoadPolicy(); err != nil {
		log.Fatal().Err(err).Msg("failed to load routing policy")
	}

	apiKey := os.Getenv("DADGAR_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		log.Warn().Msg("no API key configured, backend calls will fail")
	}

	store, err := dbgorm.NewStore(dbgorm.Config{
		Path:     config.DBPath(),
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	sessions, err := session.Open(cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer sessions.Close()

	registry, err := prompt.NewRegistry(context.Background(), dbgorm.NewPromptStore(store), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load prompt registry")
	}

	client := llm.NewClient(llm.ClientConfig{
		BaseURL:         cfg.BackendURL,
		APIKey:          apiKey,
		Model:           cfg.Model,
		ClassifierModel: cfg.ClassifierModel,
	})

	metrics, err := turn.NewMetrics()
	if err != nil {
		log.Warn().Err(err).Msg("failed to create metrics, continuing without")
	}

	estimator := tokens.NewEstimator()
	pipeline := turn.NewPipeline(turn.Deps{
		Sessions:  sessions,
		Decisions: dbgorm.NewSessionStore(store),
		Registry:  registry,
		Router:    router.New(client, nil),
		Composer:  compose.New(estimator, nil),
		Estimator: estimator,
		Enforcer:  quota.NewEnforcer(dbgorm.NewQuotaStore(store), quota.NewStaticBilling()),
		Completer: client,
		Metrics:   metrics,
	})

	svc := worker.NewService(worker.ServiceDeps{
		Version:  Version,
		Config:   cfg,
		Store:    store,
		Pipeline: pipeline,
		Registry: registry,
	})

	policyWatcher, err := watcher.New(config.PolicyPath(), func() {
		if err := config.ReloadPolicy(); err != nil {
			log.Error().Err(err).Msg("policy reload failed, keeping previous policy")
			return
		}
		svc.Events().Publish(sse.Event{Type: sse.EventPolicyReloaded})
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to create policy watcher")
	} else if err := policyWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to start policy watcher")
	} else {
		defer policyWatcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(svc.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited with error")
	}
	log.Info().Msg("gateway stopped")
}
