package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mailquote/mailquote/internal/config"
	"github.com/mailquote/mailquote/internal/crypto"
	"github.com/mailquote/mailquote/internal/intent"
	"github.com/mailquote/mailquote/internal/oauth"
	"github.com/mailquote/mailquote/internal/outbound"
	"github.com/mailquote/mailquote/internal/pricing"
	"github.com/mailquote/mailquote/internal/quote"
	"github.com/mailquote/mailquote/internal/scheduler"
	"github.com/mailquote/mailquote/internal/storage"
	"github.com/mailquote/mailquote/internal/tenant"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	quoteDir := flag.String("quotes", "./quotes", "directory for rendered quote documents")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(*configPath, *quoteDir, logger); err != nil {
		logger.Fatal().Err(err).Msg("Fatal error")
	}
}

func run(configPath, quoteDir string, logger zerolog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	logger.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	sealer, err := crypto.NewSealer(cfg.Crypto.Key)
	if err != nil {
		return fmt.Errorf("invalid crypto key: %w", err)
	}
	oauthMgr := oauth.NewManager(cfg.OAuth, logger)

	resolver := tenant.NewResolver(store, cfg.Pricing, logger)
	classifier := intent.NewClassifier(cfg.LLM, logger)
	pricer := pricing.NewEngine(cfg.Pricing, logger)

	renderer, err := quote.NewPDFRenderer(quoteDir)
	if err != nil {
		return err
	}

	// The pipeline is built in two steps: the submission sender needs
	// the pipeline's token lookup, and the orchestrator needs the
	// sender.
	pipeline := scheduler.NewPipeline(store, oauthMgr, sealer, resolver, nil, logger)
	oauthMgr.Persist = pipeline.PersistBundle

	sender, err := outbound.NewSender(cfg.Outbound, pipeline.AccessTokenFor, logger)
	if err != nil {
		return err
	}

	orch := quote.NewOrchestrator(store, resolver, classifier, pricer, sender, renderer, logger)
	pipeline.SetProcessor(orch)

	sched := scheduler.New(store, cfg.Scheduler, pipeline.Tick, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	logger.Info().Msg("Polling started")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	sched.Stop()

	return nil
}
