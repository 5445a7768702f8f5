package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"guidebot/internal/adapter/channel"
	"guidebot/internal/adapter/reasoner"
	"guidebot/internal/adapter/store"
	"guidebot/internal/domain"
	"guidebot/internal/infra/config"
	"guidebot/internal/infra/logger"
	"guidebot/internal/infra/tracer"
	"guidebot/internal/usecase"
	"guidebot/internal/usecase/agents"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "guidebot:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown error", "error", err)
		}
	}()

	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("store opened", "path", cfg.Store.Path)

	var llm domain.Reasoner
	bedrock, err := reasoner.NewBedrockReasoner(cfg.Reasoner, log)
	if err != nil {
		return err
	}
	llm = bedrock
	if cfg.Reasoner.CircuitBreaker.Enabled {
		llm = reasoner.NewCircuitBreakerReasoner(bedrock, cfg.Reasoner.CircuitBreaker, log)
	}

	cultural := agents.NewCulturalAgent(llm, log)
	guide := agents.NewGuideAgent(llm, db, db, log)
	booking := agents.NewBookingAgent(llm, db, db, log)
	registration := agents.NewRegistrationAgent(llm, db, db, log)
	tourist := agents.NewTouristAgent(llm, cultural, guide, booking, registration, db, cfg.Session.Timeout, log)

	registry := usecase.NewRegistry(log)
	for _, a := range []domain.Agent{tourist, cultural, guide, booking, registration} {
		if err := registry.Register(a); err != nil {
			return err
		}
	}

	sessions := usecase.NewSessionManager()
	memory := usecase.NewMemoryService(db, log)
	strands := usecase.NewStrandManager(db, log)

	orch, err := usecase.NewOrchestrator(registry, sessions, memory, strands, db, cfg.Dedup.TTL, log)
	if err != nil {
		return err
	}

	wa := channel.NewWhatsAppChannel(
		cfg.Channel.WhatsApp.Token,
		cfg.Channel.WhatsApp.PhoneID,
		cfg.Channel.WhatsApp.VerifyToken,
		cfg.Channel.WhatsApp.AppSecret,
		cfg.Channel.WhatsApp.WebhookAddr,
		cfg.Channel.SendRate,
		cfg.Channel.SendBurst,
		log,
	)

	handler := func(ctx context.Context, in domain.InboundMessage) error {
		result, err := orch.ProcessMessage(ctx, in)
		if err != nil {
			log.Error("message processing failed", "user_id", in.SenderID, "error", err)
			return wa.Send(ctx, domain.OutboundMessage{
				RecipientID: in.SenderID,
				Content:     "Something went wrong on my end. Please try again in a moment!",
				IsError:     true,
			})
		}
		if result.SkipResponse {
			return nil
		}
		log.Info("message processed",
			"user_id", in.SenderID,
			"agents", result.AgentsInvolved,
			"strand", result.StrandInfo["strand_id"],
		)
		return wa.Send(ctx, domain.OutboundMessage{
			RecipientID: in.SenderID,
			Content:     result.Message,
		})
	}

	if err := wa.Start(ctx, handler); err != nil {
		return err
	}

	// Housekeeping: purge expired dedup hashes and reap idle sessions.
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Dedup.PurgeSchedule, func() {
		purgeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := db.PurgeExpired(purgeCtx)
		if err != nil {
			log.Warn("dedup purge failed", "error", err)
			return
		}
		reaped := sessions.ReapStale(cfg.Session.Timeout)
		log.Debug("housekeeping done", "hashes_purged", n, "sessions_reaped", reaped)
	}); err != nil {
		return fmt.Errorf("schedule housekeeping: %w", err)
	}
	sched.Start()

	log.Info("guidebot started", "webhook", wa.BoundAddr(), "model", cfg.Reasoner.Model)

	<-ctx.Done()
	log.Info("shutting down")

	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return wa.Stop(shutdownCtx)
}
