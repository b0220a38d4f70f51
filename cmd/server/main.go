// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/config"
	"github.com/lemarche/tender-engine/internal/db"
	"github.com/lemarche/tender-engine/internal/handler"
	"github.com/lemarche/tender-engine/internal/mailer"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
	"github.com/lemarche/tender-engine/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "server").Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := db.RunMigrations(cfg.MigrationsURL, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tenderRepo := &repository.TenderRepository{DB: database}
	supplierRepo := &repository.SupplierRepository{DB: database}
	linkRepo := &repository.LinkRepository{DB: database}
	messageRepo := &repository.MessageRepository{DB: database}
	partnerRepo := &repository.PartnerRepository{DB: database}
	dispatchStore := &repository.DispatchStore{DB: database}

	q := buildQueue(cfg, log)
	defer q.Close()

	mailClient := mailer.NewClient(cfg.MailBaseURL, cfg.MailAPIKey, cfg.ExternalCallTimeout(), log)

	tenderService := &service.TenderService{
		TenderRepo: tenderRepo,
		LinkRepo:   linkRepo,
		Queue:      q,
		Log:        log,
	}
	dispatchService := &service.DispatchService{
		TenderRepo: tenderRepo,
		Store:      dispatchStore,
		Strategy:   &service.MatcherStrategy{SupplierRepo: supplierRepo},
		Queue:      q,
		Log:        log,
	}
	notifyService := &service.NotifyService{
		TenderRepo:   tenderRepo,
		SupplierRepo: supplierRepo,
		LinkRepo:     linkRepo,
		MessageRepo:  messageRepo,
		PartnerRepo:  partnerRepo,
		Mailer:       mailClient,
		SiteBaseURL:  cfg.SiteBaseURL,
		TaskDeadline: cfg.TaskDeadline(),
		Log:          log,
	}
	trackerService := &service.TrackerService{
		TenderRepo: tenderRepo,
		LinkRepo:   linkRepo,
		Queue:      q,
		Log:        log,
	}
	statsService := &service.StatsService{TenderRepo: tenderRepo, Log: log}

	// Without a broker the engine runs single-process: the server consumes
	// its own tasks from the in-memory queue.
	if mq, ok := q.(*queue.MemoryQueue); ok {
		mq.Subscribe(ctx, queue.TopicDispatch, func(ctx context.Context, msg queue.Message) error {
			return dispatchService.Dispatch(ctx, msg.TenderID)
		})
		mq.Subscribe(ctx, queue.TopicNotify, func(ctx context.Context, msg queue.Message) error {
			if msg.PartnerID != 0 {
				return notifyService.NotifyPartner(ctx, msg.TenderID, msg.PartnerID, msg.Attempt)
			}
			return notifyService.Notify(ctx, msg.TenderID, msg.SupplierID, msg.Attempt)
		})
		mq.Subscribe(ctx, queue.TopicRecount, func(ctx context.Context, msg queue.Message) error {
			return statsService.Recount(ctx, msg.TenderID)
		})
		go statsService.RunPeriodic(ctx, cfg.StatsRecountInterval())
	}

	tenderHandler := &handler.TenderHandler{
		Tenders:  tenderService,
		Tracker:  trackerService,
		Notifier: notifyService,
		Log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	tenderHandler.Routes(r)

	server := &http.Server{Addr: cfg.ServerAddress, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("address", cfg.ServerAddress).Msg("server running")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func buildQueue(cfg config.Config, log zerolog.Logger) queue.Queue {
	if cfg.AmqpURL == "" {
		log.Info().Msg("AMQP_URL not set, using in-memory queue")
		return queue.NewMemoryQueue(cfg.DispatchQueueCapacity, log)
	}
	q, err := queue.NewRabbitQueue(cfg.AmqpURL, cfg.DispatchQueueCapacity)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	return q
}
