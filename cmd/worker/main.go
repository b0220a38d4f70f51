// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/lemarche/tender-engine/internal/apperrors"
	"github.com/lemarche/tender-engine/internal/config"
	"github.com/lemarche/tender-engine/internal/db"
	"github.com/lemarche/tender-engine/internal/mailer"
	"github.com/lemarche/tender-engine/internal/queue"
	"github.com/lemarche/tender-engine/internal/repository"
	"github.com/lemarche/tender-engine/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AmqpURL == "" {
		log.Fatal().Msg("AMQP_URL is required for the worker")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	q, err := queue.NewRabbitQueue(cfg.AmqpURL, cfg.DispatchQueueCapacity)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer q.Close()

	tenderRepo := &repository.TenderRepository{DB: database}
	supplierRepo := &repository.SupplierRepository{DB: database}
	linkRepo := &repository.LinkRepository{DB: database}
	messageRepo := &repository.MessageRepository{DB: database}
	partnerRepo := &repository.PartnerRepository{DB: database}
	dispatchStore := &repository.DispatchStore{DB: database}

	mailClient := mailer.NewClient(cfg.MailBaseURL, cfg.MailAPIKey, cfg.ExternalCallTimeout(), log)

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
	statsService := &service.StatsService{TenderRepo: tenderRepo, Log: log}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &worker{
		cfg:      cfg,
		queue:    q,
		dispatch: dispatchService,
		notify:   notifyService,
		stats:    statsService,
		log:      log,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.consume(ctx, queue.TopicDispatch) })
	g.Go(func() error { return w.consume(ctx, queue.TopicNotify) })
	g.Go(func() error { return w.consume(ctx, queue.TopicRecount) })
	g.Go(func() error {
		statsService.RunPeriodic(ctx, cfg.StatsRecountInterval())
		return nil
	})
	g.Go(func() error { return w.reconcile(ctx) })

	log.Info().Int("prefetch", cfg.WorkerCount).Msg("worker running, waiting for tasks")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
	log.Info().Msg("worker stopped")
}

type worker struct {
	cfg      config.Config
	queue    *queue.RabbitQueue
	dispatch *service.DispatchService
	notify   *service.NotifyService
	stats    *service.StatsService
	log      zerolog.Logger
}

// consume drains one topic with manual acks. A failed task is republished
// with an incremented attempt counter after a backoff; past the attempt
// budget it is dropped and the reconciliation pass picks the link up later.
func (w *worker) consume(ctx context.Context, topic string) error {
	deliveries, err := w.queue.Consume(topic, w.cfg.WorkerCount)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, topic, d)
		}
	}
}

func (w *worker) handle(ctx context.Context, topic string, d amqp.Delivery) {
	var msg queue.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.log.Error().Err(err).Str("topic", topic).Msg("invalid task payload, dropping")
		d.Ack(false)
		return
	}
	msg.Attempt = queue.Attempt(d)

	err := w.process(ctx, topic, msg)
	if err == nil {
		d.Ack(false)
		return
	}

	if apperrors.IsPermanent(err) || msg.Attempt+1 >= w.cfg.MaxNotifyAttempts {
		w.log.Error().Err(err).Str("topic", topic).Int64("tender_id", msg.TenderID).
			Int("attempt", msg.Attempt).Msg("task failed, giving up")
		d.Ack(false)
		return
	}

	w.log.Warn().Err(err).Str("topic", topic).Int64("tender_id", msg.TenderID).
		Int("attempt", msg.Attempt).Msg("task failed, retrying")

	// exponential backoff before the republish so a flapping provider is
	// not hammered by immediate redeliveries
	backoff := w.cfg.NotifyBackoffBase() * (1 << msg.Attempt)
	select {
	case <-ctx.Done():
		d.Nack(false, true)
		return
	case <-time.After(backoff):
	}

	msg.Attempt++
	if err := w.queue.Publish(ctx, topic, msg); err != nil {
		w.log.Error().Err(err).Str("topic", topic).Msg("failed to republish task")
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func (w *worker) process(ctx context.Context, topic string, msg queue.Message) error {
	switch topic {
	case queue.TopicDispatch:
		return w.dispatch.Dispatch(ctx, msg.TenderID)
	case queue.TopicNotify:
		if msg.PartnerID != 0 {
			return w.notify.NotifyPartner(ctx, msg.TenderID, msg.PartnerID, msg.Attempt)
		}
		return w.notify.Notify(ctx, msg.TenderID, msg.SupplierID, msg.Attempt)
	case queue.TopicRecount:
		return w.stats.Recount(ctx, msg.TenderID)
	}
	w.log.Error().Str("topic", topic).Msg("unknown topic")
	return nil
}

// reconcile periodically re-enqueues QUEUED links whose notification task
// was lost, and dispatch tasks for tenders stuck in VALIDATED.
func (w *worker) reconcile(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.ReconcileAfter())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.notify.ReconcileQueued(ctx, w.queue, w.cfg.ReconcileAfter(), 500); err != nil {
				w.log.Error().Err(err).Msg("reconciliation failed")
			}
			if _, err := w.dispatch.ReconcileValidated(ctx, w.cfg.ReconcileAfter()); err != nil {
				w.log.Error().Err(err).Msg("validated sweep failed")
			}
		}
	}
}
