package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
	"github.com/daydreamsai/lucid-agents-sub001/internal/config"
	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/consumer"
	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/producer"
	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/publisher"
	"github.com/daydreamsai/lucid-agents-sub001/internal/logger"
	"github.com/daydreamsai/lucid-agents-sub001/internal/payments"
	"github.com/daydreamsai/lucid-agents-sub001/internal/server"
	"github.com/daydreamsai/lucid-agents-sub001/internal/store"
	"github.com/daydreamsai/lucid-agents-sub001/internal/worker"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := logger.ForAgent(baseLogger.With().Str("service", "xmpt-agent").Logger(), cfg.Agent.Name)

	msgStore, err := store.Open(ctx, cfg.Store.Backend, cfg.Store.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open message store")
	}
	defer func() {
		if err := msgStore.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close message store")
		}
	}()

	checks := map[string]server.Check{}
	var records xmpt.Store = msgStore
	var prod *producer.Producer
	if cfg.Kafka.Enabled() {
		prod, err = producer.New(cfg.Kafka.Brokers, log, producer.WithClientID(cfg.Agent.Name+"-xmpt"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()
		checks["kafka_producer"] = prod.Ready
		records = publisher.NewMirrorStore(msgStore, prod, cfg.Kafka.MessageLogTopic, log)
	}

	client := a2a.NewClient(log,
		a2a.WithHTTPClient(&http.Client{Timeout: cfg.A2A.HTTPTimeout}),
		a2a.WithPollInterval(cfg.A2A.PollInterval),
	)

	var inboxHandler xmpt.InboxHandler
	if cfg.XMPT.AutoReply {
		inboxHandler = xmpt.Acknowledge
	}
	rt, err := xmpt.NewRuntime(xmpt.Options{
		AgentName:           cfg.Agent.Name,
		Client:              client,
		Store:               records,
		InboxHandler:        inboxHandler,
		DefaultInboxSkillID: cfg.XMPT.DefaultInboxSkillID,
		DefaultTimeout:      cfg.XMPT.WaitTimeout,
		Logger:              log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise xmpt runtime")
	}
	unsubscribe := rt.OnMessage(func(msg *xmpt.Message) error {
		log.Info().
			Str("message_id", msg.ID).
			Str("thread_id", msg.ThreadID).
			Str("from", msg.From).
			Msg("xmpt message received")
		return nil
	})
	defer unsubscribe()

	gate, err := paywallGate(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise paywall")
	}

	tasks := a2a.NewTaskServer(a2a.CardInfo{
		Name:        cfg.Agent.Name,
		Description: cfg.Agent.Description,
		URL:         cfg.Agent.URL,
		Version:     cfg.Agent.Version,
	}, log, a2a.WithGate(gate))

	inbox, err := xmpt.NewInboxEntrypoint(rt, cfg.XMPT.InboxKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create xmpt inbox")
	}
	inboxEntrypoint := inbox.Entrypoint()
	inboxEntrypoint.Price = cfg.Payments.DefaultPrice
	if err := tasks.Register(inboxEntrypoint); err != nil {
		log.Fatal().Err(err).Msg("failed to register xmpt inbox")
	}

	errCh := make(chan error, 2)
	if cfg.Kafka.Enabled() && cfg.Kafka.InboxTopic != "" {
		cons, err := startInboxWorker(ctx, cfg, rt, prod, log, errCh)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start kafka inbox worker")
		}
		defer func() {
			if err := cons.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka consumer")
			}
		}()
		checks["kafka_consumer"] = cons.Ready
	}

	httpServer, err := server.New(server.Dependencies{
		Tasks:     tasks,
		Messenger: rt,
		Gate:      gate,
		Checks:    checks,
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise http server")
	}

	go func() {
		if err := httpServer.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			errCh <- err
		}
	}()

	log.Info().
		Int("port", cfg.App.Port).
		Str("inbox_key", inbox.Key()).
		Str("store", cfg.Store.Backend).
		Bool("kafka", cfg.Kafka.Enabled()).
		Msg("xmpt agent started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("agent terminated with error")
		stop()
	}

	if err := tasks.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("failed to drain running tasks")
	}
}

// paywallGate returns nil when no payment destination is configured.
func paywallGate(cfg *config.Config, log zerolog.Logger) (a2a.Gate, error) {
	if cfg.Payments.PayTo == "" && cfg.Payments.StripeKey == "" {
		return nil, nil
	}
	payTo, err := payments.ResolvePayTo(cfg.PaymentsMode(),
		payments.WithStripeOptions(payments.WithStripeLogger(log)),
	)
	if err != nil {
		return nil, err
	}
	paywall := payments.NewPaywall(payTo, payments.NewRateLimiter(),
		payments.WithPaywallNetwork(cfg.Payments.Network),
		payments.WithPaywallLogger(log),
	)
	return server.PaywallGate(paywall, cfg.Payments.MaxPayments, cfg.Payments.RateLimitWindow), nil
}

func startInboxWorker(ctx context.Context, cfg *config.Config, rt *xmpt.Runtime, prod *producer.Producer, log zerolog.Logger, errCh chan<- error) (*consumer.Consumer, error) {
	engine, err := worker.NewEngine(worker.Config{
		MsgMaxBytes: cfg.Inbox.MsgMaxBytes,
		MaxAttempts: cfg.Inbox.MaxAttempts,
		BaseBackoff: cfg.Inbox.BaseBackoff,
		MaxBackoff:  cfg.Inbox.MaxBackoff,
		Concurrency: cfg.Inbox.Concurrency,
	}, worker.Dependencies{
		Receiver:     rt,
		DLQPublisher: publisher.NewDLQPublisher(prod, cfg.Kafka.InboxDLQTopic),
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	cons, err := consumer.New(consumer.Config{
		Brokers:             cfg.Kafka.Brokers,
		GroupID:             cfg.Kafka.ConsumerGroup,
		Topics:              []string{cfg.Kafka.InboxTopic},
		CommitOnSuccessOnly: cfg.Inbox.CommitOnSuccessOnly,
	}, log)
	if err != nil {
		return nil, err
	}

	go func() {
		defer engine.Wait()
		if err := cons.Run(ctx, worker.KafkaHandler(engine)); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	log.Info().Str("inbox_topic", cfg.Kafka.InboxTopic).Msg("kafka inbox worker started")
	return cons, nil
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("xmpt agent init failed")
}
