package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailflow/internal/analysis"
	"mailflow/internal/calendar"
	"mailflow/internal/config"
	"mailflow/internal/httpserver"
	"mailflow/internal/model"
	"mailflow/internal/notify"
	"mailflow/internal/repository"
	"mailflow/internal/service"
	"mailflow/internal/workflow"
	"mailflow/pkg/db"
	"mailflow/pkg/mq"
	"mailflow/pkg/outbox"
	redisclient "mailflow/pkg/redis"
	"mailflow/pkg/util"
)

// app holds the wired coordinator and everything that must be closed.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	coordinator *workflow.Coordinator
	rc          *workflow.RunContext

	pool      *pgxpool.Pool
	rdb       *goredis.Client
	publisher *mq.Publisher
	items     *repository.EmailRepository
	// Whether a Redis ledger bounds item retries.
	ledger bool

	// Set only when results go through the outbox.
	outbox     *outbox.Repository
	dispatcher *outbox.Dispatcher

	probes      map[string]httpserver.Probe
	stopTracing func(context.Context) error
}

func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: log,
		rc:     workflow.NewRunContext(time.Now()),
		probes: make(map[string]httpserver.Probe),
	}

	// Collaborators
	aiClient := service.NewAIClient(cfg.AIClientConfig(), log.Named("ai"))
	engine := analysis.NewEngine(aiClient, cfg.EngineConfig(), log.Named("analysis"))
	cascade := buildCascade(cfg, log.Named("notify"))

	var reconciler workflow.EventReconciler
	if calCfg := cfg.CalendarClientConfig(); calCfg.Configured() {
		reconciler = calendar.NewReconciler(service.NewCalendarClient(calCfg), cfg.ReconcilerConfig(), log.Named("calendar"))
	} else {
		log.Warn("Calendar access token missing, event creation disabled")
	}

	opts := []workflow.Option{
		workflow.WithHealthCheck("ai_provider", workflow.ReporterCheck(aiClient)),
	}

	// Optional infrastructure
	if cfg.DB.Enabled() {
		pool, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
		a.pool = pool
		a.items = repository.NewEmailRepository(pool)
		opts = append(opts,
			workflow.WithSource(a.items),
			workflow.WithHealthCheck("database", pingCheck(a.items.Ping)),
		)
		a.probes["db"] = a.items.Ping
	} else {
		opts = append(opts, workflow.WithHealthCheck("item_source", workflow.NotConfigured))
	}

	if cfg.Redis.Enabled() {
		a.rdb = redisclient.NewRedisClient(cfg.Redis)
		deduper := util.NewDeduper(a.rdb, cfg.Workflow.LedgerTTL, log.Named("ledger"))
		retries := util.NewRetryCounter(a.rdb, cfg.Workflow.LedgerTTL)
		ledger := workflow.NewRedisLedger(deduper, retries, cfg.Workflow.MaxRetries, log.Named("ledger"))
		redisPing := func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
		a.ledger = true
		opts = append(opts,
			workflow.WithLedger(ledger),
			workflow.WithHealthCheck("redis", pingCheck(redisPing)),
		)
	}

	if cfg.MQ.Enabled() {
		pub, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("message broker: %w", err)
		}
		a.publisher = pub
		opts = append(opts,
			workflow.WithHealthCheck("broker", func(context.Context) model.ServiceHealth {
				if pub.IsConnected() {
					return model.ServiceHealth{Status: model.StatusHealthy, Detail: "connected"}
				}
				return model.ServiceHealth{Status: model.StatusUnhealthy, Detail: "disconnected"}
			}),
		)
		a.probes["mq"] = func(context.Context) error {
			if !pub.IsConnected() {
				return fmt.Errorf("publisher disconnected")
			}
			return nil
		}
	}

	opts = append(opts, a.resultOptions()...)

	a.coordinator = workflow.New(engine, cascade, reconciler, cfg.CoordinatorConfig(time.Now()), log.Named("workflow"), opts...)
	return a, nil
}

// resultOptions picks how results leave the process. With a database the
// run record and the outbox share a transaction; the broker then only sees
// what was committed.
func (a *app) resultOptions() []workflow.Option {
	var opts []workflow.Option
	switch {
	case a.pool != nil && a.publisher != nil:
		a.outbox = outbox.NewRepository(a.pool)
		a.dispatcher = outbox.NewDispatcher(a.outbox, a.publisher, a.logger.Named("outbox")).
			WithInterval(a.cfg.Outbox.Interval).
			WithBatchSize(a.cfg.Outbox.BatchSize).
			WithMaxRetries(a.cfg.Outbox.MaxRetries)
		opts = append(opts,
			workflow.WithSink(repository.NewOutboxSink(a.pool, a.outbox)),
			workflow.WithRecorder(repository.NewRunRepository(a.pool).WithOutbox(a.outbox)),
		)
	case a.pool != nil:
		opts = append(opts, workflow.WithRecorder(repository.NewRunRepository(a.pool)))
	case a.publisher != nil:
		opts = append(opts, workflow.WithSink(workflow.NewMQSink(a.publisher)))
	}
	return opts
}

// buildCascade orders the carrier and bot tiers per notification.order and
// puts SMTP behind them.
func buildCascade(cfg *config.Config, log *zap.Logger) *notify.Cascade {
	var carrier []notify.Transport
	if tc := cfg.TwilioConfig(); tc.Configured() {
		carrier = append(carrier, service.NewTwilioTransport(tc))
	}

	var bots []notify.Transport
	for _, pair := range cfg.BotPairs() {
		bots = append(bots, service.NewCallMeBotTransport(pair, cfg.Notification.CallMeBotEndpoint, cfg.Notification.AttemptTimeout))
	}

	carrierTier := notify.Tier{Transports: carrier}
	botTier := notify.Tier{Transports: bots, FanOut: true}
	first, second := carrierTier, botTier
	if cfg.Notification.Order == config.OrderBotFirst {
		first, second = botTier, carrierTier
	}
	first.Name = notify.TierPrimary
	second.Name = notify.TierSecondary

	opts := []notify.Option{
		notify.WithTier(first),
		notify.WithTier(second),
		notify.WithBreakers(cfg.BreakerConfig()),
		notify.WithAttemptTimeout(cfg.Notification.AttemptTimeout),
	}
	if cfg.Notification.MailSubject != "" {
		opts = append(opts, notify.WithMailSubject(cfg.Notification.MailSubject))
	}
	if smtpCfg := cfg.SMTPConfig(); smtpCfg.Configured() {
		opts = append(opts, notify.WithFallback(service.NewSMTPMailer(smtpCfg), cfg.Notification.MailTo))
	}

	cascade := notify.NewCascade(log, opts...)
	log.Info("Notification cascade ready", zap.Strings("tiers", cascade.Tiers()))
	return cascade
}

func pingCheck(ping func(context.Context) error) workflow.HealthFunc {
	return func(ctx context.Context) model.ServiceHealth {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			return model.ServiceHealth{Status: model.StatusUnhealthy, Detail: err.Error()}
		}
		return model.ServiceHealth{Status: model.StatusHealthy, Detail: "reachable"}
	}
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
