// Package app wires the lending components together for the binaries.
package app

import (
	"context"
	"errors"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"library-lending/pkg/borrows"
	"library-lending/pkg/circulation"
	"library-lending/pkg/clock"
	"library-lending/pkg/config"
	"library-lending/pkg/database"
	"library-lending/pkg/docstore"
	"library-lending/pkg/inventory"
	"library-lending/pkg/metrics"
	"library-lending/pkg/mq"
	"library-lending/pkg/notify"
	"library-lending/pkg/obs"
	"library-lending/pkg/policy"
	"library-lending/pkg/session"
	"library-lending/pkg/sweep"
)

type App struct {
	DB      *gorm.DB
	Store   *docstore.Store
	Ledger  *inventory.Ledger
	Service *circulation.Service
	Inbox   *notify.Inbox
	Issuer  *session.Issuer
	Metrics *metrics.Metrics
	Policy  policy.Policy
	Clock   clock.Clock

	publisher    *mq.Publisher
	retry        []sweep.SchedulerOption
	sinks        []notify.Sink
	sweeper      *sweep.Sweeper
	closeTracing func(context.Context) error
}

// Parts are the inputs New needs. Zero values fall back to production
// defaults.
type Parts struct {
	DB       *gorm.DB
	Policy   policy.Policy
	Issuer   *session.Issuer
	Registry prometheus.Registerer
	Clock    clock.Clock
	// Publisher adds an AMQP sink when set.
	Publisher *mq.Publisher
	// Retry options for every Scheduler the App builds.
	Retry []sweep.SchedulerOption
}

func New(p Parts) *App {
	if p.Clock == nil {
		p.Clock = clock.System{}
	}
	store := docstore.New(p.DB)
	a := &App{
		DB:        p.DB,
		Store:     store,
		Ledger:    inventory.NewLedger(store),
		Inbox:     notify.NewInbox(store),
		Issuer:    p.Issuer,
		Metrics:   metrics.New(p.Registry),
		Policy:    p.Policy,
		Clock:     p.Clock,
		publisher: p.Publisher,
		retry:     p.Retry,
	}
	a.Service = circulation.New(a.Ledger, borrows.NewStore(store), p.Policy,
		circulation.WithClock(p.Clock),
		circulation.WithMetrics(a.Metrics),
		circulation.WithNotifier(a.Inbox))

	a.sinks = []notify.Sink{notify.LogSink{}, a.Inbox}
	if p.Publisher != nil {
		a.sinks = append(a.sinks, notify.AMQPSink{Pub: p.Publisher})
	}
	a.sweeper = sweep.New(a.Service, a.Sink(), sweep.WithMetrics(a.Metrics))
	return a
}

// Open builds an App from configuration: database, optional broker and
// optional tracing.
func Open(ctx context.Context, cfg config.App, reg prometheus.Registerer) (*App, error) {
	pol, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database())
	if err != nil {
		return nil, err
	}

	var pub *mq.Publisher
	if cfg.RabbitURL != "" {
		pub, err = mq.NewPublisher(cfg.RabbitURL, cfg.NotifyExchange)
		if err != nil {
			log.Printf("[app] rabbitmq unavailable, notifications stay local: %v", err)
			pub = nil
		}
	}

	shutdown, err := obs.InitTracer(ctx, "library-lending", cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Printf("[app] tracing disabled: %v", err)
		shutdown = nil
	}

	a := New(Parts{
		DB:        db,
		Policy:    pol,
		Issuer:    session.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Registry:  reg,
		Publisher: pub,
		Retry: []sweep.SchedulerOption{
			sweep.WithRetry(cfg.SweepMaxRetries, cfg.SweepRetryDelay),
			sweep.WithJitter(cfg.SweepRetryJitter),
		},
	})
	a.closeTracing = shutdown
	return a, nil
}

// Sink fans a message out to the log, the inbox, the broker when one is
// configured, and any extra sinks.
func (a *App) Sink(extra ...notify.Sink) notify.Sink {
	sinks := make([]notify.Sink, 0, len(a.sinks)+len(extra))
	sinks = append(sinks, a.sinks...)
	sinks = append(sinks, extra...)
	return notify.Fanout{Sinks: sinks, Metrics: a.Metrics}
}

// Sweeper is shared by every session so that they trip the same store
// breaker.
func (a *App) Sweeper() *sweep.Sweeper { return a.sweeper }

func (a *App) Listener(sink notify.Sink) *notify.Listener {
	return notify.NewListener(a.Store, sink,
		notify.WithListenerClock(a.Clock),
		notify.WithListenerMetrics(a.Metrics))
}

func (a *App) Scheduler(sess session.Session) *sweep.Scheduler {
	opts := append([]sweep.SchedulerOption{sweep.WithClock(a.Clock)}, a.retry...)
	return sweep.NewScheduler(a.sweeper, sweep.Static(sess), a.Policy, opts...)
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.closeTracing != nil {
		errs = append(errs, a.closeTracing(ctx))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
