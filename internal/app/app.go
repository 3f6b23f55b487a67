// Package app wires configuration, logging, the store, the engine, the
// operator API and the alert pipeline into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskd/internal/alert"
	"taskd/internal/api"
	"taskd/internal/client"
	"taskd/internal/config"
	"taskd/internal/engine"
	"taskd/internal/eventbus"
	"taskd/internal/handler"
	"taskd/internal/manage"
	"taskd/internal/metrics"
	"taskd/internal/store"
	logx "taskd/pkg/logx"

	rtsup "taskd/internal/runtime/supervisor"
)

type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	bus       eventbus.Bus
	st        store.Store
	eng       *engine.Service
	mgr       *manage.Service
	alerts    *alert.Service
	apiServer *api.Server
	collector *metrics.Collector

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewConfigManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busyTimeout, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		Path:        cfg.Store.Path,
		MaxConns:    cfg.Store.MaxConns,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.st = st

	alerts, err := a.buildAlerts(cfg.Alert)
	if err != nil {
		return err
	}

	engCfg, err := engineConfig(cfg.Scheduler)
	if err != nil {
		return err
	}

	registry, err := a.buildRegistry(cfg.Clients)
	if err != nil {
		return err
	}

	var engineAlerts alert.Alerter = alert.Nop{}
	if alerts != nil {
		engineAlerts = alerts
	}
	a.alerts = alerts
	a.eng = engine.New(engCfg, st, registry, engineAlerts, a.bus, a.log)

	a.mgr = manage.New(manage.Config{
		StrictDuplicates:  cfg.Scheduler.StrictDuplicates,
		RetentionDays:     cfg.Scheduler.RetentionDays,
		RetentionSchedule: cfg.Scheduler.RetentionSchedule,
	}, st, a.eng, a.log)

	a.collector = metrics.New()

	if cfg.API.Enabled {
		readTimeout, err := config.ParseDurationField("api.read_timeout", cfg.API.ReadTimeout)
		if err != nil {
			return err
		}
		writeTimeout, err := config.ParseDurationField("api.write_timeout", cfg.API.WriteTimeout)
		if err != nil {
			return err
		}
		idleTimeout, err := config.ParseDurationField("api.idle_timeout", cfg.API.IdleTimeout)
		if err != nil {
			return err
		}
		a.apiServer = api.New(api.Config{
			Addr:         cfg.API.Addr,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		}, a.mgr, a.collector.Handler(), a.log)
	}
	return nil
}

func (a *App) buildRegistry(cfg config.ClientsConfig) (*handler.Registry, error) {
	orderTimeout, err := config.ParseDurationField("clients.order.timeout", cfg.Order.Timeout)
	if err != nil {
		return nil, err
	}
	paymentTimeout, err := config.ParseDurationField("clients.payment.timeout", cfg.Payment.Timeout)
	if err != nil {
		return nil, err
	}

	orders := client.NewOrderClient(client.Config{
		BaseURL: cfg.Order.BaseURL, Timeout: orderTimeout,
	}, a.log)
	payments := client.NewPaymentClient(client.Config{
		BaseURL: cfg.Payment.BaseURL, Timeout: paymentTimeout,
	}, a.log)

	registry := handler.NewRegistry()
	registry.Register(
		handler.NewOrderCancelHandler(orders, a.log),
		handler.NewPaymentRefundHandler(payments, a.log),
		handler.NewPaymentPartialRefundHandler(payments, a.log),
		handler.NewPaymentVoidHandler(payments, a.log),
		handler.NewWebhookNotificationHandler(0, a.log),
	)
	return registry, nil
}

func (a *App) buildAlerts(cfg config.AlertConfig) (*alert.Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		transport alert.Transport
		err       error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "webhook":
		if strings.TrimSpace(cfg.WebhookURL) == "" {
			return nil, errors.New("alert.webhook_url is required for the webhook transport")
		}
		transport = alert.NewWebhookTransport(cfg.WebhookURL, cfg.Channel)
	case "telegram":
		transport, err = alert.NewTelegramTransport(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown alert transport %q", cfg.Transport)
	}

	return alert.New(alert.Config{
		Enabled:          true,
		Channel:          cfg.Channel,
		DashboardBaseURL: cfg.DashboardBaseURL,
		RatePerSec:       cfg.RatePerSec,
		QueueSize:        cfg.QueueSize,
	}, transport, a.log), nil
}

func engineConfig(cfg config.SchedulerConfig) (engine.Config, error) {
	pollInterval, err := config.ParseDurationField("scheduler.poll_interval", cfg.PollInterval)
	if err != nil {
		return engine.Config{}, err
	}
	lockDuration, err := config.ParseDurationField("scheduler.lock_duration", cfg.LockDuration)
	if err != nil {
		return engine.Config{}, err
	}
	staleThreshold, err := config.ParseDurationField("scheduler.stale_task_threshold", cfg.StaleTaskThreshold)
	if err != nil {
		return engine.Config{}, err
	}
	staleInterval, err := config.ParseDurationField("scheduler.stale_check_interval", cfg.StaleCheckInterval)
	if err != nil {
		return engine.Config{}, err
	}
	shutdownGrace, err := config.ParseDurationField("scheduler.shutdown_grace", cfg.ShutdownGrace)
	if err != nil {
		return engine.Config{}, err
	}

	maxRetries := 5
	if cfg.DefaultMaxRetries != nil {
		maxRetries = *cfg.DefaultMaxRetries
	}

	return engine.Config{
		Enabled:                cfg.Enabled,
		PollInterval:           pollInterval,
		BatchSize:              cfg.BatchSize,
		ExecutorPoolSize:       cfg.ExecutorPoolSize,
		DefaultMaxRetries:      maxRetries,
		DefaultRetryDelayHours: cfg.DefaultRetryDelayHours,
		LockDuration:           lockDuration,
		StaleTaskThreshold:     staleThreshold,
		StaleCheckInterval:     staleInterval,
		ShutdownGrace:          shutdownGrace,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))

	if a.alerts != nil {
		a.alerts.Start(a.sup.Context())
	}

	a.sup.Go("metrics", func(c context.Context) error {
		err := a.collector.Observe(c, a.bus)
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
		return err
	})

	a.eng.Start(a.sup.Context())

	if err := a.mgr.StartRetention(a.sup.Context()); err != nil {
		return err
	}

	if a.apiServer != nil {
		a.sup.Go("api", func(c context.Context) error {
			return a.apiServer.Start()
		})
	}

	// Hot-reload: watch the config file; only the logging section applies
	// live, everything else logs a restart-required notice.
	a.sup.Go("config-watch", func(c context.Context) error {
		return a.cfgMgr.Watch(c)
	})
	sub := a.cfgMgr.Subscribe(1)
	a.sup.Go("config-apply", func(c context.Context) error {
		prev := a.cfgMgr.Get()
		for {
			select {
			case <-c.Done():
				a.cfgMgr.Unsubscribe(sub)
				return context.Canceled
			case next, ok := <-sub:
				if !ok {
					return context.Canceled
				}
				a.applyConfig(prev, next)
				prev = next
			}
		}
	})

	a.log.Info("taskd started", logx.String("instance", a.eng.Instance()))
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config changed", append([]logx.Field{logx.Any("sections", changed)}, attrs...)...)

	for _, section := range changed {
		switch section {
		case "logging":
			a.logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File: logx.FileConfig{
					Enabled: next.Logging.File.Enabled,
					Path:    next.Logging.File.Path,
				},
			})
		default:
			a.log.Warn("config section changed; restart required to apply",
				logx.String("section", section))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if a.apiServer != nil {
		if err := a.apiServer.Stop(ctx); err != nil {
			a.log.Warn("api shutdown failed", logx.Err(err))
		}
	}

	a.eng.Stop(ctx)
	a.mgr.StopRetention()

	if a.alerts != nil {
		a.alerts.Stop()
	}

	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}

	if a.st != nil {
		_ = a.st.Close()
	}
	a.log.Info("taskd stopped")
	return a.logSvc.Close()
}
