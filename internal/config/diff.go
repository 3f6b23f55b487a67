package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like DSNs,
// webhook URLs, or bot tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Store (never log DSN; it may embed credentials)
	if oldCfg.Store.Driver != newCfg.Store.Driver ||
		(strings.TrimSpace(oldCfg.Store.DSN) != "") != (strings.TrimSpace(newCfg.Store.DSN) != "") ||
		strings.TrimSpace(oldCfg.Store.Path) != strings.TrimSpace(newCfg.Store.Path) ||
		oldCfg.Store.MaxConns != newCfg.Store.MaxConns ||
		strings.TrimSpace(oldCfg.Store.BusyTimeout) != strings.TrimSpace(newCfg.Store.BusyTimeout) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.dsn_set", strings.TrimSpace(newCfg.Store.DSN) != ""),
			logx.Int("store.max_conns", newCfg.Store.MaxConns),
		)
	}

	// Scheduler
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.Int("scheduler.batch_size", newCfg.Scheduler.BatchSize),
			logx.Int("scheduler.executor_pool_size", newCfg.Scheduler.ExecutorPoolSize),
			logx.String("scheduler.lock_duration", strings.TrimSpace(newCfg.Scheduler.LockDuration)),
		)
	}

	// Clients (base URLs only; no secrets there, but keep it terse)
	if !reflect.DeepEqual(oldCfg.Clients, newCfg.Clients) {
		changed = append(changed, "clients")
		attrs = append(attrs,
			logx.Bool("clients.order_set", strings.TrimSpace(newCfg.Clients.Order.BaseURL) != ""),
			logx.Bool("clients.payment_set", strings.TrimSpace(newCfg.Clients.Payment.BaseURL) != ""),
		)
	}

	// Alert (never log webhook URL or telegram token)
	if oldCfg.Alert.Enabled != newCfg.Alert.Enabled ||
		strings.TrimSpace(oldCfg.Alert.Transport) != strings.TrimSpace(newCfg.Alert.Transport) ||
		(strings.TrimSpace(oldCfg.Alert.WebhookURL) != "") != (strings.TrimSpace(newCfg.Alert.WebhookURL) != "") ||
		strings.TrimSpace(oldCfg.Alert.Channel) != strings.TrimSpace(newCfg.Alert.Channel) ||
		(strings.TrimSpace(oldCfg.Alert.TelegramToken) != "") != (strings.TrimSpace(newCfg.Alert.TelegramToken) != "") ||
		oldCfg.Alert.TelegramChatID != newCfg.Alert.TelegramChatID ||
		oldCfg.Alert.RatePerSec != newCfg.Alert.RatePerSec ||
		oldCfg.Alert.QueueSize != newCfg.Alert.QueueSize {
		changed = append(changed, "alert")
		attrs = append(attrs,
			logx.Bool("alert.enabled", newCfg.Alert.Enabled),
			logx.String("alert.transport", strings.TrimSpace(newCfg.Alert.Transport)),
			logx.Bool("alert.webhook_set", strings.TrimSpace(newCfg.Alert.WebhookURL) != ""),
		)
	}

	// API
	if !reflect.DeepEqual(oldCfg.API, newCfg.API) {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
