package app

import (
	"fmt"
	"strings"
	"time"

	"taskdue/internal/config"
	"taskdue/internal/debug"
	"taskdue/internal/delivery"
	"taskdue/internal/eventbus"
	"taskdue/internal/notify"
	"taskdue/internal/poller"
	"taskdue/internal/recurring"
	"taskdue/internal/storage"
	logx "taskdue/pkg/logx"
)

// Built-in pass schedules, used when the poller section leaves one out.
const (
	defaultDispatchEvery   = "1m"
	defaultGenerationEvery = "5m"
	defaultOverdueSchedule = "@hourly"
	defaultSweepAt         = "03:10"
)

func scheduleOr(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)

	switch driver {
	case "":
		return storage.Config{}, fmt.Errorf("storage.driver is required (memory or sqlite)")
	case "memory":
		return storage.Config{Driver: driver}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapDispatchConfig(cfg *config.Config) (notify.Config, error) {
	d := cfg.Dispatch
	if d.Workers < 0 {
		return notify.Config{}, fmt.Errorf("dispatch.workers must be >= 0")
	}
	if d.BatchLimit < 0 {
		return notify.Config{}, fmt.Errorf("dispatch.batch_limit must be >= 0")
	}
	if d.RatePerSec < 0 {
		return notify.Config{}, fmt.Errorf("dispatch.rate_per_sec must be >= 0")
	}
	sendTimeout, err := config.ParseDurationField("dispatch.send_timeout", d.SendTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	retention, err := config.ParseDurationField("dispatch.retention_age", d.RetentionAge)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Workers:      d.Workers,
		BatchLimit:   d.BatchLimit,
		RatePerSec:   d.RatePerSec,
		SendTimeout:  sendTimeout,
		RetentionAge: retention,
	}, nil
}

func mapGenerationConfig(cfg *config.Config) (recurring.Config, error) {
	if cfg.Generation.BatchLimit < 0 {
		return recurring.Config{}, fmt.Errorf("generation.batch_limit must be >= 0")
	}
	return recurring.Config{BatchLimit: cfg.Generation.BatchLimit}, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	p := cfg.Poller
	if p.HistorySize < 0 {
		return poller.Config{}, fmt.Errorf("poller.history_size must be >= 0")
	}
	passTimeout, err := config.ParseDurationField("poller.pass_timeout", p.PassTimeout)
	if err != nil {
		return poller.Config{}, err
	}
	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return poller.Config{}, fmt.Errorf("poller.timezone: invalid %q: %w", tz, err)
		}
	}
	for field, spec := range map[string]string{
		"poller.dispatch_every":   scheduleOr(p.DispatchEvery, defaultDispatchEvery),
		"poller.generation_every": scheduleOr(p.GenerationEvery, defaultGenerationEvery),
		"poller.overdue_schedule": scheduleOr(p.OverdueSchedule, defaultOverdueSchedule),
	} {
		if err := poller.ValidateSpec(spec); err != nil {
			return poller.Config{}, fmt.Errorf("%s: %w", field, err)
		}
	}
	if _, _, err := poller.ParseDaily(scheduleOr(p.SweepAt, defaultSweepAt)); err != nil {
		return poller.Config{}, fmt.Errorf("poller.sweep_at: %w", err)
	}
	return poller.Config{
		Enabled:     p.Enabled,
		Timezone:    p.Timezone,
		PassTimeout: passTimeout,
		HistorySize: p.HistorySize,
	}, nil
}

// mapDebugConfig validates and converts the debug server section. It
// never starts the server.
func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	var out debug.Config
	dc := cfg.Debug

	out.Enabled = dc.Enabled
	out.Addr = strings.TrimSpace(dc.Addr)
	out.Token = strings.TrimSpace(dc.Token)
	out.AllowInsecure = dc.AllowInsecure

	readTO, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	// Write timeout stays 0 unless set; profile endpoints stream for
	// their whole sampling window.
	writeTO, err := config.ParseDurationField("debug.write_timeout", dc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO
	out.IdleTimeout = idleTO
	return out, nil
}

// validateConfig is the transactional reload gate: every mapping that
// could fail at apply time must fail here instead, so a bad edit never
// reaches running services.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGenerationConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if cfg.Channels.Telegram.Enabled {
		if cfg.TelegramToken() == "" {
			return fmt.Errorf("channels.telegram.enabled requires a token (config or %s)", config.EnvTelegramToken)
		}
		if _, err := delivery.ParseStaticChats(cfg.Channels.Telegram.Chats); err != nil {
			return err
		}
	}
	return nil
}

// buildRegistry assembles the enabled delivery channels.
func buildRegistry(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (*delivery.Registry, error) {
	senders := make([]delivery.Sender, 0, 4)

	if cfg.Channels.Email.Enabled {
		senders = append(senders, delivery.NewEmail(
			delivery.NewLogMailer(log.With(logx.String("comp", "mail")))))
	}
	if cfg.Channels.InApp.Enabled {
		senders = append(senders, delivery.NewInApp(bus))
	}
	if cfg.Channels.Push.Enabled {
		senders = append(senders, delivery.NewPush(
			delivery.NewLogPusher(log.With(logx.String("comp", "push")))))
	}
	if cfg.Channels.Telegram.Enabled {
		token := cfg.TelegramToken()
		if token == "" {
			return nil, fmt.Errorf("channels.telegram.enabled requires a token (config or %s)", config.EnvTelegramToken)
		}
		chats, err := delivery.ParseStaticChats(cfg.Channels.Telegram.Chats)
		if err != nil {
			return nil, err
		}
		tg, err := delivery.NewTelegram(token, chats)
		if err != nil {
			return nil, err
		}
		senders = append(senders, tg)
	}

	return delivery.NewRegistry(senders...), nil
}
