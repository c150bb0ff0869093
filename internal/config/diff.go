package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskdue/pkg/logx"
)

// SummarizeChange returns a compact sorted list of changed sections plus
// safe structured attrs for logging. Secrets (the telegram and debug
// tokens) are reported only as a presence flag, never by value.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	if !strings.EqualFold(strings.TrimSpace(oldS.Driver), strings.TrimSpace(newS.Driver)) ||
		strings.TrimSpace(oldS.Path) != strings.TrimSpace(newS.Path) ||
		strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.batch_limit", newCfg.Dispatch.BatchLimit),
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
			logx.String("dispatch.send_timeout", strings.TrimSpace(newCfg.Dispatch.SendTimeout)),
			logx.String("dispatch.retention_age", strings.TrimSpace(newCfg.Dispatch.RetentionAge)),
		)
	}

	if oldCfg.Generation != newCfg.Generation {
		changed = append(changed, "generation")
		attrs = append(attrs,
			logx.Int("generation.batch_limit", newCfg.Generation.BatchLimit),
		)
	}

	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.Bool("poller.enabled", newCfg.Poller.Enabled),
			logx.String("poller.timezone", strings.TrimSpace(newCfg.Poller.Timezone)),
			logx.String("poller.dispatch_every", strings.TrimSpace(newCfg.Poller.DispatchEvery)),
			logx.String("poller.generation_every", strings.TrimSpace(newCfg.Poller.GenerationEvery)),
			logx.String("poller.overdue_schedule", strings.TrimSpace(newCfg.Poller.OverdueSchedule)),
			logx.String("poller.sweep_at", strings.TrimSpace(newCfg.Poller.SweepAt)),
		)
	}

	oldC, newC := oldCfg.Channels, newCfg.Channels
	tokenFlipped := (strings.TrimSpace(oldC.Telegram.Token) != "") != (strings.TrimSpace(newC.Telegram.Token) != "")
	if oldC.Email != newC.Email || oldC.InApp != newC.InApp || oldC.Push != newC.Push ||
		oldC.Telegram.Enabled != newC.Telegram.Enabled || tokenFlipped ||
		!reflect.DeepEqual(oldC.Telegram.Chats, newC.Telegram.Chats) {
		changed = append(changed, "channels")
		attrs = append(attrs,
			logx.Bool("channels.email", newC.Email.Enabled),
			logx.Bool("channels.in_app", newC.InApp.Enabled),
			logx.Bool("channels.push", newC.Push.Enabled),
			logx.Bool("channels.telegram", newC.Telegram.Enabled),
			logx.Bool("channels.telegram_token_set", strings.TrimSpace(newC.Telegram.Token) != ""),
			logx.Int("channels.telegram_chats", len(newC.Telegram.Chats)),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
