// Package notify is the scheduling and dispatch core: it turns domain
// events into pending notification records, delivers due records across
// the configured channels, and owns the overdue and retention passes.
//
// Delivery is at-least-once. Every status move is a conditional
// pending-only update in the store, so concurrent or repeated passes skip
// records another processor already advanced instead of double-sending.
package notify

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskdue/internal/clock"
	"taskdue/internal/delivery"
	"taskdue/internal/eventbus"
	"taskdue/internal/storage"
	logx "taskdue/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	store   storage.Store
	senders *delivery.Registry
	bus     eventbus.Bus
	clk     clock.Clock
	log     logx.Logger

	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, store storage.Store, senders *delivery.Registry, bus eventbus.Bus, clk clock.Clock, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		senders: senders,
		bus:     bus,
		clk:     clk,
		log:     log,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps runtime tuning; in-flight passes keep the snapshot they
// started with.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = 90 * 24 * time.Hour
	}
	s.cfg = cfg
	// Burst = rate per sec so short spikes don't stall the pass.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

func (s *Service) publish(typ string, ev LifecycleEvent) {
	if s.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.clk.Now()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
