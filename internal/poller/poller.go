// Package poller drives the periodic passes of the scheduling core:
// dispatch, generation, overdue detection and the retention sweep. Each
// registered pass fires on its own cron entry, so a slow pass never delays
// the others; a pass still running when its next tick fires skips that
// tick.
package poller

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "taskdue/pkg/logx"
)

// Config controls the poller. Zero values take defaults.
type Config struct {
	Enabled bool
	// Timezone is the IANA zone cron specs evaluate in; empty means the
	// process-local zone.
	Timezone string
	// PassTimeout bounds one pass run when the registration gave no
	// explicit timeout.
	PassTimeout time.Duration
	// HistorySize caps the kept pass-run history.
	HistorySize int
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type passDef struct {
	id      string
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

// HistoryItem is one finished pass run.
type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []passDef

	runCtx    context.Context
	runCancel context.CancelFunc
	// stopDone is non-nil while a Stop is in progress; closed once all
	// in-flight passes have drained.
	stopDone chan struct{}

	skipped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		parser: stdParser,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps runtime tuning. A timezone change while running restarts the
// cron runner and re-registers every pass in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.applyLocked(cfg)

	if s.c == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	s.cfg = cfg
}

// Start begins firing registered passes. Calling Start on a running
// service is a no-op; a Start racing an in-flight Stop waits for the stop
// to finish first.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.c == nil && s.stopDone == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		s.addEntryLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("poller started",
		logx.String("tz", loc.String()),
		logx.Int("passes", len(s.defs)))
}

// Stop cancels all triggers and waits for in-flight passes, bounded by the
// caller's context. Idempotent and safe when the service never started.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	if s.c == nil {
		if done := s.stopDone; done != nil {
			// another Stop is draining; wait alongside it
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return
		}
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Drain in the background so Stop can honor the caller's deadline.
	go func() {
		<-c.Stop().Done()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("poller stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// drain continues in background
	}
}

// runPass executes one pass fire: overlap check, panic capture, timeout,
// history recording. Runs on the goroutine cron started for the entry.
func (s *Service) runPass(d *passDef) {
	d.state.mu.Lock()
	if d.state.running {
		d.state.mu.Unlock()
		s.skipped.Add(1)
		s.log.Debug("pass skipped, previous run still going", logx.String("pass", d.name))
		return
	}
	d.state.running = true
	d.state.mu.Unlock()
	defer func() {
		d.state.mu.Lock()
		d.state.running = false
		d.state.mu.Unlock()
	}()

	s.mu.Lock()
	ctx := s.runCtx
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.PassTimeout
	}
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	start := time.Now()
	item := HistoryItem{ID: d.id, Name: d.name, Started: start}

	func() {
		defer func() {
			if r := recover(); r != nil {
				item.Error = "panic"
				s.log.Error("panic in pass",
					logx.String("pass", d.name),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := d.job(runCtx); err != nil {
			item.Error = err.Error()
		}
	}()

	item.Duration = time.Since(start)
	if item.Error != "" {
		s.log.Warn("pass failed",
			logx.String("pass", d.name),
			logx.Duration("took", item.Duration),
			logx.String("err", item.Error))
	} else {
		s.log.Debug("pass ok",
			logx.String("pass", d.name),
			logx.Duration("took", item.Duration))
	}
	s.record(item)
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	keep := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if keep > 0 && len(s.history) > keep {
		s.history = s.history[len(s.history)-keep:]
	}
}
