package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "taskdue/pkg/logx"
)

// Register parses the schedule string and registers the pass under it.
// Registering before Start is fine; the pass activates when Start runs.
// Re-registering a name replaces the previous pass, so hot reloads cannot
// stack duplicates.
func (s *Service) Register(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.RegisterCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.RegisterInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) RegisterCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	return s.register(name, "cron", spec, timeout, job)
}

func (s *Service) RegisterInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.register(name, "interval", fmt.Sprintf("@every %s", every), timeout, job)
}

// RegisterDaily fires once a day at HH:MM in the poller timezone.
func (s *Service) RegisterDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	h, m, err := ParseDaily(atHHMM)
	if err != nil {
		return "", err
	}
	return s.register(name, "daily", fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) register(name, prefix, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removePassLocked(name)
	d := passDef{
		id:      fmt.Sprintf("%s:%d", prefix, time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		state:   &runState{},
	}
	s.defs = append(s.defs, d)

	if s.c == nil {
		// Not started yet; Start will register the entry.
		return d.id, nil
	}
	ref := &s.defs[len(s.defs)-1]
	if err := s.addEntryLocked(ref); err != nil {
		s.log.Error("pass register failed",
			logx.String("pass", name),
			logx.String("spec", spec),
			logx.Err(err))
		return d.id, err
	}
	s.log.Debug("pass registered",
		logx.String("pass", name),
		logx.String("spec", spec),
		logx.Duration("timeout", timeout))
	return d.id, nil
}

// Remove unregisters the named pass. Returns whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removePassLocked(name)
}

func (s *Service) removePassLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addEntryLocked(d *passDef) error {
	eid, err := s.c.AddFunc(d.spec, func() { s.runPass(d) })
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		_ = s.addEntryLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("poller restarted",
		logx.String("tz", loc.String()),
		logx.Int("passes", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local",
			logx.String("tz", tz),
			logx.Err(err))
		return time.Local
	}
	return loc
}
