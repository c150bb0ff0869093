package poller

import "time"

// PassInfo is one registered pass as seen by status surfaces.
type PassInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Running bool          `json:"running"`
}

type Snapshot struct {
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	Timezone string        `json:"timezone"`
	Skipped  uint64        `json:"skipped"`
	Passes   []PassInfo    `json:"passes"`
	History  []HistoryItem `json:"history,omitempty"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := make([]passDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	if tz == "" && loc != nil {
		tz = loc.String()
	}

	passes := make([]PassInfo, 0, len(defs))
	for _, d := range defs {
		it := PassInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		d.state.mu.Lock()
		it.Running = d.state.running
		d.state.mu.Unlock()
		passes = append(passes, it)
	}

	s.hmu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:  enabled,
		Running:  c != nil,
		Timezone: tz,
		Skipped:  s.skipped.Load(),
		Passes:   passes,
		History:  hist,
	}
}
