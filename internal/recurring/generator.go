// Package recurring materializes task instances from recurring
// definitions. The generator owns all cursor and occurrence-count
// mutation; the recurrence calculator stays pure.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskdue/internal/clock"
	"taskdue/internal/recurrence"
	"taskdue/internal/storage"
	"taskdue/internal/task"
	logx "taskdue/pkg/logx"
)

var (
	// ErrSeriesEnded rejects rule updates against a retired definition.
	ErrSeriesEnded = errors.New("recurring: series has ended")

	ErrNoTitle = errors.New("recurring: template needs a title")
	ErrNoOwner = errors.New("recurring: definition needs an owner")
)

// Result is one definition's outcome within a generation pass. TaskID is
// zero when no instance materialized (series retired on budget, or Err).
type Result struct {
	DefinitionID uuid.UUID
	TaskID       uuid.UUID
	Due          time.Time
	Ended        bool
	Err          error
}

// Config tunes generation. Zero values take defaults.
type Config struct {
	// BatchLimit caps definitions per pass; leftovers wait for the next
	// tick.
	BatchLimit int
}

type Generator struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	clk   clock.Clock
	log   logx.Logger
}

func NewGenerator(cfg Config, store storage.Store, clk clock.Clock, log logx.Logger) *Generator {
	if clk == nil {
		clk = clock.System{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Generator{store: store, clk: clk, log: log}
	g.applyLocked(cfg)
	return g
}

// Apply swaps runtime tuning; in-flight passes keep their snapshot.
func (g *Generator) Apply(cfg Config) {
	g.mu.Lock()
	g.applyLocked(cfg)
	g.mu.Unlock()
}

func (g *Generator) applyLocked(cfg Config) {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	g.cfg = cfg
}

func (g *Generator) snapshot() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Create validates and persists a new series. The cursor seeds from
// firstDue, so the first generated instance reuses the anchor task's own
// due date.
func (g *Generator) Create(ctx context.Context, ownerID uuid.UUID, tmpl task.Template, rule recurrence.Rule, firstDue time.Time) (*task.Definition, error) {
	if ownerID == uuid.Nil {
		return nil, ErrNoOwner
	}
	if strings.TrimSpace(tmpl.Title) == "" {
		return nil, ErrNoTitle
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	now := g.clk.Now()
	due := firstDue
	d := &task.Definition{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Template:  tmpl,
		Rule:      rule.Clone(),
		NextDue:   &due,
		Status:    task.DefinitionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateDefinition(ctx, d); err != nil {
		return nil, fmt.Errorf("persist definition: %w", err)
	}
	g.log.Debug("recurring series created",
		logx.String("id", d.ID.String()),
		logx.String("frequency", string(rule.Frequency)),
		logx.Time("first_due", due))
	return d, nil
}

// GenerateDue materializes an instance for every due definition and
// advances its cursor. One result per definition picked up; a failing
// definition keeps its cursor so the next pass retries, and never stops
// the rest of the batch.
func (g *Generator) GenerateDue(ctx context.Context) ([]Result, error) {
	cfg := g.snapshot()
	now := g.clk.Now()

	due, err := g.store.ListDueDefinitions(ctx, now, cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list due definitions: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(due))
	generated, ended := 0, 0
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := g.generateOne(ctx, d, now)
		results = append(results, res)
		switch {
		case res.Err != nil:
			g.log.Warn("generation failed for definition",
				logx.String("id", d.ID.String()),
				logx.Err(res.Err))
		default:
			if res.TaskID != uuid.Nil {
				generated++
			}
			if res.Ended {
				ended++
			}
		}
	}
	g.log.Info("generation pass done",
		logx.Int("due", len(due)),
		logx.Int("generated", generated),
		logx.Int("ended", ended))
	return results, nil
}

func (g *Generator) generateOne(ctx context.Context, d *task.Definition, now time.Time) Result {
	res := Result{DefinitionID: d.ID}

	// The listing already filtered on status and cursor; the occurrence
	// budget is re-checked here so a stale row retires instead of
	// generating past its bound.
	if d.TerminationMet() || d.NextDue == nil {
		res.Ended = true
		res.Err = g.retire(ctx, d, now)
		return res
	}

	due := *d.NextDue
	inst := d.Materialize(due, now)
	if err := g.store.CreateTask(ctx, inst); err != nil {
		res.Err = fmt.Errorf("materialize instance: %w", err)
		return res
	}
	res.TaskID = inst.ID
	res.Due = due

	d.OccurrenceCount++
	next, ok := recurrence.Next(d.Rule, due)
	if !ok || d.TerminationMet() {
		d.NextDue = nil
		d.Status = task.DefinitionEnded
		res.Ended = true
	} else {
		d.NextDue = &next
	}
	d.UpdatedAt = now

	if err := g.store.UpdateDefinition(ctx, d); err != nil {
		// The instance exists but the cursor did not advance; the next
		// pass will re-materialize. At-least-once, like dispatch.
		res.Err = fmt.Errorf("advance cursor: %w", err)
		return res
	}

	g.log.Debug("instance generated",
		logx.String("definition", d.ID.String()),
		logx.String("task", inst.ID.String()),
		logx.Time("due", due),
		logx.Bool("ended", res.Ended))
	return res
}

func (g *Generator) retire(ctx context.Context, d *task.Definition, now time.Time) error {
	d.NextDue = nil
	d.Status = task.DefinitionEnded
	d.UpdatedAt = now
	if err := g.store.UpdateDefinition(ctx, d); err != nil {
		return fmt.Errorf("retire definition: %w", err)
	}
	g.log.Debug("recurring series ended", logx.String("id", d.ID.String()))
	return nil
}

// RulePatch is a partial rule update; nil fields stay untouched.
// DaysOfWeek replaces wholesale when non-nil. ClearEndDate removes the end
// bound; when EndDate is also set, EndDate wins.
type RulePatch struct {
	Frequency  *recurrence.Frequency
	Interval   *int
	DaysOfWeek []time.Weekday
	DayOfMonth *int

	EndDate        *time.Time
	ClearEndDate   bool
	MaxOccurrences *int
}

// UpdateRule merges the patch into the definition's rule. A frequency or
// interval change recomputes the cursor from the current cursor, not from
// now, so the series keeps its cadence anchor.
func (g *Generator) UpdateRule(ctx context.Context, defID uuid.UUID, patch RulePatch) (*task.Definition, error) {
	d, err := g.store.GetDefinition(ctx, defID)
	if err != nil {
		return nil, err
	}
	if d.Status == task.DefinitionEnded || d.Deleted {
		return nil, ErrSeriesEnded
	}

	merged := d.Rule.Clone()
	cadenceChanged := false
	if patch.Frequency != nil && *patch.Frequency != merged.Frequency {
		merged.Frequency = *patch.Frequency
		cadenceChanged = true
	}
	if patch.Interval != nil && *patch.Interval != merged.Interval {
		merged.Interval = *patch.Interval
		cadenceChanged = true
	}
	if patch.DaysOfWeek != nil {
		merged.DaysOfWeek = append([]time.Weekday(nil), patch.DaysOfWeek...)
	}
	if patch.DayOfMonth != nil {
		merged.DayOfMonth = *patch.DayOfMonth
	}
	if patch.ClearEndDate {
		merged.EndDate = nil
	}
	if patch.EndDate != nil {
		v := *patch.EndDate
		merged.EndDate = &v
	}
	if patch.MaxOccurrences != nil {
		merged.MaxOccurrences = *patch.MaxOccurrences
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	d.Rule = merged
	if cadenceChanged && d.NextDue != nil {
		if next, ok := recurrence.Next(merged, *d.NextDue); ok {
			d.NextDue = &next
		} else {
			d.NextDue = nil
			d.Status = task.DefinitionEnded
		}
	}
	d.UpdatedAt = g.clk.Now()

	if err := g.store.UpdateDefinition(ctx, d); err != nil {
		return nil, fmt.Errorf("store rule update: %w", err)
	}
	g.log.Debug("recurrence rule updated",
		logx.String("id", d.ID.String()),
		logx.Bool("cadence_changed", cadenceChanged))
	return d, nil
}
