package task

import (
	"time"

	"github.com/google/uuid"

	"taskdue/internal/recurrence"
)

// Template holds the task fields copied into every generated instance.
type Template struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Priority    Priority     `json:"priority,omitempty"`
	AssigneeID  *uuid.UUID   `json:"assignee_id,omitempty"`
	Labels      []string     `json:"labels,omitempty"`
	Subtasks    []Subtask    `json:"subtasks,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type DefinitionStatus string

const (
	DefinitionActive DefinitionStatus = "active"
	DefinitionEnded  DefinitionStatus = "ended"
)

// Definition is a recurring series: a template plus a rule and a mutable
// cursor. The generator owns all cursor mutation; a definition is retired
// (status ended, cursor cleared) rather than deleted when the series runs
// out.
type Definition struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Template Template
	Rule     recurrence.Rule

	// NextDue is the cursor: when the next instance materializes. Nil once
	// the series has ended. OccurrenceCount only ever grows.
	NextDue         *time.Time
	OccurrenceCount int

	Status  DefinitionStatus
	Deleted bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TerminationMet reports whether the series has exhausted its occurrence
// budget. End-date exhaustion is the calculator's verdict, not checked here.
func (d *Definition) TerminationMet() bool {
	return d.Rule.MaxOccurrences > 0 && d.OccurrenceCount >= d.Rule.MaxOccurrences
}

// GenerationDue reports whether a generation pass at the given instant
// should materialize an instance from this definition.
func (d *Definition) GenerationDue(at time.Time) bool {
	if d.Status != DefinitionActive || d.Deleted || d.NextDue == nil {
		return false
	}
	if d.TerminationMet() {
		return false
	}
	return !d.NextDue.After(at)
}

// Materialize copies the template into a fresh instance due at the given
// date. Subtasks reset to not-done with new identities; the instance points
// back at the definition.
func (d *Definition) Materialize(due, now time.Time) *Task {
	defID := d.ID
	t := &Task{
		ID:           uuid.New(),
		CreatorID:    d.OwnerID,
		Title:        d.Template.Title,
		Description:  d.Template.Description,
		Priority:     d.Template.Priority,
		Labels:       append([]string(nil), d.Template.Labels...),
		Attachments:  append([]Attachment(nil), d.Template.Attachments...),
		DueDate:      &due,
		DefinitionID: &defID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d.Template.AssigneeID != nil {
		v := *d.Template.AssigneeID
		t.AssigneeID = &v
	}
	if len(d.Template.Subtasks) > 0 {
		t.Subtasks = make([]Subtask, 0, len(d.Template.Subtasks))
		for _, st := range d.Template.Subtasks {
			t.Subtasks = append(t.Subtasks, Subtask{ID: uuid.New(), Title: st.Title})
		}
	}
	return t
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Rule = d.Rule.Clone()
	cp.Template.Labels = append([]string(nil), d.Template.Labels...)
	cp.Template.Subtasks = append([]Subtask(nil), d.Template.Subtasks...)
	cp.Template.Attachments = append([]Attachment(nil), d.Template.Attachments...)
	if d.Template.AssigneeID != nil {
		v := *d.Template.AssigneeID
		cp.Template.AssigneeID = &v
	}
	if d.NextDue != nil {
		v := *d.NextDue
		cp.NextDue = &v
	}
	return &cp
}
