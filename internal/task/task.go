// Package task defines the task and recurring-definition records shared by
// the generator, the dispatcher's overdue pass, and the stores. Task CRUD
// itself lives outside this module; only the fields the scheduling core
// reads and writes are modeled.
package task

import (
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Subtask struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Done  bool      `json:"done"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Task is a concrete unit of work. Instances produced from a recurring
// definition carry DefinitionID as a back-reference; everything else about
// their lifecycle belongs to ordinary task handling.
type Task struct {
	ID         uuid.UUID
	CreatorID  uuid.UUID
	AssigneeID *uuid.UUID

	Title       string
	Description string
	Priority    Priority
	Labels      []string
	Subtasks    []Subtask
	Attachments []Attachment

	DueDate      *time.Time
	DefinitionID *uuid.UUID

	Completed   bool
	CompletedAt *time.Time
	Deleted     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Overdue reports whether the task is past due and still open at the given
// instant.
func (t *Task) Overdue(at time.Time) bool {
	if t.Completed || t.Deleted || t.DueDate == nil {
		return false
	}
	return t.DueDate.Before(at)
}

// Recipient is who due-date notifications about the task go to: the
// assignee when set, otherwise the creator.
func (t *Task) Recipient() uuid.UUID {
	if t.AssigneeID != nil {
		return *t.AssigneeID
	}
	return t.CreatorID
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate shared state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Labels = append([]string(nil), t.Labels...)
	cp.Subtasks = append([]Subtask(nil), t.Subtasks...)
	cp.Attachments = append([]Attachment(nil), t.Attachments...)
	if t.AssigneeID != nil {
		v := *t.AssigneeID
		cp.AssigneeID = &v
	}
	if t.DueDate != nil {
		v := *t.DueDate
		cp.DueDate = &v
	}
	if t.DefinitionID != nil {
		v := *t.DefinitionID
		cp.DefinitionID = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}
