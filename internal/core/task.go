package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskID uniquely identifies a task instance. Retries of the same cell get a new ID.
type TaskID string

// NewTaskID returns a fresh random task identifier.
func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

// TaskKind distinguishes tasks whose prompt is self-contained from tasks
// whose prompt embeds another column's answer.
type TaskKind string

const (
	TaskKindPrimary   TaskKind = "primary"
	TaskKindDependent TaskKind = "dependent"
)

// TaskStatus is the terminal state of a dispatched task.
type TaskStatus string

const (
	TaskStatusCompleted      TaskStatus = "completed"
	TaskStatusFailed         TaskStatus = "failed"
	TaskStatusEmpty          TaskStatus = "empty"
	TaskStatusResponseFailed TaskStatus = "responseFailed"
	// TaskStatusClaimDenied means another identity holds an active lease on the cell.
	TaskStatusClaimDenied TaskStatus = "claimDenied"
	// TaskStatusAlreadyAnswered means the cell was answered before dispatch.
	TaskStatusAlreadyAnswered TaskStatus = "alreadyAnswered"
)

// Settled reports whether the cell needs no further work after this status.
func (s TaskStatus) Settled() bool {
	return s == TaskStatusCompleted || s == TaskStatusAlreadyAnswered
}

// Task is one pending answer cell. Tasks are values and never mutated after
// creation; Retry derives a new Task for the same cell.
type Task struct {
	ID          TaskID     `json:"id"`
	GroupID     string     `json:"group_id"`
	Row         int        `json:"row"`
	Column      string     `json:"column"`
	ColumnIndex int        `json:"column_index"`
	WorkerKind  WorkerKind `json:"worker_kind"`
	ModelHint   string     `json:"model_hint,omitempty"`
	FeatureHint string     `json:"feature_hint,omitempty"`
	PromptText  string     `json:"prompt_text"`
	CreatedAt   time.Time  `json:"created_at"`
	Kind        TaskKind   `json:"kind"`
	Attempt     int        `json:"attempt"`
}

// Cell returns the answer cell this task writes to.
func (t Task) Cell() CellRef {
	return Cell(t.Row, t.ColumnIndex)
}

// Key returns the stable per-cell key used by ledgers and seen sets.
func (t Task) Key() string {
	return t.Cell().String()
}

// Retry returns a new task for the same cell with a fresh identity.
func (t Task) Retry(now time.Time) Task {
	next := t
	next.ID = NewTaskID()
	next.CreatedAt = now
	next.Attempt = t.Attempt + 1
	return next
}

// TaskOutcome is the result of running one task.
type TaskOutcome struct {
	Task     Task          `json:"task"`
	Status   TaskStatus    `json:"status"`
	Output   string        `json:"output,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
	Slot     int           `json:"slot"`
}

// Succeeded reports whether the outcome settles the cell.
func (o TaskOutcome) Succeeded() bool {
	return o.Status.Settled()
}
