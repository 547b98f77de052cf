package events

import "time"

// Event type constants for scheduler runs.
const (
	TypeRunStarted     = "run_started"
	TypeRunCompleted   = "run_completed"
	TypeGroupStarted   = "group_started"
	TypeGroupCompleted = "group_completed"
	TypeGroupHalted    = "group_halted"
	TypeTaskCompleted  = "task_completed"
	TypeTaskFailed     = "task_failed"
	TypeRetryPass      = "retry_pass"
)

// RunStartedEvent is emitted when the scheduler loop begins.
type RunStartedEvent struct {
	BaseEvent
	Identity string   `json:"identity"`
	Groups   []string `json:"groups,omitempty"`
	TestMode bool     `json:"test_mode"`
}

// NewRunStartedEvent creates a run started event.
func NewRunStartedEvent(runID, identity string, groups []string, testMode bool) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent: NewBaseEvent(TypeRunStarted, runID),
		Identity:  identity,
		Groups:    groups,
		TestMode:  testMode,
	}
}

// RunCompletedEvent is emitted when the scheduler loop exits.
type RunCompletedEvent struct {
	BaseEvent
	Success     bool          `json:"success"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	HaltedGroup string        `json:"halted_group,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// NewRunCompletedEvent creates a run completed event.
func NewRunCompletedEvent(runID string, success bool, total, completed, failed int, halted string, d time.Duration) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent:   NewBaseEvent(TypeRunCompleted, runID),
		Success:     success,
		Total:       total,
		Completed:   completed,
		Failed:      failed,
		HaltedGroup: halted,
		Duration:    d,
	}
}

// GroupStartedEvent is emitted when a group becomes the current group.
type GroupStartedEvent struct {
	BaseEvent
	GroupID   string `json:"group_id"`
	GroupType string `json:"group_type"`
	Sequence  int    `json:"sequence"`
}

// NewGroupStartedEvent creates a group started event.
func NewGroupStartedEvent(runID, groupID, groupType string, sequence int) GroupStartedEvent {
	return GroupStartedEvent{
		BaseEvent: NewBaseEvent(TypeGroupStarted, runID),
		GroupID:   groupID,
		GroupType: groupType,
		Sequence:  sequence,
	}
}

// GroupCompletedEvent is emitted when a group has no outstanding cells.
type GroupCompletedEvent struct {
	BaseEvent
	GroupID   string        `json:"group_id"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// NewGroupCompletedEvent creates a group completed event.
func NewGroupCompletedEvent(runID, groupID string, completed, failed int, d time.Duration) GroupCompletedEvent {
	return GroupCompletedEvent{
		BaseEvent: NewBaseEvent(TypeGroupCompleted, runID),
		GroupID:   groupID,
		Completed: completed,
		Failed:    failed,
		Duration:  d,
	}
}

// GroupHaltedEvent is emitted when a group hits the retry ceiling.
type GroupHaltedEvent struct {
	BaseEvent
	GroupID     string `json:"group_id"`
	RetryPasses int    `json:"retry_passes"`
	Outstanding int    `json:"outstanding"`
}

// NewGroupHaltedEvent creates a group halted event.
func NewGroupHaltedEvent(runID, groupID string, passes, outstanding int) GroupHaltedEvent {
	return GroupHaltedEvent{
		BaseEvent:   NewBaseEvent(TypeGroupHalted, runID),
		GroupID:     groupID,
		RetryPasses: passes,
		Outstanding: outstanding,
	}
}

// TaskCompletedEvent is emitted when an answer is written back.
type TaskCompletedEvent struct {
	BaseEvent
	GroupID    string        `json:"group_id"`
	TaskID     string        `json:"task_id"`
	Cell       string        `json:"cell"`
	WorkerKind string        `json:"worker_kind"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"duration"`
}

// NewTaskCompletedEvent creates a task completed event.
func NewTaskCompletedEvent(runID, groupID, taskID, cell, kind string, attempt int, d time.Duration) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent:  NewBaseEvent(TypeTaskCompleted, runID),
		GroupID:    groupID,
		TaskID:     taskID,
		Cell:       cell,
		WorkerKind: kind,
		Attempt:    attempt,
		Duration:   d,
	}
}

// TaskFailedEvent is emitted when a task does not settle its cell.
type TaskFailedEvent struct {
	BaseEvent
	GroupID string `json:"group_id"`
	TaskID  string `json:"task_id"`
	Cell    string `json:"cell"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// NewTaskFailedEvent creates a task failed event.
func NewTaskFailedEvent(runID, groupID, taskID, cell, status string, err error) TaskFailedEvent {
	e := TaskFailedEvent{
		BaseEvent: NewBaseEvent(TypeTaskFailed, runID),
		GroupID:   groupID,
		TaskID:    taskID,
		Cell:      cell,
		Status:    status,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// RetryPassEvent is emitted before each retry pass of a group.
type RetryPassEvent struct {
	BaseEvent
	GroupID string        `json:"group_id"`
	Pass    int           `json:"pass"`
	Tasks   int           `json:"tasks"`
	Delay   time.Duration `json:"delay"`
}

// NewRetryPassEvent creates a retry pass event.
func NewRetryPassEvent(runID, groupID string, pass, tasks int, delay time.Duration) RetryPassEvent {
	return RetryPassEvent{
		BaseEvent: NewBaseEvent(TypeRetryPass, runID),
		GroupID:   groupID,
		Pass:      pass,
		Tasks:     tasks,
		Delay:     delay,
	}
}
