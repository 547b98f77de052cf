package core

import "fmt"

// WorkerKind selects the worker adapter that answers a column.
type WorkerKind string

const (
	WorkerChatGPT WorkerKind = "chatgpt"
	WorkerClaude  WorkerKind = "claude"
	WorkerGemini  WorkerKind = "gemini"
	// WorkerEcho answers with the prompt itself; used in test mode.
	WorkerEcho WorkerKind = "echo"
)

// KnownWorkerKinds lists the kinds the sheet may name, in fan-out default order.
func KnownWorkerKinds() []WorkerKind {
	return []WorkerKind{WorkerChatGPT, WorkerClaude, WorkerGemini}
}

// GroupType classifies how a group is executed.
type GroupType string

const (
	GroupSingle     GroupType = "single"
	GroupFanout     GroupType = "fanout3"
	GroupReport     GroupType = "report"
	GroupSideEffect GroupType = "sideEffect"
)

// Special reports whether the group bypasses the generic generator/slot path.
func (t GroupType) Special() bool {
	return t == GroupReport || t == GroupSideEffect
}

// AnswerColumn is one output column of a group.
type AnswerColumn struct {
	Index      int        `json:"index"`
	Label      string     `json:"label"`
	WorkerKind WorkerKind `json:"worker_kind"`
}

// Letter returns the column letter.
func (a AnswerColumn) Letter() string {
	return ColumnLetter(a.Index)
}

// ColumnLayout lists the columns a group reads and writes.
// LogColumn is -1 when the group has no log column.
type ColumnLayout struct {
	LogColumn     int            `json:"log_column"`
	PromptColumns []int          `json:"prompt_columns"`
	AnswerColumns []AnswerColumn `json:"answer_columns"`
}

// HasLog reports whether the group has a log column.
func (c ColumnLayout) HasLog() bool {
	return c.LogColumn >= 0
}

// Anchor returns the column that identifies the group.
func (c ColumnLayout) Anchor() int {
	if c.LogColumn >= 0 {
		return c.LogColumn
	}
	if len(c.PromptColumns) > 0 {
		return c.PromptColumns[0]
	}
	if len(c.AnswerColumns) > 0 {
		return c.AnswerColumns[0].Index
	}
	return -1
}

// Contains reports whether col belongs to the group.
func (c ColumnLayout) Contains(col int) bool {
	if c.LogColumn == col {
		return true
	}
	for _, p := range c.PromptColumns {
		if p == col {
			return true
		}
	}
	for _, a := range c.AnswerColumns {
		if a.Index == col {
			return true
		}
	}
	return false
}

// Answer returns the answer column with the given index.
func (c ColumnLayout) Answer(col int) (AnswerColumn, bool) {
	for _, a := range c.AnswerColumns {
		if a.Index == col {
			return a, true
		}
	}
	return AnswerColumn{}, false
}

// TaskGroup is a set of prompt/answer columns scheduled as a unit.
// Groups are rebuilt on every structure scan and treated as immutable.
type TaskGroup struct {
	ID            string       `json:"id"`
	SequenceOrder int          `json:"sequence_order"`
	Dependencies  []string     `json:"dependencies,omitempty"`
	Columns       ColumnLayout `json:"columns"`
	Type          GroupType    `json:"type"`
	WorkerKind    WorkerKind   `json:"worker_kind"`
	// Label is the header text that opened the group, for display.
	Label string `json:"label,omitempty"`
}

// GroupKey derives the stable group identity from its anchor column.
func GroupKey(anchorCol int) string {
	return fmt.Sprintf("grp-%s", ColumnLetter(anchorCol))
}

// ControlRows records the zero-based row index of each control row, -1 when absent.
type ControlRows struct {
	Menu     int `json:"menu"`
	AI       int `json:"ai"`
	Model    int `json:"model"`
	Function int `json:"function"`
	Depends  int `json:"depends"`
}

// Last returns the highest control row index.
func (c ControlRows) Last() int {
	last := -1
	for _, r := range []int{c.Menu, c.AI, c.Model, c.Function, c.Depends} {
		if r > last {
			last = r
		}
	}
	return last
}

// Layout is the result of a structure analysis pass.
type Layout struct {
	Control  ControlRows  `json:"control"`
	Groups   []*TaskGroup `json:"groups"`
	WorkRows RowRange     `json:"work_rows"`
	// Hints holds the model and function row values keyed by column.
	ModelHints    map[int]string `json:"-"`
	FunctionHints map[int]string `json:"-"`
}

// Group returns the group with the given id.
func (l *Layout) Group(id string) (*TaskGroup, bool) {
	for _, g := range l.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return nil, false
}

// GroupForColumn returns the group that owns col.
func (l *Layout) GroupForColumn(col int) (*TaskGroup, bool) {
	for _, g := range l.Groups {
		if g.Columns.Contains(col) {
			return g, true
		}
	}
	return nil, false
}
