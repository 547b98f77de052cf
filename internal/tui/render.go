package tui

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service/grid"
)

// Renderer formats scheduler output. In plain mode styles are skipped.
type Renderer struct {
	styled bool
}

// NewRenderer creates a renderer for the given mode. ModeJSON renders plain.
func NewRenderer(mode OutputMode) *Renderer {
	return &Renderer{styled: mode == ModeStyled}
}

func (r *Renderer) paint(style lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return style.Render(text)
}

func (r *Renderer) header(text string) string {
	if !r.styled {
		return text + "\n\n"
	}
	return HeaderStyle.Render(text) + "\n"
}

func (r *Renderer) box(body string) string {
	body = strings.TrimRight(body, "\n")
	if !r.styled {
		return body + "\n"
	}
	return BoxStyle.Render(body) + "\n"
}

func (r *Renderer) field(label, value string) string {
	if !r.styled {
		return fmt.Sprintf("%-12s%s\n", label, value)
	}
	return LabelStyle.Render(label) + ValueStyle.Render(value) + "\n"
}

// RunSummary renders the result of a scheduler run.
func (r *Renderer) RunSummary(res *grid.RunResult) string {
	var sb strings.Builder
	sb.WriteString(r.header("Run " + res.RunID))

	var body strings.Builder
	body.WriteString(r.field("outcome", r.outcome(res)))
	body.WriteString(r.field("completed", r.paint(CompletedStyle, fmt.Sprint(res.Completed))))
	body.WriteString(r.field("failed", r.count(FailedStyle, res.Failed)))
	body.WriteString(r.field("skipped", r.count(SkippedStyle, res.Skipped)))
	body.WriteString(r.field("total", fmt.Sprint(res.Total)))
	body.WriteString(r.field("iterations", fmt.Sprint(res.Iterations)))
	body.WriteString(r.field("duration", res.TotalTime.Round(time.Millisecond).String()))
	sb.WriteString(r.box(body.String()))

	if len(res.Groups) > 0 {
		sb.WriteString("\n")
		var table strings.Builder
		tw := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "GROUP\tTYPE\tDONE\tFAILED\tSKIPPED\tRETRIES\tDURATION\t")
		for _, g := range res.Groups {
			mark := ""
			switch {
			case g.Halted:
				mark = "halted"
			case g.SkipReason != "":
				mark = "skipped: " + g.SkipReason
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
				g.ID, g.Type, g.Completed, g.Failed, g.Skipped, g.RetryPasses,
				g.Duration.Round(time.Millisecond), mark)
		}
		_ = tw.Flush()
		sb.WriteString(r.colorHalted(table.String()))
	}
	return sb.String()
}

func (r *Renderer) outcome(res *grid.RunResult) string {
	switch {
	case res.HaltedGroup != "":
		return r.paint(FailedStyle, "halted at "+res.HaltedGroup)
	case res.Stopped:
		return r.paint(WarningStyle, "stopped")
	case res.CapReached:
		return r.paint(WarningStyle, "iteration cap reached")
	case len(res.SkippedGroups) > 0:
		return r.paint(WarningStyle, "skipped "+strings.Join(res.SkippedGroups, ", "))
	case res.Success:
		return r.paint(CompletedStyle, "success")
	default:
		return r.paint(FailedStyle, "failed")
	}
}

func (r *Renderer) count(style lipgloss.Style, n int) string {
	if n == 0 {
		return "0"
	}
	return r.paint(style, fmt.Sprint(n))
}

// colorHalted paints table rows that end with the halted marker.
func (r *Renderer) colorHalted(table string) string {
	if !r.styled {
		return table
	}
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	for i, line := range lines {
		if strings.HasSuffix(strings.TrimSpace(line), "halted") {
			lines[i] = FailedStyle.Render(line)
		} else if i == 0 {
			lines[i] = MutedStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// Layout renders the analyzed sheet structure.
func (r *Renderer) Layout(l *core.Layout) string {
	var sb strings.Builder
	sb.WriteString(r.header(fmt.Sprintf("%d groups", len(l.Groups))))

	var body strings.Builder
	body.WriteString(r.field("menu row", rowLabel(l.Control.Menu)))
	body.WriteString(r.field("ai row", rowLabel(l.Control.AI)))
	body.WriteString(r.field("model row", rowLabel(l.Control.Model)))
	body.WriteString(r.field("function row", rowLabel(l.Control.Function)))
	if l.WorkRows.Empty() {
		body.WriteString(r.field("work rows", "none"))
	} else {
		body.WriteString(r.field("work rows", fmt.Sprintf("%d-%d", l.WorkRows.Start+1, l.WorkRows.End+1)))
	}
	sb.WriteString(r.box(body.String()))

	if len(l.Groups) == 0 {
		return sb.String()
	}
	sb.WriteString("\n")
	var table strings.Builder
	tw := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tGROUP\tTYPE\tPROMPTS\tANSWERS\tDEPENDS")
	for _, g := range l.Groups {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			g.SequenceOrder, g.ID, g.Type,
			orDash(columnLetters(g.Columns.PromptColumns)),
			orDash(answerLabels(g.Columns.AnswerColumns)),
			orDash(strings.Join(g.Dependencies, ",")))
	}
	_ = tw.Flush()

	if !r.styled {
		sb.WriteString(table.String())
		return sb.String()
	}
	lines := strings.Split(strings.TrimRight(table.String(), "\n"), "\n")
	for i, line := range lines {
		if i == 0 {
			lines[i] = MutedStyle.Render(line)
			continue
		}
		lines[i] = GroupTypeStyle(l.Groups[i-1].Type).Render(line)
	}
	sb.WriteString(strings.Join(lines, "\n") + "\n")
	return sb.String()
}

// Status renders a control surface snapshot.
func (r *Renderer) Status(st grid.Status) string {
	var body strings.Builder
	state := "idle"
	switch {
	case st.Stopped:
		state = r.paint(WarningStyle, "stopped")
	case st.Paused:
		state = r.paint(WarningStyle, "paused")
	case st.Running:
		state = r.paint(CompletedStyle, "running")
	}
	body.WriteString(r.field("state", state))
	body.WriteString(r.field("phase", string(st.Phase)))
	body.WriteString(r.field("identity", st.Identity))
	if st.RunID != "" {
		body.WriteString(r.field("run", st.RunID))
	}
	if st.CurrentGroup != "" {
		body.WriteString(r.field("group", st.CurrentGroup))
	}
	body.WriteString(r.field("iteration", fmt.Sprint(st.Iteration)))
	body.WriteString(r.field("queue", fmt.Sprint(st.QueueDepth)))
	body.WriteString(r.field("slots", fmt.Sprint(st.ActiveSlots)))
	body.WriteString(r.field("processed", orDash(strings.Join(st.Processed, ","))))
	return r.box(body.String())
}

// CrashDump renders the identifying fields of a crash dump and the first
// lines of its stack.
func (r *Renderer) CrashDump(d *diagnostics.CrashDump) string {
	var sb strings.Builder
	sb.WriteString(r.header("Crash " + d.Timestamp.Format(time.RFC3339)))

	var body strings.Builder
	body.WriteString(r.field("panic", r.paint(FailedStyle, d.PanicValue)))
	body.WriteString(r.field("run", orDash(d.RunID)))
	body.WriteString(r.field("group", orDash(d.GroupID)))
	body.WriteString(r.field("cell", orDash(d.Cell)))
	body.WriteString(r.field("worker", orDash(string(d.WorkerKind))))
	body.WriteString(r.field("attempt", fmt.Sprint(d.Attempt)))
	body.WriteString(r.field("goroutines", fmt.Sprint(d.ResourceState.Goroutines)))
	body.WriteString(r.field("heap", fmt.Sprintf("%.1f MB", d.ResourceState.HeapAllocMB)))
	sb.WriteString(r.box(body.String()))

	if d.StackTrace != "" {
		lines := strings.Split(strings.TrimRight(d.StackTrace, "\n"), "\n")
		if len(lines) > 12 {
			lines = append(lines[:12], "...")
		}
		sb.WriteString("\n" + r.paint(MutedStyle, strings.Join(lines, "\n")) + "\n")
	}
	return sb.String()
}

func rowLabel(row int) string {
	if row < 0 {
		return "-"
	}
	return fmt.Sprint(row + 1)
}

func columnLetters(cols []int) string {
	letters := make([]string, len(cols))
	for i, c := range cols {
		letters[i] = core.ColumnLetter(c)
	}
	return strings.Join(letters, ",")
}

func answerLabels(cols []core.AnswerColumn) string {
	labels := make([]string, len(cols))
	for i, a := range cols {
		labels[i] = a.Letter() + ":" + string(a.WorkerKind)
	}
	return strings.Join(labels, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
