// Package report turns answer cells into markdown files. It is the
// side-effect producer behind report and sideEffect groups.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// DefaultDir is used when no report directory is configured.
const DefaultDir = ".qgrid/reports"

// Config configures the producer.
type Config struct {
	Dir string
	// Now stamps generated files; defaults to time.Now.
	Now func() time.Time
}

// Producer writes one markdown file per processed row under
// <Dir>/<group>/row-<n>.md. Rewriting a row replaces the file atomically.
type Producer struct {
	dir    string
	now    func() time.Time
	logger *logging.Logger
}

// NewProducer creates a markdown producer.
func NewProducer(cfg Config, logger *logging.Logger) *Producer {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Producer{dir: cfg.Dir, now: cfg.Now, logger: logger.WithComponent("report")}
}

// Dir returns the output root.
func (p *Producer) Dir() string {
	return p.dir
}

// Path returns the file a request renders to.
func (p *Producer) Path(req core.SideEffectRequest) string {
	return filepath.Join(p.dir, safeName(req.GroupID), fmt.Sprintf("row-%d.md", req.Row+1))
}

// Produce renders the source text and returns the written path as the
// result reference. Blank source text is an unsuccessful result, not an
// error, so the row is retried once an answer appears.
func (p *Producer) Produce(ctx context.Context, req core.SideEffectRequest) (*core.SideEffectResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled("produce cancelled").WithCause(err)
	}
	text := strings.TrimSpace(req.SourceText)
	if text == "" {
		return &core.SideEffectResult{Error: "source cell " + req.SourceCell.String() + " is empty"}, nil
	}

	path := p.Path(req)
	if err := fsutil.WriteFileAtomic(path, []byte(p.render(req, text)), 0o640); err != nil {
		return nil, fmt.Errorf("writing report %s: %w", path, err)
	}

	p.logger.Debug("report written", "group", req.GroupID, "row", req.Row+1, "path", path)
	return &core.SideEffectResult{Success: true, ResultRef: path}, nil
}

func (p *Producer) render(req core.SideEffectRequest, text string) string {
	fm := NewFrontmatter()
	fm.Set("group", req.GroupID)
	fm.Set("type", string(req.GroupType))
	fm.Set("row", req.Row+1)
	fm.Set("source_cell", req.SourceCell.String())
	fm.Set("generated_at", p.now().UTC().Format(time.RFC3339))

	var sb strings.Builder
	sb.WriteString(fm.Render())
	sb.WriteString("# ")
	sb.WriteString(title(text))
	sb.WriteString("\n\n")
	sb.WriteString(text)
	sb.WriteString("\n")
	return sb.String()
}

// title is the first non-empty line of text without markdown heading marks,
// cut to 80 runes.
func title(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 80 {
			return string(r[:80]) + "..."
		}
		return line
	}
	return "Report"
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(s string) string {
	s = strings.Trim(unsafeChars.ReplaceAllString(s, "_"), "._")
	if s == "" {
		return "group"
	}
	return s
}

var _ core.SideEffectProducer = (*Producer)(nil)
