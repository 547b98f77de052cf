// Package cli runs AI command-line tools as grid workers. Each worker kind
// maps to one CLI; every slot opens its own handle.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// DefaultTimeout bounds a single dispatch when the config sets none.
const DefaultTimeout = 30 * time.Minute

// waitDelay bounds how long Wait keeps reading output after the process
// was killed.
const waitDelay = 2 * time.Second

// gracePeriod is how long Close waits for a running CLI after SIGTERM.
const gracePeriod = 5 * time.Second

// Config holds adapter configuration for one worker kind.
type Config struct {
	Kind    core.WorkerKind
	Path    string
	Model   string
	Timeout time.Duration
	WorkDir string
}

// BaseAdapter provides common CLI execution functionality.
type BaseAdapter struct {
	config Config
	logger *logging.Logger

	mu        sync.Mutex
	activeCmd *exec.Cmd
}

// NewBaseAdapter creates a new base adapter.
func NewBaseAdapter(cfg Config, logger *logging.Logger) *BaseAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BaseAdapter{
		config: cfg,
		logger: logger.WithComponent("cli").WithWorker(string(cfg.Kind)),
	}
}

// Config returns the adapter configuration.
func (b *BaseAdapter) Config() Config {
	return b.config
}

// CommandResult holds the result of a CLI execution.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// invocation is one CLI call.
type invocation struct {
	args  []string
	stdin string
	env   []string
}

// ExecuteCommand runs the configured CLI with args, feeding stdin when set.
func (b *BaseAdapter) ExecuteCommand(ctx context.Context, inv invocation) (*CommandResult, error) {
	timeout := b.config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdPath := b.config.Path
	if cmdPath == "" {
		return nil, core.ErrValidation("NO_PATH", "worker path not configured")
	}
	args := inv.args
	// Multi-word paths such as "npx gemini".
	if parts := strings.Fields(cmdPath); len(parts) > 1 {
		cmdPath = parts[0]
		args = append(append([]string(nil), parts[1:]...), args...)
	}

	// #nosec G204 -- command path and args come from validated config
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	configureProcAttr(cmd)
	cmd.WaitDelay = waitDelay
	cmd.Dir = b.config.WorkDir
	if inv.stdin != "" {
		cmd.Stdin = strings.NewReader(inv.stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "QGRID_MANAGED=true", "QGRID_WORKER="+string(b.config.Kind))
	cmd.Env = append(cmd.Env, inv.env...)

	b.logger.Debug("cli: executing command",
		"path", cmdPath,
		"args", len(args),
		"stdin_length", len(inv.stdin),
		"timeout", timeout,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmdPath, err)
	}
	b.setActiveProcess(cmd)
	err := cmd.Wait()
	b.clearActiveProcess()

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		b.logger.Error("cli: command timeout", "duration", result.Duration, "timeout", timeout,
			"stderr_preview", truncate(result.Stderr, 1000))
		return result, core.ErrTimeout(fmt.Sprintf("%s timed out after %v", b.config.Kind, timeout))
	case errors.Is(ctx.Err(), context.Canceled):
		b.logger.Info("cli: command cancelled", "duration", result.Duration)
		return result, core.ErrCancelled("dispatch cancelled")
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			b.logger.Warn("cli: command failed",
				"exit_code", result.ExitCode,
				"duration", result.Duration,
				"stderr", truncate(result.Stderr, 2000),
			)
			return result, b.classifyError(result)
		}
		return result, fmt.Errorf("executing %s: %w", cmdPath, err)
	}

	b.logger.Debug("cli: command completed",
		"duration", result.Duration,
		"stdout_length", len(result.Stdout),
	)
	return result, nil
}

// classifyError converts a non-zero exit into a domain error.
func (b *BaseAdapter) setActiveProcess(cmd *exec.Cmd) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeCmd = cmd
}

func (b *BaseAdapter) clearActiveProcess() {
	b.setActiveProcess(nil)
}

// activeProcess is the CLI currently running on this handle, if any.
func (b *BaseAdapter) activeProcess() *exec.Cmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeCmd
}

func (b *BaseAdapter) classifyError(result *CommandResult) error {
	msg := strings.TrimSpace(result.Stderr)
	if msg == "" {
		msg = extractErrorFromOutput(result.Stdout)
	}
	if msg == "" {
		msg = "(no error message captured)"
	}
	lower := strings.ToLower(msg)

	if containsAny(lower, []string{"rate limit", "too many requests", "429", "quota"}) {
		return core.ErrRateLimit(msg)
	}
	de := core.ErrWorkerFailure(b.config.Kind,
		fmt.Sprintf("exit code %d: %s", result.ExitCode, truncate(msg, 500)))
	if containsAny(lower, []string{"unauthorized", "authentication", "api key", "not logged in"}) {
		return de.WithDetail("reason", "auth")
	}
	return de
}

// extractErrorFromOutput finds an error message in JSON lines of stdout.
func extractErrorFromOutput(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return msg
		}
		if inner, ok := obj["error"].(map[string]any); ok {
			if msg, ok := inner["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "... [truncated]"
	}
	return s
}

// CheckAvailability reports whether the CLI binary can be found.
func (b *BaseAdapter) CheckAvailability() error {
	fields := strings.Fields(b.config.Path)
	if len(fields) == 0 {
		return core.ErrValidation("NO_PATH", "worker path not configured")
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return core.ErrNotFound("cli", fields[0]).WithCause(err)
	}
	return nil
}

// cliWorker adapts a CLI to core.Worker.
type cliWorker struct {
	*BaseAdapter
	build func(task core.Task, model string) invocation
	parse func(stdout string) string
}

// Kind returns the worker kind.
func (w *cliWorker) Kind() core.WorkerKind {
	return w.config.Kind
}

// Dispatch runs the CLI for one task and returns its answer.
func (w *cliWorker) Dispatch(ctx context.Context, task core.Task) (*core.DispatchResult, error) {
	model := task.ModelHint
	if model == "" {
		model = w.config.Model
	}
	res, err := w.ExecuteCommand(ctx, w.build(task, model))
	if err != nil {
		out := &core.DispatchResult{Model: model, Error: err.Error()}
		if res != nil {
			out.Duration = res.Duration
		}
		return out, err
	}
	return &core.DispatchResult{
		Success:  true,
		Output:   strings.TrimSpace(w.parse(res.Stdout)),
		Model:    model,
		Duration: res.Duration,
	}, nil
}

// Close terminates a CLI that is still running.
func (w *cliWorker) Close() error {
	return w.GracefulKill(gracePeriod)
}

// isDeepFeature reports whether a function hint asks for a long-running mode.
func isDeepFeature(feature string) bool {
	f := strings.ToLower(feature)
	return containsAny(f, []string{"deep research", "research", "think", "agent"})
}
