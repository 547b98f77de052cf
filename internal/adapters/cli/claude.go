package cli

import (
	"encoding/json"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// NewClaudeWorker opens a handle on the Claude CLI.
func NewClaudeWorker(cfg Config, logger *logging.Logger) core.Worker {
	if cfg.Path == "" {
		cfg.Path = "claude"
	}
	cfg.Kind = core.WorkerClaude
	return &cliWorker{
		BaseAdapter: NewBaseAdapter(cfg, logger),
		build:       claudeInvocation,
		parse:       parseClaudeOutput,
	}
}

// claudeInvocation runs print mode with the prompt on stdin.
func claudeInvocation(task core.Task, model string) invocation {
	args := []string{"--print"}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--output-format", "json")
	return invocation{args: args, stdin: task.PromptText}
}

// parseClaudeOutput extracts the result field of the JSON envelope.
// Non-JSON output is returned as is.
func parseClaudeOutput(stdout string) string {
	trimmed := strings.TrimSpace(stdout)
	if !strings.HasPrefix(trimmed, "{") {
		return stdout
	}
	var envelope struct {
		Result  string `json:"result"`
		IsError bool   `json:"is_error"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return stdout
	}
	if envelope.IsError {
		return ""
	}
	return envelope.Result
}
