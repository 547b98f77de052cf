package cli

import (
	"encoding/json"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// NewGeminiWorker opens a handle on the Gemini CLI.
func NewGeminiWorker(cfg Config, logger *logging.Logger) core.Worker {
	if cfg.Path == "" {
		cfg.Path = "gemini"
	}
	cfg.Kind = core.WorkerGemini
	return &cliWorker{
		BaseAdapter: NewBaseAdapter(cfg, logger),
		build:       geminiInvocation,
		parse:       parseGeminiOutput,
	}
}

func geminiInvocation(task core.Task, model string) invocation {
	var args []string
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--output-format", "json")
	return invocation{args: args, stdin: task.PromptText}
}

// parseGeminiOutput reads the response field, falling back to the first
// candidate's text parts.
func parseGeminiOutput(stdout string) string {
	trimmed := strings.TrimSpace(stdout)
	start := strings.Index(trimmed, "{")
	if start < 0 {
		return stdout
	}
	var envelope struct {
		Response   string `json:"response"`
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:]), &envelope); err != nil {
		return stdout
	}
	if envelope.Response != "" {
		return envelope.Response
	}
	if len(envelope.Candidates) > 0 {
		var sb strings.Builder
		for _, p := range envelope.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
		return sb.String()
	}
	return ""
}
