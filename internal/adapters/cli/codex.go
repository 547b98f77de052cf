package cli

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// NewChatGPTWorker opens a handle on the Codex CLI, which serves the
// chatgpt worker kind.
func NewChatGPTWorker(cfg Config, logger *logging.Logger) core.Worker {
	if cfg.Path == "" {
		cfg.Path = "codex"
	}
	cfg.Kind = core.WorkerChatGPT
	return &cliWorker{
		BaseAdapter: NewBaseAdapter(cfg, logger),
		build:       codexInvocation,
		parse:       parseCodexOutput,
	}
}

// codexInvocation runs a read-only, non-interactive exec. Research style
// feature hints raise the reasoning effort.
func codexInvocation(task core.Task, model string) invocation {
	effort := "medium"
	if isDeepFeature(task.FeatureHint) {
		effort = "high"
	}
	args := []string{
		"exec", "--skip-git-repo-check",
		"-c", `approval_policy="never"`,
		"-c", `sandbox_mode="read-only"`,
		"-c", `model_reasoning_effort="` + effort + `"`,
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--json", "-")
	return invocation{args: args, stdin: task.PromptText}
}

// parseCodexOutput returns the last agent message of the JSONL event stream.
// Plain text output is returned as is.
func parseCodexOutput(stdout string) string {
	var last string
	sawJSON := false
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var event struct {
			Type string `json:"type"`
			Item struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"item"`
			Msg struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"msg"`
		}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		sawJSON = true
		switch {
		case event.Type == "item.completed" && event.Item.Type == "agent_message":
			last = event.Item.Text
		case event.Msg.Type == "agent_message":
			last = event.Msg.Message
		}
	}
	if !sawJSON {
		return stdout
	}
	return last
}
