// Package grid discovers task groups in a tabular store and schedules their
// answer cells across a bounded pool of AI workers.
package grid

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

type controlRow int

const (
	rowNone controlRow = iota
	rowMenu
	rowAI
	rowModel
	rowFunction
	rowDepends
)

var controlLabels = map[string]controlRow{
	"menu":         rowMenu,
	"メニュー":         rowMenu,
	"ai":           rowAI,
	"ai type":      rowAI,
	"aiタイプ":        rowAI,
	"model":        rowModel,
	"モデル":          rowModel,
	"function":     rowFunction,
	"feature":      rowFunction,
	"機能":           rowFunction,
	"depends":      rowDepends,
	"dependencies": rowDepends,
	"依存":           rowDepends,
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

func classifyControlLabel(s string) controlRow {
	return controlLabels[normalizeLabel(s)]
}

type headerKind int

const (
	headerOther headerKind = iota
	headerLog
	headerPrompt
	headerAnswer
	headerReport
	headerSideEffect
)

type header struct {
	kind       headerKind
	workerKind core.WorkerKind // set for answer headers naming a kind
}

var (
	promptHeader = regexp.MustCompile(`^(prompt|プロンプト)\s*\d*$`)
	answerSuffix = []string{" answer", "answer", "の回答", "回答"}
)

var reportHeaders = map[string]bool{
	"report":                      true,
	"レポート化":                       true,
	"turn ai answer into report":  true,
	"turn ai answer into a report": true,
}

var sideEffectHeaders = map[string]bool{
	"slides":   true,
	"artifact": true,
	"スライド化":    true,
	"genspark": true,
}

func classifyHeader(s string) header {
	h := normalizeLabel(s)
	switch {
	case h == "":
		return header{}
	case h == "log" || h == "ログ":
		return header{kind: headerLog}
	case promptHeader.MatchString(h):
		return header{kind: headerPrompt}
	case reportHeaders[h]:
		return header{kind: headerReport}
	case sideEffectHeaders[h]:
		return header{kind: headerSideEffect}
	}
	for _, suffix := range answerSuffix {
		if !strings.HasSuffix(h, suffix) {
			continue
		}
		prefix := strings.TrimSpace(strings.TrimSuffix(h, suffix))
		if prefix == "" {
			return header{kind: headerAnswer}
		}
		kind, _ := ResolveWorkerKind(prefix)
		return header{kind: headerAnswer, workerKind: kind}
	}
	return header{}
}

var workerAliases = map[string]core.WorkerKind{
	"chatgpt":   core.WorkerChatGPT,
	"chat gpt":  core.WorkerChatGPT,
	"chat-gpt":  core.WorkerChatGPT,
	"gpt":       core.WorkerChatGPT,
	"openai":    core.WorkerChatGPT,
	"codex":     core.WorkerChatGPT,
	"claude":    core.WorkerClaude,
	"anthropic": core.WorkerClaude,
	"gemini":    core.WorkerGemini,
	"google":    core.WorkerGemini,
	"bard":      core.WorkerGemini,
	"echo":      core.WorkerEcho,
}

var aliasNames = func() []string {
	var names []string
	for _, k := range core.KnownWorkerKinds() {
		names = append(names, string(k))
	}
	return names
}()

// ResolveWorkerKind maps an AI-row or header label to a worker kind.
// Labels that are not a known alias fall back to fuzzy matching against
// the known kind names.
func ResolveWorkerKind(label string) (core.WorkerKind, bool) {
	l := normalizeLabel(label)
	if l == "" {
		return "", false
	}
	if k, ok := workerAliases[l]; ok {
		return k, true
	}
	if k, ok := workerAliases[strings.ReplaceAll(l, " ", "")]; ok {
		return k, true
	}
	if len([]rune(l)) < 3 {
		return "", false
	}
	matches := fuzzy.Find(strings.ReplaceAll(l, " ", ""), aliasNames)
	if len(matches) == 0 {
		return "", false
	}
	return core.WorkerKind(matches[0].Str), true
}

var fanoutLabel = regexp.MustCompile(`^(\d+)\s*(kinds?|種類)$`)

// parseFanout reads an "N kinds" AI cell.
func parseFanout(label string) (int, bool) {
	m := fanoutLabel.FindStringSubmatch(normalizeLabel(label))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// parseColumnList splits a depends cell into column indexes. Entries that are
// not column letters are returned separately.
func parseColumnList(s string) (cols []int, invalid []string) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '、' || r == ';' || unicode.IsSpace(r)
	})
	for _, f := range fields {
		col, err := core.ColumnIndex(f)
		if err != nil {
			invalid = append(invalid, f)
			continue
		}
		cols = append(cols, col)
	}
	return cols, invalid
}

var defaultFunctionTokens = map[string]bool{
	"":        true,
	"default": true,
	"normal":  true,
	"通常":      true,
}

func isDefaultFunction(s string) bool {
	return defaultFunctionTokens[normalizeLabel(s)]
}
