// Package diagnostics records crash dumps for worker adapters that panic
// mid-dispatch, so one broken adapter fails a task instead of the process.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/logging"
)

// DefaultDir is used when no crash directory is configured.
const DefaultDir = ".qgrid/crashdumps"

// CrashDump contains everything captured for one recovered panic.
type CrashDump struct {
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace,omitempty"`

	ResourceState ResourceSnapshot `json:"resource_state"`

	RunID      string          `json:"run_id,omitempty"`
	GroupID    string          `json:"group_id,omitempty"`
	Cell       string          `json:"cell,omitempty"`
	WorkerKind core.WorkerKind `json:"worker_kind,omitempty"`
	Attempt    int             `json:"attempt,omitempty"`

	RedactedEnv map[string]string `json:"redacted_env,omitempty"`
}

// TaskContext identifies the dispatch that panicked.
type TaskContext struct {
	RunID      string
	GroupID    string
	Cell       string
	WorkerKind core.WorkerKind
	Attempt    int
}

// CrashDumpWriter persists crash dumps and prunes old ones.
type CrashDumpWriter struct {
	dir        string
	maxFiles   int
	includeEnv bool
	logger     *logging.Logger
	now        func() time.Time

	mu  sync.Mutex
	seq int
}

// NewCrashDumpWriter creates a crash dump writer.
func NewCrashDumpWriter(dir string, maxFiles int, includeEnv bool, logger *logging.Logger) *CrashDumpWriter {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CrashDumpWriter{
		dir:        dir,
		maxFiles:   maxFiles,
		includeEnv: includeEnv,
		logger:     logger.WithComponent("diagnostics"),
		now:        time.Now,
	}
}

// Dir returns the dump directory.
func (w *CrashDumpWriter) Dir() string {
	return w.dir
}

// WriteCrashDump writes a dump for panicValue and returns its path.
func (w *CrashDumpWriter) WriteCrashDump(panicValue interface{}, stack []byte, tc TaskContext) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dump := CrashDump{
		Timestamp:  w.now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		PanicValue: fmt.Sprintf("%v", panicValue),
		StackTrace: string(stack),
		RunID:      tc.RunID,
		GroupID:    tc.GroupID,
		Cell:       tc.Cell,
		WorkerKind: tc.WorkerKind,
		Attempt:    tc.Attempt,
	}
	dump.ResourceState = TakeSnapshot(dump.Timestamp)
	if w.includeEnv {
		dump.RedactedEnv = w.redactEnvironment()
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}

	w.seq++
	name := fmt.Sprintf("crash-%s-%03d.json", dump.Timestamp.Format("2006-01-02T15-04-05.000"), w.seq)
	path := filepath.Join(w.dir, name)
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}

	if err := w.cleanupOldDumps(); err != nil {
		w.logger.Warn("pruning crash dumps", "error", err)
	}
	return path, nil
}

// Capture writes a dump for a recovered panic and logs the outcome. It
// returns the dump path, or "" when the writer is nil or the write failed.
func (w *CrashDumpWriter) Capture(panicValue interface{}, stack []byte, tc TaskContext) string {
	if w == nil {
		return ""
	}
	path, err := w.WriteCrashDump(panicValue, stack, tc)
	if err != nil {
		w.logger.Error("failed to write crash dump", "error", err, "panic", panicValue)
		return ""
	}
	w.logger.Error("crash dump written after panic", "path", path, "panic", panicValue,
		"group", tc.GroupID, "cell", tc.Cell, "worker", tc.WorkerKind)
	return path
}

func isDump(e os.DirEntry) bool {
	return !e.IsDir() && strings.HasPrefix(e.Name(), "crash-") && strings.HasSuffix(e.Name(), ".json")
}

// cleanupOldDumps removes the oldest dumps beyond maxFiles. Names sort by
// timestamp, then sequence.
func (w *CrashDumpWriter) cleanupOldDumps() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if isDump(e) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for len(names) > w.maxFiles {
		path := filepath.Join(w.dir, names[0])
		if err := os.Remove(path); err != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		names = names[1:]
	}
	return nil
}

var sensitiveSubstrings = []string{
	"TOKEN", "KEY", "SECRET", "PASSWORD", "CREDENTIAL",
	"AUTH", "PRIVATE", "DSN",
}

func (w *CrashDumpWriter) redactEnvironment() map[string]string {
	result := make(map[string]string)
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		redact := false
		for _, s := range sensitiveSubstrings {
			if strings.Contains(upper, s) {
				redact = true
				break
			}
		}
		if redact {
			result[key] = "[REDACTED]"
		} else {
			result[key] = w.logger.Sanitize(value)
		}
	}
	return result
}

// LoadLatestCrashDump loads the most recent crash dump from dir.
func LoadLatestCrashDump(dir string) (*CrashDump, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading crash dump dir: %w", err)
	}
	latest := ""
	for _, e := range entries {
		if isDump(e) && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return nil, fmt.Errorf("no crash dumps found in %s", dir)
	}

	data, err := fsutil.ReadFileScoped(filepath.Join(dir, latest))
	if err != nil {
		return nil, fmt.Errorf("reading crash dump: %w", err)
	}
	var dump CrashDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing crash dump: %w", err)
	}
	return &dump, nil
}
