package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service/grid"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestImportFormatFor(t *testing.T) {
	tests := []struct {
		path     string
		explicit string
		want     string
		wantErr  bool
	}{
		{path: "sheet.csv", want: "csv"},
		{path: "sheet.CSV", want: "csv"},
		{path: "sheet.yaml", want: "yaml"},
		{path: "sheet.yml", want: "yaml"},
		{path: "sheet.txt", explicit: "CSV", want: "csv"},
		{path: "sheet.txt", wantErr: true},
		{path: "sheet.csv", explicit: "xlsx", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.explicit, func(t *testing.T) {
			got, err := importFormatFor(tt.path, tt.explicit)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errRunFailed))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-02")
	t.Cleanup(func() { SetVersion("", "", "") })

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "qgrid 1.2.3\n")
	assert.Contains(t, out, "commit: abc123")
	assert.Contains(t, out, "built:  2026-01-02")
}

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(grid.Status{RunID: "run-9", Running: true, Phase: grid.PhaseDispatching})
	}))
	defer srv.Close()

	st, err := fetchStatus(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "run-9", st.RunID)
	assert.True(t, st.Running)
	assert.Equal(t, grid.PhaseDispatching, st.Phase)

	st, err = fetchStatus(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, "run-9", st.RunID)
}

func TestFetchStatus_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := fetchStatus(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestImportRunExport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "qgrid.yaml")
	cfgYAML := "log:\n  level: error\n" +
		"store:\n  driver: sqlite\n  dsn: " + filepath.ToSlash(filepath.Join(dir, "sheet.db")) + "\n  sheet: demo\n" +
		"scheduler:\n  identity: test-host\n" +
		"report:\n  dir: " + filepath.ToSlash(filepath.Join(dir, "reports")) + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	csvPath := filepath.Join(dir, "sheet.csv")
	sheet := "menu,prompt,answer\nai,chatgpt,\n,q1,\n,q2,\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(sheet), 0o600))

	out, err := execute(t, "--config", cfgPath, "import", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 7 cells into sqlite sheet \"demo\"")

	out, err = execute(t, "--config", cfgPath, "--json", "run", "--echo", "--test-mode")
	require.NoError(t, err)
	var result grid.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Completed)

	exportPath := filepath.Join(dir, "out.csv")
	_, err = execute(t, "--config", cfgPath, "export", exportPath)
	require.NoError(t, err)
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), ",q1,q1\n")
	assert.Contains(t, string(data), ",q2,q2\n")
}

func TestInspectCrash(t *testing.T) {
	dir := t.TempDir()
	crashDir := filepath.Join(dir, "crashes")
	cfgPath := filepath.Join(dir, "qgrid.yaml")
	cfgYAML := "log:\n  level: error\n" +
		"diagnostics:\n  crash_dir: " + filepath.ToSlash(crashDir) + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))
	t.Cleanup(func() {
		inspectCrash = false
		jsonOut = false
	})

	_, err := execute(t, "--config", cfgPath, "inspect", "--crash")
	require.Error(t, err, "no dumps yet")

	w := diagnostics.NewCrashDumpWriter(crashDir, 5, false, nil)
	_, err = w.WriteCrashDump("boom", []byte("goroutine 1"), diagnostics.TaskContext{
		GroupID: "grp-B", Cell: "C4", WorkerKind: core.WorkerClaude, Attempt: 1,
	})
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "--json", "inspect", "--crash")
	require.NoError(t, err)
	var dump diagnostics.CrashDump
	require.NoError(t, json.Unmarshal([]byte(out), &dump))
	assert.Equal(t, "boom", dump.PanicValue)
	assert.Equal(t, "grp-B", dump.GroupID)
	assert.Equal(t, "C4", dump.Cell)
}
