package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-grid/internal/service"
)

func TestRegistry_OpenBuiltins(t *testing.T) {
	r := NewRegistry(nil)
	for _, kind := range core.KnownWorkerKinds() {
		w, err := r.Open(context.Background(), kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, w.Kind())
		assert.NoError(t, w.Close())
	}
}

func TestRegistry_OpenReturnsFreshHandles(t *testing.T) {
	r := NewRegistry(nil)
	a, err := r.Open(context.Background(), core.WorkerClaude)
	require.NoError(t, err)
	b, err := r.Open(context.Background(), core.WorkerClaude)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Open(context.Background(), core.WorkerKind("mistral"))
	require.Error(t, err)
	var de *core.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, core.CodeUnknownKind, de.Code)
}

func TestRegistry_DisabledKind(t *testing.T) {
	r := NewRegistry(nil)
	r.SetEnabled(core.WorkerGemini, false)
	_, err := r.Open(context.Background(), core.WorkerGemini)
	require.Error(t, err)
	assert.NotContains(t, r.List(), core.WorkerGemini)

	r.SetEnabled(core.WorkerGemini, true)
	_, err = r.Open(context.Background(), core.WorkerGemini)
	assert.NoError(t, err)
}

func TestRegistry_OpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRegistry(nil).Open(ctx, core.WorkerClaude)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_RouteAllToEcho(t *testing.T) {
	r := NewRegistry(nil)
	r.SetEnabled(core.WorkerChatGPT, false)
	r.RouteAllTo(core.WorkerEcho)

	w, err := r.Open(context.Background(), core.WorkerChatGPT)
	require.NoError(t, err)
	assert.Equal(t, core.WorkerChatGPT, w.Kind())

	res, err := w.Dispatch(context.Background(), core.Task{PromptText: "hello grid"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hello grid", res.Output)
	assert.Equal(t, "echo", res.Model)

	r.RouteAllTo("")
	_, err = r.Open(context.Background(), core.WorkerChatGPT)
	assert.Error(t, err, "disabled kinds fail again once the override is cleared")
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, []core.WorkerKind{core.WorkerChatGPT, core.WorkerClaude, core.WorkerEcho, core.WorkerGemini}, r.List())
}

func TestConfigureFromConfig(t *testing.T) {
	r := NewRegistry(nil)
	ConfigureFromConfig(r, config.WorkersConfig{
		ChatGPT: config.WorkerConfig{Enabled: true, Path: "/opt/codex", Model: "gpt-5", Timeout: time.Minute},
		Claude:  config.WorkerConfig{Enabled: true, Path: "claude"},
		Gemini:  config.WorkerConfig{Enabled: false, Path: "gemini"},
	})

	w, err := r.Open(context.Background(), core.WorkerChatGPT)
	require.NoError(t, err)
	cw, ok := w.(*cliWorker)
	require.True(t, ok)
	assert.Equal(t, "/opt/codex", cw.Config().Path)
	assert.Equal(t, "gpt-5", cw.Config().Model)
	assert.Equal(t, time.Minute, cw.Config().Timeout)

	_, err = r.Open(context.Background(), core.WorkerGemini)
	assert.Error(t, err)
}

func TestApplyRateLimits(t *testing.T) {
	limits := service.NewRateLimiterRegistry()
	ApplyRateLimits(config.WorkersConfig{
		Claude: config.WorkerConfig{RatePerSecond: 2, Burst: 5},
		Gemini: config.WorkerConfig{RatePerSecond: 1},
	}, limits)

	claude := limits.Get(core.WorkerClaude)
	assert.InDelta(t, 5.0, claude.MaxTokens(), 0.001)
	assert.InDelta(t, 2.0, claude.RefillRate(), 0.001)

	gemini := limits.Get(core.WorkerGemini)
	assert.InDelta(t, 1.0, gemini.MaxTokens(), 0.001)
	assert.InDelta(t, 1.0, gemini.RefillRate(), 0.001)
}
