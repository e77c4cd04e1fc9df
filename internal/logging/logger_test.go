package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	install(zap.New(core), cats)
	t.Cleanup(func() { SetBase(nil) })
	return logs
}

func TestCategoryField(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryGate).Info("rejected %d candidates", 3)
	PipelineWarn("item %s skipped", "170/charitable/0")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "rejected 3 candidates", entries[0].Message)
	assert.Equal(t, "gate", entries[0].ContextMap()["category"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "pipeline", entries[1].ContextMap()["category"])
}

func TestDisabledCategory(t *testing.T) {
	logs := observe(t, map[string]bool{"store": false, "logic": true})

	Store("written")
	Logic("asked")
	Rules("normalized")
	Boot("taxgen generate")
	PipelineDebug("item accepted")

	assert.False(t, IsCategoryEnabled(CategoryStore))
	assert.True(t, IsCategoryEnabled(CategoryRules))
	require.Equal(t, 4, logs.Len())
	assert.Equal(t, 0, logs.FilterField(zap.String("category", "store")).Len())
}

func TestLoggerIsCached(t *testing.T) {
	observe(t, nil)
	assert.Same(t, Get(CategoryChain), Get(CategoryChain))
}

func TestTimer(t *testing.T) {
	logs := observe(t, nil)
	timer := StartTimer(CategoryLogic, "ask")
	elapsed := timer.StopWithThreshold(time.Hour)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)

	StartTimer(CategoryLogic, "slow").StopWithThreshold(-time.Second)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	StartTimer(CategoryPipeline, "generate.Run").StopWithInfo()
	info := logs.FilterLevelExact(zapcore.InfoLevel).All()
	require.Len(t, info, 1)
	assert.Contains(t, info[0].Message, "generate.Run completed in")
	assert.Equal(t, "pipeline", info[0].ContextMap()["category"])
}

func TestInitialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxgen.log")
	require.NoError(t, Initialize(Config{Level: "warn", Format: "console", Output: []string{path}}))
	t.Cleanup(func() { SetBase(nil) })
	assert.False(t, Base().Core().Enabled(zapcore.InfoLevel))

	require.NoError(t, Initialize(Config{Level: "warn", DebugMode: true, Output: []string{path}}))
	assert.True(t, Base().Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, Initialize(Config{Level: "loud"}))
}
