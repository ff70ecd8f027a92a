package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqconsole/agentcore/pkg/config"
)

func TestDefault_FillsDocumentedDefaults(t *testing.T) {
	c := config.Default()
	assert.Equal(t, 4, c.MaxParallelWidth)
	assert.Equal(t, 30_000, c.PerAgentTimeoutMs)
	assert.Equal(t, 120_000, c.GlobalDeadlineMs)
	assert.Equal(t, 5, c.RetrievalLimitK)
	assert.Equal(t, 0.2, c.RelevanceThresholdTau)
	assert.Equal(t, 0.3, c.ConfidenceBoostCap)
	assert.Equal(t, 0.9, c.EWMALambda)
	assert.Equal(t, 0.25, c.FeedbackGamma)
	assert.Equal(t, 2, c.RetryMaxN)
	assert.Equal(t, 200, c.RetryBaseBackoffMs)
	assert.Equal(t, 1024, c.MemoryBufferCapacity)
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel_width: 8\nretry_max_n: 5\n"), 0o644))

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, c.MaxParallelWidth)
	assert.Equal(t, 5, c.RetryMaxN)
	// Untouched fields still carry documented defaults.
	assert.Equal(t, 30_000, c.PerAgentTimeoutMs)
}
