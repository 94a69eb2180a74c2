package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.HTTP.Port)
	assert.Equal(t, 100, cfg.ML.Forest.NEstimators)
	assert.Equal(t, 10, cfg.ML.Forest.Tree.MaxDepth)
	assert.Equal(t, int64(42), cfg.ML.Forest.Seed)
	assert.True(t, cfg.ML.HotSwap)
	assert.Equal(t, "gesture_data.csv", cfg.Paths.Data)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http:
  port: 8081
  read_timeout: 5s
ml:
  hot_swap: false
  forest:
    n_estimators: 20
speech:
  backend: none
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.False(t, cfg.ML.HotSwap)
	assert.Equal(t, 20, cfg.ML.Forest.NEstimators)
	assert.Equal(t, 10, cfg.ML.Forest.Tree.MaxDepth)
	assert.Equal(t, "none", cfg.Speech.Backend)
	assert.Equal(t, "espeak", cfg.Speech.Command)

	training := cfg.Training()
	assert.Equal(t, "gesture_model.json", training.ModelPath)
	assert.Equal(t, 20, training.Forest.NEstimators)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ml:\n  test_ratio: 1.5\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "test_ratio")

	require.NoError(t, os.WriteFile(path, []byte("ml:\n  model_type: svm\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "svm")
}
