package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesBuiltInDefaultsWhenPathMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Token.DefaultTTLSeconds)
	assert.Equal(t, 24, cfg.Token.RotationGraceHours)
	assert.Equal(t, 20, cfg.Resume.MaxCandidates)
	assert.Equal(t, 8192, cfg.Recovery.BudgetBytes)
	assert.Equal(t, 250, cfg.Lock.RetryMinMs)
	assert.Equal(t, 3000, cfg.Lock.RetryMaxMs)
}

func TestLoadYamlOverridesBuiltInDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataDir: /var/lib/workrail
resume:
  maxCandidates: 5
recovery:
  budgetBytes: 4096
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/workrail", cfg.DataDir)
	assert.Equal(t, 5, cfg.Resume.MaxCandidates)
	assert.Equal(t, 4096, cfg.Recovery.BudgetBytes)
	// Fields the yaml file omitted still fall back to built-in defaults.
	assert.Equal(t, 300, cfg.Token.DefaultTTLSeconds)
	assert.Equal(t, 3000, cfg.Lock.RetryMaxMs)
}

func TestEnvOverridesWinOverYamlAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resume:
  maxCandidates: 5
`), 0o600))

	t.Setenv("WORKRAIL_DATA_DIR", "/env/data")
	t.Setenv("WORKRAIL_MAX_RESUME_CANDIDATES", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, 2, cfg.Resume.MaxCandidates, "an explicit env var must win over the yaml file's value")
}

func TestEnvMaxResumeCandidatesAllowsExplicitZero(t *testing.T) {
	t.Setenv("WORKRAIL_MAX_RESUME_CANDIDATES", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Resume.MaxCandidates)
}
