package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "marketplace", cfg.Marketplace.Treasury)
	assert.Equal(t, float64(70), cfg.Verification.BasePercent)
	assert.Equal(t, float64(30), cfg.Verification.AlignmentBonusPercent)
	assert.Equal(t, 3, cfg.Provenance.MaxDepth)
	assert.Equal(t, 0.5, cfg.Provenance.RoyaltyDecay)
	assert.Equal(t, "file", cfg.Storage.Backend)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9090"
staking:
  validator_stake_required: 100
bidding:
  quality_first_categories:
    - medical_advice
storage:
  backend: postgres
  postgres_dsn: postgres://localhost/agn
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, float64(100), cfg.Staking.ValidatorStakeRequired)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.True(t, cfg.QualityFirst("medical_advice"))
	assert.False(t, cfg.QualityFirst("code_review"))

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Provenance.MaxDepth)
	assert.Equal(t, 0.30, cfg.Reputation.Weights.Quality)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
verification:
  base_percent: 80
  alignment_bonus_percent: 30
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "must equal 100")
}
