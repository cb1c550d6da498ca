package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BERRYBOTS_PHYSICS_LASERSPEED", "30")
	t.Setenv("BERRYBOTS_SANDBOX_WORKERS", "4")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Physics.LaserSpeed)
	assert.Equal(t, 4, cfg.Sandbox.Workers)
	assert.Equal(t, DefaultPhysics().LaserDamage, cfg.Physics.LaserDamage)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("match:\n  maxTicks: 500\n  seed: 99\nreplay:\n  chunkSize: 16\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "berrybots.yaml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Match.MaxTicks)
	assert.Equal(t, int64(99), cfg.Match.Seed)
	assert.Equal(t, 16, cfg.Replay.ChunkSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.Workers = 0
	cfg.Physics.ShipRadius = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox.workers")
	assert.Contains(t, err.Error(), "shipRadius")
}

func TestValidateSandboxMemory(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.MaxStringLen = 0
	require.ErrorContains(t, cfg.Validate(), "sandbox.maxStringLen")

	cfg = Default()
	cfg.Sandbox.MaxMemory = int64(cfg.Sandbox.MaxStringLen) - 1
	require.ErrorContains(t, cfg.Validate(), "sandbox.maxMemory")
}
