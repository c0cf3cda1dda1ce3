package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "32M", cfg.ReduceSize)
	assert.Equal(t, 1050, cfg.ReservedTailMiB)
	assert.Equal(t, "cryptroot", cfg.MapperName)
	assert.Equal(t, "/mnt/root", cfg.ScratchRoot)
	assert.Equal(t, "BOOT", cfg.BootLabel)
}

func TestLoadBackfillsUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reserved_tail_mib: 2100\nmapper_name: cryptdata\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2100, cfg.ReservedTailMiB)
	assert.Equal(t, "cryptdata", cfg.MapperName)
	assert.Equal(t, "32M", cfg.ReduceSize, "unset fields fall back to defaults")
	assert.Equal(t, "/mnt/tmpboot", cfg.BootScratch)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reserved_tail_mib: [oops"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultReturnsCopy(t *testing.T) {
	a := Default()
	a.MapperName = "changed"
	assert.Equal(t, "cryptroot", Default().MapperName)
}
