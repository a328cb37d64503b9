package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kallio-labs/seqbook/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
source:
  mode: replay
  replay_path: /tmp/orders.csv
book:
  base_price: 10000
  length: 2048
  ring_size: 8192
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "replay", cfg.Source.Mode)
	require.Equal(t, "/tmp/orders.csv", cfg.Source.ReplayPath)
	require.Equal(t, 2048, cfg.Book.Length)
	require.Equal(t, 8192, cfg.Book.RingSize)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadRingSize(t *testing.T) {
	cfg := config.Default()
	cfg.Book.RingSize = 3
	require.Error(t, cfg.Validate())
}
