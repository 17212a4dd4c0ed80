package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepair.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":6000\"\nwindow_size: 20\n"), 0o644))

	require.NoError(t, flag.Set("config", path))
	require.NoError(t, flag.Set("listen", ":7000"))
	require.NoError(t, flag.Set("console-interval", "2s"))
	require.NoError(t, flag.Set("ports", "/dev/ttyUSB0, /dev/ttyUSB1"))
	require.NoError(t, flag.Set("v", "true"))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.GetListen())
	assert.Equal(t, 20, cfg.GetWindowSize(), "unset flags keep the file value")
	assert.Equal(t, 2*time.Second, cfg.GetConsoleInterval())
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, cfg.GetPorts())
	assert.True(t, cfg.GetVerbose())
	assert.Equal(t, "live_air_quality.csv", cfg.GetCSVPath())

	require.NoError(t, flag.Set("predictor", "lstm"))
	_, err = loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-predictor")
}

func TestConfigOverrides_CoverEveryFlag(t *testing.T) {
	seen := map[string]bool{}
	for _, o := range configOverrides {
		assert.NotNil(t, flag.Lookup(o.flag), o.flag)
		seen[o.flag] = true
	}
	flag.VisitAll(func(f *flag.Flag) {
		switch f.Name {
		case "config", "dev", "dev-interval", "version":
			return
		}
		if strings.HasPrefix(f.Name, "test.") {
			return
		}
		assert.True(t, seen[f.Name], "flag -%s has no config key", f.Name)
	})
}
