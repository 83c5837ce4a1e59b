package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-data/detector.link/internal/scan"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTuningConfigPartial(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"rows": 512, "scan_mode": "single", "reassembly_timeout": "250ms"}`)
	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	sc := cfg.ScanConfig()
	assert.Equal(t, 512, sc.Rows)
	assert.Equal(t, scan.ModeSingle, sc.Mode)
	assert.Zero(t, sc.Cols, "omitted fields stay zero so the machine applies its defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.GetReassemblyTimeout())
}

func TestLoadTuningConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &TuningConfig{}
	assert.Equal(t, scan.ModeContinuous, cfg.GetScanMode())
	assert.Equal(t, 256, cfg.GetFifoDepth())
	assert.Equal(t, 8, cfg.GetBytesPerBeat())
	assert.Equal(t, uint8(0), cfg.GetVirtualChannel())
	assert.False(t, cfg.GetIncludeLineSync())
	assert.Equal(t, time.Second, cfg.GetReassemblyTimeout())
	assert.False(t, cfg.GetRecoverPartial())
	assert.Equal(t, "detector_data.db", cfg.GetDBPath())
	assert.Equal(t, ":8080", cfg.GetListenAddr())
}

func TestLoadTuningConfigRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"negative gate", `{"gate_on_ticks": -1}`},
		{"rows too large", `{"rows": 99999}`},
		{"unknown mode", `{"scan_mode": "burst"}`},
		{"vc out of range", `{"virtual_channel": 7}`},
		{"bad timeout", `{"reassembly_timeout": "soon"}`},
		{"not json", `gate_on_ticks = 1`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadTuningConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadTuningConfigRejectsNonJSONExtension(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	_, err := LoadTuningConfig(path)
	assert.Error(t, err)
}
