package pluginhost

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/pluginhost/engine/setup"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFileConfig(), cfg)

	ecfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, setup.ProcessModeContinuousRack, ecfg.ProcessMode)
	assert.Equal(t, setup.TransportInternal, ecfg.TransportMode)
	assert.Equal(t, DefaultRequestTimeout, ecfg.RequestTimeout)
}

func TestParseConfig_Full(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
name: studio
process_mode: patchbay
transport_mode: external
force_stereo: true
sample_rate: 96000
buffer_size: 128
latency: low
request_timeout: 500ms
idle_interval: 10ms
driver: none
journal: /tmp/host.db
plugins: [tone, gain]
script: setup.lua
midi: true
midi_device: 3
`))
	require.NoError(t, err)
	assert.Equal(t, "studio", cfg.Name)
	assert.Equal(t, []string{"tone", "gain"}, cfg.Plugins)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestTimeout)
	assert.True(t, cfg.MIDI)
	assert.Equal(t, 3, cfg.MIDIDevice)

	ecfg, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, setup.Options{
		ProcessMode:   setup.ProcessModePatchbay,
		TransportMode: setup.TransportExternal,
		ForceStereo:   true,
		SampleRate:    96000,
		LatencyHint:   setup.LatencyLow,
		BufferSize:    128,
	}, ecfg.Options)
	assert.Equal(t, 10*time.Millisecond, ecfg.IdleInterval)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown key":       "colour: blue\n",
		"bad process mode":  "process_mode: orchestra\n",
		"bad transport":     "transport_mode: tape\n",
		"bad latency":       "latency: instant\n",
		"bad driver":        "driver: jack\n",
		"malformed":         "name: [unclosed\n",
		"bad duration type": "request_timeout: soon\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, "ticker", cfg.Driver)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
