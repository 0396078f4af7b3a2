package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/pluginhost"
)

func TestOpenHost_CountsEngineErrors(t *testing.T) {
	cfg := pluginhost.DefaultFileConfig()
	cfg.Driver = "none"
	cfg.Plugins = []string{"gain"}

	var logs bytes.Buffer
	h, err := openHost(cfg, newLogger(&logs, false))
	require.NoError(t, err)
	defer h.Close()

	assert.Zero(t, h.Errors())
	assert.Equal(t, uint(1), h.engine.PluginCount())

	require.Error(t, h.engine.RemovePlugin(3))
	assert.Positive(t, h.Errors())
	assert.Contains(t, logs.String(), "engine contract violation")
}
