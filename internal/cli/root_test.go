package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaban/pluginhost"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := execute(t, "plugins", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestPluginsCommand(t *testing.T) {
	out, err := execute(t, "plugins")
	require.NoError(t, err)
	for _, name := range []string{"gain", "monitor", "passthrough", "tone"} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, "plugins", "--category", "Instrument", "--format", "json")
	require.NoError(t, err)
	var infos []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "tone", infos[0]["name"])
}

func TestStatusCommand_FromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "host.yaml", `
name: studio
process_mode: rack
buffer_size: 128
plugins: [tone, gain]
`)
	out, err := execute(t, "status", "-c", cfg, "--cycles", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Engine:    studio (stopped)")
	assert.Contains(t, out, "Audio:     48000 Hz, 128 frames")
	assert.Contains(t, out, "Transport: playing at frame 384")
	assert.Contains(t, out, "over 384 frames")
	assert.Contains(t, out, "Plugins:   2 of 16")
}

func TestStatusCommand_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "host.yaml", "process_mode: orchestra\n")
	_, err := execute(t, "status", "-c", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	cfg = writeFile(t, dir, "plugins.yaml", "plugins: [theremin]\n")
	_, err = execute(t, "status", "-c", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plugin")
}

func TestRunCommand_ScriptJournalAndSave(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "host.db")
	state := filepath.Join(dir, "state.yaml")
	lua := writeFile(t, dir, "setup.lua", `
local host = require("host")
host.add("tone")
host.add("gain")
host.note(0, 69, 100)
`)
	cfg := writeFile(t, dir, "host.yaml", `
name: runner
process_mode: rack
driver: ticker
buffer_size: 256
journal: `+db+`
`)

	_, err := execute(t, "run", "-c", cfg, "--script", lua, "--duration", "300ms", "--save", state)
	require.NoError(t, err)

	f, err := os.Open(state)
	require.NoError(t, err)
	defer f.Close()
	s, err := pluginhost.ReadState(f)
	require.NoError(t, err)
	assert.Equal(t, "runner", s.Name)
	require.Len(t, s.Plugins, 2)
	assert.Equal(t, "tone", s.Plugins[0].Name)
	assert.Equal(t, "gain", s.Plugins[1].Name)
	assert.Positive(t, s.Cycles)

	out, err := execute(t, "status", "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "Engine:    runner")

	out, err = execute(t, "journal", "--db", db, "--op", "add_plugin", "--format", "json")
	require.NoError(t, err)
	var entries []pluginhost.JournalEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "gain", entries[0].Plugin)
	assert.Equal(t, "tone", entries[1].Plugin)
}

func TestRunCommand_ScriptFailure(t *testing.T) {
	dir := t.TempDir()
	lua := writeFile(t, dir, "bad.lua", `require("host").remove(3)`)
	cfg := writeFile(t, dir, "host.yaml", "driver: none\n")

	_, err := execute(t, "run", "-c", cfg, "--script", lua, "--duration", "5s")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestConsoleCommand_Piped(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "host.yaml", "driver: none\nprocess_mode: patchbay\n")

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`
a = host.add("gain")
host.print(a, host.count(), host.max())
host.remove(4)
quit
host.print("unreachable")
`))
	cmd.SetArgs([]string{"console", "-c", cfg})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "0\t1\t255\n")
	assert.Contains(t, out.String(), "error: ")
	assert.NotContains(t, out.String(), "unreachable")
}

func TestJournalCommand_NoJournal(t *testing.T) {
	_, err := execute(t, "journal")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
