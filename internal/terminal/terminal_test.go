package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("terminalId: 4\nterminalName: Front Desk\n"), 0o644))

	cfg, path, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Config{ID: 4, Name: "Front Desk"}, cfg)
	assert.Equal(t, filepath.Join(dir, FileName), path)
}

func TestLoadLegacyJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "TERMINAL_CONFIGE.json"),
		[]byte(`{"terminalId": 2, "terminalName": "Kasse 2"}`), 0o644))

	cfg, _, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Config{ID: 2, Name: "Kasse 2"}, cfg)
}

func TestLoadPrefersYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "terminal-config.json"), []byte(`{"terminalId": 2}`), 0o644))
	require.NoError(t, Save(filepath.Join(dir, FileName), Config{ID: 9, Name: "Lager"}))

	cfg, _, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.ID)
}

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "terminal-config.json"), []byte(`{}`), 0o644))

	cfg, _, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissing(t *testing.T) {
	_, _, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("terminalId: [oops"), 0o644))

	_, _, err := Load(dir)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	cfg, err := Prompt(strings.NewReader("3\nBack Office\n"), &out)

	require.NoError(t, err)
	assert.Equal(t, Config{ID: 3, Name: "Back Office"}, cfg)
	assert.Contains(t, out.String(), "Terminal ID [1]")
}

func TestPromptDefaults(t *testing.T) {
	cfg, err := Prompt(strings.NewReader("\n\n"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Prompt(strings.NewReader("abc\n"), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestResolveNonInteractiveUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	cfg, err := Resolve(dir, r, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err))
}
