package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedScenario = `
name: seed
description: Fresh install seeds a guest
steps:
  - event: {type: app_start}
  - event: {type: init_complete, user_id: guest-1, is_anonymous: true, needs_seed: true}
  - event: {type: seeding_complete}
assertions:
  - type: final_state
    state: {kind: local_only, user_id: guest-1, is_guest: true}
`

const seedGolden = "scenario: seed\n" +
	"step=1 source=event event=app_start from=uninitialized to=initializing\n" +
	"step=2 source=event event=init_complete from=initializing to=seeding_guest(user=guest-1)\n" +
	"step=3 source=event event=seeding_complete from=seeding_guest(user=guest-1) to=local_only(user=guest-1 guest=true)\n" +
	"final: local_only(user=guest-1 guest=true) mode=local-only sync_active=false\n"

const failingScenario = `
name: wrong
description: Expects the wrong final state
steps:
  - event: {type: app_start}
    expect: synced
`

func newTestCmd(format string, args ...string) (*bytes.Buffer, *bytes.Buffer, func() error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	return out, errOut, cmd.Execute
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, run := newTestCmd("text")
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, _, run := newTestCmd("text", "/nonexistent/scenarios")
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, _, run := newTestCmd("text", t.TempDir())
	require.NoError(t, run())
	assert.Contains(t, out.String(), "No scenarios found")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, _, run := newTestCmd("json", t.TempDir())
	require.NoError(t, run())

	var response CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandPassesWithGolden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(seedScenario), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "seed.golden"), []byte(seedGolden), 0644))

	out, _, run := newTestCmd("text", dir)
	require.NoError(t, run())
	assert.Contains(t, out.String(), "✓ seed")
	assert.Contains(t, out.String(), "1 passed, 0 failed, 1 total")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(seedScenario), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "seed.golden"), []byte("scenario: seed\n"), 0644))

	out, _, run := newTestCmd("text", dir)
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out.String(), "trace does not match golden file")
}

func TestTestCommandUpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(seedScenario), 0644))

	_, errOut, run := newTestCmd("text", dir, "--update")
	require.NoError(t, run())
	assert.Contains(t, errOut.String(), "updated")

	data, err := os.ReadFile(filepath.Join(dir, "golden", "seed.golden"))
	require.NoError(t, err)
	assert.Equal(t, seedGolden, string(data))
}

func TestTestCommandFailureJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.yaml"), []byte(seedScenario), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(failingScenario), 0644))

	out, _, run := newTestCmd("json", dir)
	err := run()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, ErrCodeScenario, response.Error.Code)
	assert.Equal(t, "1 scenario(s) failed", response.Error.Message)
}

func TestTestCommandLoadErrorIsFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed"), 0644))

	out, _, run := newTestCmd("text", dir)
	require.Error(t, run())
	assert.Contains(t, out.String(), "✗ broken.yaml")
	assert.Contains(t, out.String(), "failed to load scenario")
}

func TestTestHelpText(t *testing.T) {
	out, _, run := newTestCmd("text", "--help")
	require.NoError(t, run())

	assert.Contains(t, out.String(), "--update")
	assert.Contains(t, out.String(), "--filter")
	assert.Contains(t, out.String(), "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "expiry_drain.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "expiry_retry.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sign_out.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = findScenarioFiles(tmpDir, "expiry_*")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "scenarios/golden/test.golden"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, goldenFilePath(tc.input))
	}
}
