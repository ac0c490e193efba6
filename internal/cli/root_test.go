package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func testDB(t *testing.T) string {
	return filepath.Join(t.TempDir(), "breadly.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "breadly", cmd.Use)
	assert.Contains(t, cmd.Long, "local-only")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "status", "login", "logout", "reset"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "status", "--format", "yaml", "--db", testDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingConfigFile(t *testing.T) {
	out, err := execute(t, "status", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeConfig+"]")
}

func TestStatus_FreshDatabase(t *testing.T) {
	out, err := execute(t, "status", "--format", "json", "--db", testDB(t))
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   StatusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "uninitialized", resp.Data.Kind)
	assert.Equal(t, "initializing", resp.Data.Mode)
	assert.False(t, resp.Data.SyncActive)
	assert.True(t, resp.Data.Anonymous)
	assert.NotEmpty(t, resp.Data.UserID)
	assert.Equal(t, "local", resp.Data.Variant)
	assert.Zero(t, resp.Data.PendingUploads)
}

func TestLoginLogout(t *testing.T) {
	db := testDB(t)

	out, err := execute(t, "login", "alice", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as alice")

	out, err = execute(t, "status", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "identity:        alice\n")

	out, err = execute(t, "logout", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "signed out; running as guest")
}

func TestLogin_RejectsBlankUser(t *testing.T) {
	out, err := execute(t, "login", "   ", "--db", testDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeIdentity)
}

func TestLogin_RequiresUser(t *testing.T) {
	_, err := execute(t, "login", "--db", testDB(t))
	require.Error(t, err)
}

func TestReset(t *testing.T) {
	out, err := execute(t, "reset", "--db", testDB(t))
	require.NoError(t, err)
	assert.Contains(t, out, "recovery record cleared")
}
