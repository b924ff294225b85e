package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoiceSpecs = "../harness/testdata/specs/invoices"

// execute runs the root command with args and returns what it wrote to
// stdout. Logs go to a separate buffer.
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

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "worker.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "contractworker", cmd.Use)
	assert.Contains(t, cmd.Long, "action requests")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "enqueue", "drain", "tick", "load", "synthesize", "jobs", "test"}

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

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("database"))
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flag    string
		def     string
	}{
		{"run", "no-scheduler", "false"},
		{"enqueue", "args", "{}"},
		{"enqueue", "wait", "false"},
		{"enqueue", "timeout", "30s"},
		{"drain", "limit", "0"},
		{"tick", "pending", "false"},
		{"tick", "at", ""},
		{"load", "dry-run", "false"},
		{"test", "update", "false"},
		{"test", "filter", ""},
		{"test", "golden", ""},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "--database", tempDB(t), "jobs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfgPath := filepath.Join(dir, "worker.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+db+"\n"), 0o644))

	out, err := execute(t, "--config", cfgPath, "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 0 job(s)")
	assert.FileExists(t, db)
}

func TestDatabaseFlagOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "worker.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+filepath.Join(dir, "config.db")+"\n"), 0o644))
	flagDB := filepath.Join(dir, "flag.db")

	_, err := execute(t, "--config", cfgPath, "--database", flagDB, "drain")
	require.NoError(t, err)
	assert.FileExists(t, flagDB)
	assert.NoFileExists(t, filepath.Join(dir, "config.db"))
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("queue:\n  concurrency: 0\n"), 0o644))

	_, err := execute(t, "--config", cfgPath, "drain")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "queue.concurrency")
}
