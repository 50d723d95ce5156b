package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/flashsim"
	"github.com/hupe1980/flashsim/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRun_JSON(t *testing.T) {
	out, _, err := execute(t, "run", "--iterations", "3", "--log-format", "none", "--json")
	require.NoError(t, err)

	var s runSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 3, s.Iterations)
	assert.Equal(t, 3, s.Checks)
	assert.False(t, s.Exhausted)
	assert.Positive(t, s.Device.Erases)
	assert.Empty(t, s.WornUnits)
}

func TestRun_Text(t *testing.T) {
	out, _, err := execute(t, "run", "-n", "2", "--log-format", "none")
	require.NoError(t, err)
	assert.Contains(t, out, "iterations:  2\n")
	assert.Contains(t, out, "worn units:  0\n")
}

func TestRun_ConfigFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flashsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("harness:\n  iterations: 50\nlog:\n  format: none\n"), 0o600))

	out, _, err := execute(t, "run", "--config", path, "--iterations", "4", "--json")
	require.NoError(t, err)

	var s runSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 4, s.Iterations, "flags win over the file")
}

func TestRun_LogsToStderr(t *testing.T) {
	out, stderr, err := execute(t, "run", "-n", "1", "--log-format", "json", "--json")
	require.NoError(t, err)
	assert.Contains(t, stderr, `"msg":"simulation completed"`)
	assert.NotContains(t, out, "simulation completed")
}

func TestRun_ConfigErrors(t *testing.T) {
	_, _, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitConfigError, ExitCodeForError(err))

	_, _, err = execute(t, "run", "--size", "1000", "--log-format", "none")
	assert.Equal(t, ExitConfigError, ExitCodeForError(err))

	_, _, err = execute(t, "run", "--compression", "gzip", "--log-format", "none")
	assert.Equal(t, ExitConfigError, ExitCodeForError(err))

	_, _, err = execute(t, "run", "--iterations", "0", "--erase-cycles", "0", "--log-format", "none")
	assert.Equal(t, ExitConfigError, ExitCodeForError(err))
}

func TestRun_UsageErrors(t *testing.T) {
	_, _, err := execute(t, "run", "--no-such-flag")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, _, err = execute(t, "run", "extra")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, _, err = execute(t, "run", "--iterations", "many")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))
}

func TestRunThenInspect(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "run", "-n", "5", "--image-dir", dir, "--compression", "lz4", "--log-format", "none")
	require.NoError(t, err)

	out, _, err := execute(t, "inspect", filepath.Join(dir, "device.img"), "--files", "--units")
	require.NoError(t, err)

	assert.Contains(t, out, "version:      1\n")
	assert.Contains(t, out, "compression:  lz4")
	assert.Contains(t, out, "geometry:     size=131072 read=1 program=64 erase=512\n")
	assert.Contains(t, out, "limits:       program=unlimited erase=100\n")
	assert.Contains(t, out, "worn units:   0 []\n")
	assert.Contains(t, out, harness.CounterFile)
	assert.Contains(t, out, harness.SwapRenameFileB, "five swaps leave the payload under B")
	units := out[strings.Index(out, "UNIT"):strings.Index(out, "snapshot:")]
	assert.Equal(t, 257, strings.Count(units, "\n"), "header plus one row per erase unit")

	// Resume and keep counting.
	_, _, err = execute(t, "run", "-n", "5", "--image-dir", dir, "--resume", "--force-format=false", "--log-format", "none")
	require.NoError(t, err)
	out, _, err = execute(t, "inspect", filepath.Join(dir, "device.img"), "--files")
	require.NoError(t, err)
	assert.Contains(t, out, harness.SwapRenameFileA, "ten swaps bring the payload back to A")
}

func TestInspect_Errors(t *testing.T) {
	_, _, err := execute(t, "inspect")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, _, err = execute(t, "inspect", filepath.Join(t.TempDir(), "missing.img"))
	require.Error(t, err)
	assert.Equal(t, ExitGeneralError, ExitCodeForError(err))

	garbage := filepath.Join(t.TempDir(), "garbage.img")
	require.NoError(t, os.WriteFile(garbage, bytes.Repeat([]byte("x"), 64), 0o600))
	_, _, err = execute(t, "inspect", garbage)
	assert.Error(t, err)
}

func TestLifetime(t *testing.T) {
	out, _, err := execute(t, "lifetime", "--blocks", "8,16", "--erase-cycles", "5", "--workers", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "BLOCKS")
	assert.True(t, strings.HasPrefix(lines[1], "8 "))
	assert.True(t, strings.HasPrefix(lines[2], "16 "))
	assert.Contains(t, lines[1], "1.00")
}

func TestLifetime_UsageErrors(t *testing.T) {
	_, _, err := execute(t, "lifetime", "--erase-cycles", "0")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, _, err = execute(t, "lifetime", "--memory-limit", "1024")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))

	_, _, err = execute(t, "lifetime", "--log-level", "loud")
	assert.Equal(t, ExitUsageError, ExitCodeForError(err))
}

func TestVersion(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flashsim 1.2.3 "))
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitGeneralError},
		{&UsageError{Err: errors.New("bad flag")}, ExitUsageError},
		{fmt.Errorf("%w: size", ErrInvalidConfig), ExitConfigError},
		{flashsim.ErrConfigNotFound, ExitConfigError},
		{fmt.Errorf("run: %w", flashsim.ErrInvariantViolation), ExitInvariantError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCodeForError(tt.err), "%v", tt.err)
	}
}

func TestInspect_FromConfiguredStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flashsim.yaml")
	cfg := fmt.Sprintf("harness:\n  iterations: 2\nimage:\n  dir: %s\n  name: nightly.img\nlog:\n  format: none\n", filepath.Join(dir, "images"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	_, _, err := execute(t, "run", "--config", path)
	require.NoError(t, err)

	out, _, err := execute(t, "inspect", "nightly.img", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "image:        nightly.img\n")

	_, _, err = execute(t, "inspect", "other.img", "--config", path)
	assert.Error(t, err)

	noStore := filepath.Join(dir, "nostore.yaml")
	require.NoError(t, os.WriteFile(noStore, []byte("log:\n  format: none\n"), 0o600))
	_, _, err = execute(t, "inspect", "nightly.img", "--config", noStore)
	assert.Equal(t, ExitConfigError, ExitCodeForError(err))
}
