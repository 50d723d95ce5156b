package flashsim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerFromConfig(t *testing.T) {
	var buf bytes.Buffer

	l, err := NewLoggerFromConfig(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])

	buf.Reset()
	l, err = NewLoggerFromConfig(LogConfig{Format: "none"}, &buf)
	require.NoError(t, err)
	l.Error("dropped")
	assert.Zero(t, buf.Len())

	_, err = NewLoggerFromConfig(LogConfig{Format: "xml"}, &buf)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	l := NewJSONLogger(&buf, slog.LevelInfo).
		WithRun("nightly").
		WithGeometry(blockdevice.DefaultGeometry(4096))

	l.LogReport(ctx, harness.Report{Iterations: 3, Checks: 3}, nil)
	l.LogDeviceStats(ctx, blockdevice.Stats{Programs: 10, Erases: 2}, 1)
	l.LogImage(ctx, "save", "device.img", errors.New("disk full"))

	dec := json.NewDecoder(&buf)
	var recs []map[string]any
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		recs = append(recs, rec)
	}
	require.Len(t, recs, 3)

	for _, rec := range recs {
		assert.Equal(t, "nightly", rec["run"])
		assert.EqualValues(t, 4096, rec["size"])
	}
	assert.Equal(t, "simulation completed", recs[0]["msg"])
	assert.EqualValues(t, 3, recs[0]["iterations"])
	assert.EqualValues(t, 1, recs[1]["worn_units"])
	assert.Equal(t, "image save failed", recs[2]["msg"])
	assert.Equal(t, "ERROR", recs[2]["level"])
}
