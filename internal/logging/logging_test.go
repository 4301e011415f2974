package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle-scanner/internal/models"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestChildLoggersCarryFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	inst := models.Instrument{Ticker: "INFY", Token: 408065, Exchange: models.NSE}
	l := WithOperation(WithInterval(WithInstrument(base, inst), models.Interval1h), "extend")
	l.Info().Msg("hello")

	m := decode(t, &buf)
	assert.Equal(t, "INFY", m["ticker"])
	assert.Equal(t, "408065", m["instrument_id"])
	assert.Equal(t, "1h", m["interval"])
	assert.Equal(t, "extend", m["operation"])
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str("c", "x").Logger()

	got := FromContext(WithLogger(context.Background(), l))
	got.Info().Msg("m")
	assert.Equal(t, "x", decode(t, &buf)["c"])

	// Missing logger is a no-op, not a panic.
	missing := FromContext(context.Background())
	missing.Info().Msg("dropped")
}

func TestLogCycle(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	LogCycle(l, "refresh", time.Second, errors.New("boom"))
	m := decode(t, &buf)
	assert.Equal(t, "error", m["level"])
	assert.Equal(t, "refresh", m["loop"])
	assert.Equal(t, "boom", m["error"])
}

func TestNewLoggerWritesFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "scanner.log")

	l := NewLoggerWithConfig(LogConfig{
		Level:    "debug",
		Console:  true,
		File:     true,
		FilePath: path,
		MaxSize:  1,
		Out:      &console,
	})
	l.Debug().Msg("written")

	assert.Contains(t, console.String(), "written")
	assert.FileExists(t, path)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
