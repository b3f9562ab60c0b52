package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
}

func TestNewLoggerWithConfig_FiltersBelowLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	logger := NewLoggerWithConfig(LogConfig{Level: "warn", Console: true, Out: &buf})
	logger = WithComponent(logger, "hedger")

	logger.Info().Msg("quiet")
	LogSkip(logger, "auto_rehedge", "p1", "AAPL", errors.New("no quote"))

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "Position skipped")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "hedger")
	assert.Contains(t, out, "position_id=")
}

func TestNewLoggerWithConfig_NoWritersDiscards(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := NewLoggerWithConfig(LogConfig{Level: "debug"})
	assert.NotPanics(t, func() { logger.Error().Msg("dropped") })
}
