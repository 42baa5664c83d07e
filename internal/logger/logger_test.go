package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DebugLevel,
		"info":    logger.InfoLevel,
		"":        logger.InfoLevel,
		"warning": logger.WarnLevel,
		"warn":    logger.WarnLevel,
		"error":   logger.ErrorLevel,
	}
	for in, want := range cases {
		got, err := logger.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := logger.ParseLevel("loud")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestNewWritesStructuredFields(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(&buf).With("station", "sta1")
	log.Info().Str("to_ap", "ap2").Msg("handover")

	out := buf.String()
	assert.Contains(t, out, `"station":"sta1"`)
	assert.Contains(t, out, `"to_ap":"ap2"`)
	assert.Contains(t, out, `"message":"handover"`)
}

func TestErrorWithCode(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)

	var buf bytes.Buffer
	log := logger.New(&buf)
	log.ErrorWithCode(errors.New().New(errors.ErrModelOutOfBounds)).Msg("step failed")

	assert.Contains(t, buf.String(), `"error_code":"model_out_of_bounds"`)
}

func TestNopDiscards(t *testing.T) {
	log := logger.Nop()
	log.Info().Str("k", "v").Msg("ignored")
	log.With("a", "b").Debug().Msg("ignored")
}
