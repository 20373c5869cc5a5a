package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewWritesAppField(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New("trackrun", zerolog.InfoLevel, true, &buf)
	l.Debug().Msg("hidden")
	l.Info().Int("turns", 3).Msg("tracked")
	out := buf.String()
	assert.Contains(t, out, "tracked")
	assert.Contains(t, out, "app=trackrun")
	assert.Contains(t, out, "turns=3")
	assert.NotContains(t, out, "hidden")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogNoColor, "true")
	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	assert.Equal(t, zerolog.ErrorLevel, cfg.level)
	assert.True(t, cfg.noColor)
}
