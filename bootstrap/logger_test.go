package bootstrap_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/artpar/modkernel/bootstrap"
	"github.com/artpar/modkernel/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		wantJSON  bool
		wantLevel zerolog.Level
	}{
		{"json", config.LoggingConfig{Level: "warn", Format: "json"}, true, zerolog.WarnLevel},
		{"console", config.LoggingConfig{Level: "debug", Format: "console"}, false, zerolog.DebugLevel},
		{"auto on buffer", config.LoggingConfig{Level: "info", Format: "auto"}, true, zerolog.InfoLevel},
		{"bad level", config.LoggingConfig{Level: "loud", Format: "json"}, true, zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := bootstrap.NewLogger(tt.cfg, &buf)
			assert.Equal(t, tt.wantLevel, zerolog.GlobalLevel())

			logger.Error().Str("module", "Shop").Msg("stage failed")

			var line map[string]any
			err := json.Unmarshal(buf.Bytes(), &line)
			if tt.wantJSON {
				require.NoError(t, err, "output: %s", buf.String())
				assert.Equal(t, "Shop", line["module"])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "stage failed")
			}
		})
	}
}
