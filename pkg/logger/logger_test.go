package logger

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsToConfig(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantLevel LogLevel
		enabled   []DebugCategory
		disabled  []DebugCategory
	}{
		{
			name:      "defaults",
			wantLevel: LevelInfo,
			disabled:  []DebugCategory{DebugSignaling, DebugSDP, DebugICE, DebugWebRTC, DebugStats},
		},
		{
			name:      "single category forces debug",
			args:      []string{"--debug-ice"},
			wantLevel: LevelDebug,
			enabled:   []DebugCategory{DebugICE},
			disabled:  []DebugCategory{DebugSDP},
		},
		{
			name:      "all",
			args:      []string{"-l", "warn", "--debug-all"},
			wantLevel: LevelDebug,
			enabled:   []DebugCategory{DebugSignaling, DebugSDP, DebugICE, DebugWebRTC, DebugStats},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			f := RegisterFlags(fs)
			require.NoError(t, fs.Parse(tt.args))

			cfg, err := f.ToConfig()
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, cfg.Level)

			for _, c := range tt.enabled {
				assert.True(t, cfg.IsCategoryEnabled(c), c)
			}
			for _, c := range tt.disabled {
				assert.False(t, cfg.IsCategoryEnabled(c), c)
			}
		})
	}
}

func TestInvalidFlags(t *testing.T) {
	_, err := (&Flags{LogLevel: "loud", LogFormat: "text"}).ToConfig()
	assert.Error(t, err)

	_, err = (&Flags{LogLevel: "info", LogFormat: "xml"}).ToConfig()
	assert.Error(t, err)
}

func TestCategoryLogging(t *testing.T) {
	cfg := NewConfig()
	cfg.Level = LevelDebug
	cfg.EnableCategory(DebugSDP)

	var buf bytes.Buffer
	log := NewWithWriter(cfg, &buf).With("component", "test")

	log.DebugSDP("sdp line", "n", 1)
	log.DebugSignaling("hidden")

	out := buf.String()
	assert.Contains(t, out, "category=sdp")
	assert.Contains(t, out, "component=test")
	assert.NotContains(t, out, "hidden")
}

func TestPionFactory(t *testing.T) {
	cfg := NewConfig()
	cfg.Level = LevelDebug

	var buf bytes.Buffer
	l := NewPionFactory(NewWithWriter(cfg, &buf)).NewLogger("ice")

	l.Debugf("gathering %d", 1)
	assert.Empty(t, buf.String())

	l.Warnf("failed to bind %s", "udp4")
	assert.Contains(t, buf.String(), "failed to bind udp4")
	assert.Contains(t, buf.String(), "scope=ice")

	cfg.EnableCategory(DebugWebRTC)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}
