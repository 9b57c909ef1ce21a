package voicesession

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSessionConfigIsValid(t *testing.T) {
	cfg := DefaultSessionConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-realtime", cfg.Model)
	assert.Equal(t, VoiceAlloy, cfg.Voice)
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &SessionConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-realtime", cfg.Model)
	assert.Equal(t, VoiceAlloy, cfg.Voice)
	assert.Equal(t, 250*time.Millisecond, cfg.GreetingDelay)
	assert.Equal(t, 100, cfg.PlaybackBufferMs)
	assert.Equal(t, 2, cfg.RingBufferSeconds)
}

func TestValidateRejectsUnknownVoice(t *testing.T) {
	cfg := &SessionConfig{Voice: Voice("robotic")}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "robotic")
}

func TestLoadSessionConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: gpt-realtime
voice: cedar
instructions: keep answers short
greeting: greet the caller warmly
greeting_delay: 500ms
spectrum_bins: 16
tools:
  - name: get_weather
    description: current weather by city
    parameters:
      type: object
      properties:
        city:
          type: string
`), 0o600))

	cfg, err := LoadSessionConfig(path)
	require.NoError(t, err)
	assert.Equal(t, VoiceCedar, cfg.Voice)
	assert.Equal(t, "keep answers short", cfg.Instructions)
	assert.Equal(t, "greet the caller warmly", cfg.Greeting)
	assert.Equal(t, 500*time.Millisecond, cfg.GreetingDelay)
	assert.Equal(t, 16, cfg.SpectrumBins)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "get_weather", cfg.Tools[0].Name)
	assert.Equal(t, "object", cfg.Tools[0].Parameters["type"])
}

func TestLoadSessionConfigBadVoice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voice: nope\n"), 0o600))
	_, err := LoadSessionConfig(path)
	assert.Error(t, err)
}

func TestLoadSessionConfigMissingFile(t *testing.T) {
	_, err := LoadSessionConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
