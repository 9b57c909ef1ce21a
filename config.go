package voicesession

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Voice identifies one of the fixed remote voice presets.
type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceAsh     Voice = "ash"
	VoiceBallad  Voice = "ballad"
	VoiceCoral   Voice = "coral"
	VoiceEcho    Voice = "echo"
	VoiceSage    Voice = "sage"
	VoiceShimmer Voice = "shimmer"
	VoiceVerse   Voice = "verse"
	VoiceMarin   Voice = "marin"
	VoiceCedar   Voice = "cedar"
)

var knownVoices = map[Voice]struct{}{
	VoiceAlloy: {}, VoiceAsh: {}, VoiceBallad: {}, VoiceCoral: {},
	VoiceEcho: {}, VoiceSage: {}, VoiceShimmer: {}, VoiceVerse: {},
	VoiceMarin: {}, VoiceCedar: {},
}

// ToolSchema describes one callable tool advertised to the remote service.
type ToolSchema struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// SessionConfig configures a voice session before Connect.
type SessionConfig struct {
	Model        string       `yaml:"model"`
	Voice        Voice        `yaml:"voice"`
	Instructions string       `yaml:"instructions"`
	Greeting     string       `yaml:"greeting"`
	Tools        []ToolSchema `yaml:"tools"`

	// GreetingDelay is waited after the control channel opens before the
	// greeting instruction is sent, so it does not race remote session
	// initialization.
	GreetingDelay time.Duration `yaml:"greeting_delay"`

	// Playback device buffering and ring sizing.
	PlaybackBufferMs  int `yaml:"playback_buffer_ms"`
	RingBufferSeconds int `yaml:"ring_buffer_seconds"`

	// SpectrumBins > 0 adds a frequency-domain snapshot to every level
	// sample. 0 meters amplitude only.
	SpectrumBins int `yaml:"spectrum_bins"`
}

const (
	defaultModel            = "gpt-realtime"
	defaultGreetingDelay    = 250 * time.Millisecond
	defaultPlaybackBufferMs = 100
	defaultRingSeconds      = 2
)

// DefaultSessionConfig returns a config that is valid as-is.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Model:             defaultModel,
		Voice:             VoiceAlloy,
		GreetingDelay:     defaultGreetingDelay,
		PlaybackBufferMs:  defaultPlaybackBufferMs,
		RingBufferSeconds: defaultRingSeconds,
	}
}

// Validate fills defaults and rejects unknown voices.
func (c *SessionConfig) Validate() error {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Voice == "" {
		c.Voice = VoiceAlloy
	}
	if _, ok := knownVoices[c.Voice]; !ok {
		return fmt.Errorf("unknown voice: %s", c.Voice)
	}
	if c.GreetingDelay <= 0 {
		c.GreetingDelay = defaultGreetingDelay
	}
	if c.PlaybackBufferMs <= 0 {
		c.PlaybackBufferMs = defaultPlaybackBufferMs
	}
	if c.RingBufferSeconds <= 0 {
		c.RingBufferSeconds = defaultRingSeconds
	}
	return nil
}

// LoadSessionConfig reads a YAML session config from disk.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session config: %w", err)
	}
	cfg := new(SessionConfig)
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.UseJSONUnmarshaler()); err != nil {
		return nil, fmt.Errorf("parsing session config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
