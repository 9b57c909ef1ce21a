package voicesession

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", ConnectionState(99).String())
}

func TestTranscriptIsCopied(t *testing.T) {
	s := newSession("conv-1", VoiceAlloy, "")
	s.appendEntry(TranscriptEntry{Role: RoleUser, Text: "one"})

	got := s.Transcript()
	got[0].Text = "mutated"

	assert.Equal(t, "one", s.Transcript()[0].Text)
}

func TestTranscriptOrdering(t *testing.T) {
	s := newSession("", VoiceAlloy, "")
	s.appendEntry(TranscriptEntry{Role: RoleUser, Text: "q"})
	s.appendEntry(TranscriptEntry{Role: RoleAssistant, Text: "a"})

	got := s.Transcript()
	assert.Equal(t, []TranscriptEntry{
		{Role: RoleUser, Text: "q"},
		{Role: RoleAssistant, Text: "a"},
	}, got)
}

func TestStreamingChunkAccumulates(t *testing.T) {
	s := newSession("", VoiceAlloy, "")
	assert.Equal(t, "Hel", s.appendChunk("Hel"))
	assert.Equal(t, "Hello", s.appendChunk("lo"))
	assert.Equal(t, "Hello", s.StreamingChunk())

	s.clearChunk()
	assert.Empty(t, s.StreamingChunk())
}

func TestSessionMuteFlags(t *testing.T) {
	s := newSession("", VoiceAlloy, "")
	assert.False(t, s.MicMuted())
	assert.False(t, s.SpeakerMuted())

	s.setMicMuted(true)
	s.setSpeakerMuted(true)
	assert.True(t, s.MicMuted())
	assert.True(t, s.SpeakerMuted())
}
