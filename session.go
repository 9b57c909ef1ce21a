package voicesession

import "sync"

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one finalized conversation turn. Immutable once emitted.
type TranscriptEntry struct {
	Role Role
	Text string
}

// ToolInvocation is a single tool call requested by the remote service,
// answered at most once via SendToolResult with the same CallID.
type ToolInvocation struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// Session holds the conversation state of one live connection. A fresh
// Session is constructed on every Connect; it is never reused.
type Session struct {
	conversationID string
	voice          Voice
	instructions   string

	mu           sync.Mutex
	micMuted     bool
	speakerMuted bool
	transcript   []TranscriptEntry
	chunk        string
}

func newSession(conversationID string, voice Voice, instructions string) *Session {
	return &Session{
		conversationID: conversationID,
		voice:          voice,
		instructions:   instructions,
	}
}

func (s *Session) ConversationID() string { return s.conversationID }

func (s *Session) Voice() Voice { return s.voice }

// Transcript returns a copy of the finalized entries, in order.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) appendEntry(e TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, e)
}

// StreamingChunk is the in-progress assistant utterance, empty between turns.
func (s *Session) StreamingChunk() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunk
}

func (s *Session) appendChunk(delta string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunk += delta
	return s.chunk
}

func (s *Session) clearChunk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunk = ""
}

func (s *Session) setMicMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.micMuted = muted
}

func (s *Session) MicMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micMuted
}

func (s *Session) setSpeakerMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speakerMuted = muted
}

func (s *Session) SpeakerMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerMuted
}
