package voicesession

// Router maps each known server event type to its handler. The table is
// built once per connect and installed on the channel before negotiation, so
// no inbound message can race the dispatch setup. Events whose type is not in
// the table are dropped: the protocol vocabulary grows over time and an old
// client must keep working against a newer service.
type Router struct {
	handlers map[ServerEventType]func(*ServerEvent)
}

func newRouter(m *Manager) *Router {
	return &Router{
		handlers: map[ServerEventType]func(*ServerEvent){
			ServerEventTypeSessionCreated:                                   m.onSessionReady,
			ServerEventTypeSessionUpdated:                                   m.onSessionReady,
			ServerEventTypeConversationItemAdded:                            m.onConversationItem,
			ServerEventTypeConversationItemCreated:                          m.onConversationItem,
			ServerEventTypeConversationItemInputAudioTranscriptionCompleted: m.onInputTranscription,
			ServerEventTypeResponseOutputAudioTranscriptDelta:               m.onTranscriptDelta,
			ServerEventTypeResponseOutputAudioTranscriptDone:                m.onTranscriptDone,
			ServerEventTypeResponseFunctionCallArgumentsDone:                m.onToolCall,
			ServerEventTypeResponseCancelled:                                m.onInterrupted,
			ServerEventTypeOutputAudioBufferCleared:                         m.onInterrupted,
			ServerEventTypeError:                                            m.onProtocolError,
		},
	}
}

// Register installs or replaces the handler for one event type, so embedders
// can extend the vocabulary without modifying the dispatch core.
func (r *Router) Register(t ServerEventType, h func(*ServerEvent)) {
	r.handlers[t] = h
}

// Dispatch routes one decoded event. Types without a handler are no-ops.
// Payload may be nil for types outside the built-in vocabulary; handlers
// type-assert what they need.
func (r *Router) Dispatch(ev *ServerEvent) {
	if ev == nil {
		return
	}
	h, ok := r.handlers[ev.Type]
	if !ok {
		return
	}
	h(ev)
}
