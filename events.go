package voicesession

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types
const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeConversationItemAdded                            ServerEventType = "conversation.item.added"
	ServerEventTypeConversationItemCreated                          ServerEventType = "conversation.item.created"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeInputAudioBufferSpeechStarted                    ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped                    ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeOutputAudioBufferStarted                         ServerEventType = "output_audio_buffer.started"
	ServerEventTypeOutputAudioBufferStopped                         ServerEventType = "output_audio_buffer.stopped"
	ServerEventTypeOutputAudioBufferCleared                         ServerEventType = "output_audio_buffer.cleared"
	ServerEventTypeResponseCreated                                  ServerEventType = "response.created"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
	ServerEventTypeResponseCancelled                                ServerEventType = "response.cancelled"
	ServerEventTypeResponseOutputAudioTranscriptDelta               ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioTranscriptDone                ServerEventType = "response.output_audio_transcript.done"
	ServerEventTypeResponseFunctionCallArgumentsDelta               ServerEventType = "response.function_call_arguments.delta"
	ServerEventTypeResponseFunctionCallArgumentsDone                ServerEventType = "response.function_call_arguments.done"
	ServerEventTypeRateLimitsUpdated                                ServerEventType = "rate_limits.updated"
)

// Client event types
const (
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
	ClientEventTypeResponseCancel         ClientEventType = "response.cancel"
)

// ServerEvent is the decoded envelope of one inbound control-channel message.
// Payload is nil when the type is outside the known vocabulary; such events
// are ignored so the protocol vocabulary can grow without breaking clients.
type ServerEvent struct {
	EventID string
	Type    ServerEventType
	Payload ServerPayload
}

// ServerPayload is the type-specific body of a server event.
type ServerPayload interface {
	decode(m map[string]any) error
}

var serverPayloads = map[ServerEventType]func() ServerPayload{
	ServerEventTypeError:                                            func() ServerPayload { return new(ErrorPayload) },
	ServerEventTypeSessionCreated:                                   func() ServerPayload { return new(SessionPayload) },
	ServerEventTypeSessionUpdated:                                   func() ServerPayload { return new(SessionPayload) },
	ServerEventTypeConversationItemAdded:                            func() ServerPayload { return new(ConversationItemPayload) },
	ServerEventTypeConversationItemCreated:                          func() ServerPayload { return new(ConversationItemPayload) },
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted: func() ServerPayload { return new(InputTranscriptionCompletedPayload) },
	ServerEventTypeInputAudioBufferSpeechStarted:                    func() ServerPayload { return new(SpeechStartedPayload) },
	ServerEventTypeInputAudioBufferSpeechStopped:                    func() ServerPayload { return new(SpeechStoppedPayload) },
	ServerEventTypeOutputAudioBufferStarted:                         func() ServerPayload { return new(OutputAudioBufferPayload) },
	ServerEventTypeOutputAudioBufferStopped:                         func() ServerPayload { return new(OutputAudioBufferPayload) },
	ServerEventTypeOutputAudioBufferCleared:                         func() ServerPayload { return new(OutputAudioBufferPayload) },
	ServerEventTypeResponseCreated:                                  func() ServerPayload { return new(ResponsePayload) },
	ServerEventTypeResponseDone:                                     func() ServerPayload { return new(ResponsePayload) },
	ServerEventTypeResponseCancelled:                                func() ServerPayload { return new(ResponsePayload) },
	ServerEventTypeResponseOutputAudioTranscriptDelta:               func() ServerPayload { return new(TranscriptDeltaPayload) },
	ServerEventTypeResponseOutputAudioTranscriptDone:                func() ServerPayload { return new(TranscriptDonePayload) },
	ServerEventTypeResponseFunctionCallArgumentsDelta:               func() ServerPayload { return new(FunctionCallArgsDeltaPayload) },
	ServerEventTypeResponseFunctionCallArgumentsDone:                func() ServerPayload { return new(FunctionCallArgsDonePayload) },
	ServerEventTypeRateLimitsUpdated:                                func() ServerPayload { return new(RateLimitsPayload) },
}

func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["event_id"].(string); ok {
		e.EventID = v
		delete(raw, "event_id")
	}
	v, ok := raw["type"].(string)
	if !ok {
		return errors.New("missing type")
	}
	e.Type = ServerEventType(v)
	delete(raw, "type")
	mk, ok := serverPayloads[e.Type]
	if !ok {
		// Unknown type: not an error, the caller drops the event.
		e.Payload = nil
		return nil
	}
	p := mk()
	if err := p.decode(raw); err != nil {
		return fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	e.Payload = p
	return nil
}

// Decode field helpers. Unknown fields are ignored throughout.

func reqString(m map[string]any, key string) (string, error) {
	v, ok := m[key].(string)
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}

func optString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func optMap(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func optInt(m map[string]any, key string) int {
	v, _ := asInt(m[key])
	return v
}

// ErrorPayload carries a remote-reported in-band error. Both the nested
// official shape and a flattened variant are accepted.
type ErrorPayload struct {
	ErrType string
	Code    string
	Message string
	Param   any
}

func (p *ErrorPayload) decode(m map[string]any) error {
	if errObj := optMap(m, "error"); errObj != nil {
		m = errObj
	}
	var err error
	if p.Message, err = reqString(m, "message"); err != nil {
		return err
	}
	p.ErrType = optString(m, "type")
	p.Code = optString(m, "code")
	p.Param = m["param"]
	return nil
}

// SessionPayload is the body of session.created and session.updated.
type SessionPayload struct {
	Session map[string]any
}

func (p *SessionPayload) decode(m map[string]any) error {
	if p.Session = optMap(m, "session"); p.Session == nil {
		return errors.New("missing session")
	}
	return nil
}

// ConversationItemPayload is the body of conversation.item.added/created.
type ConversationItemPayload struct {
	PreviousItemID any
	Item           map[string]any
}

func (p *ConversationItemPayload) decode(m map[string]any) error {
	p.PreviousItemID = m["previous_item_id"]
	if p.Item = optMap(m, "item"); p.Item == nil {
		return errors.New("missing item")
	}
	return nil
}

func (p *ConversationItemPayload) Role() string {
	return optString(p.Item, "role")
}

// AudioTranscript digs a finalized speech transcript out of the item's
// content parts. Typed text parts are deliberately skipped: locally-authored
// messages are echoed at send time, not when the server replays them.
func (p *ConversationItemPayload) AudioTranscript() string {
	content, _ := p.Item["content"].([]any)
	for _, c := range content {
		part, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if t := optString(part, "transcript"); t != "" {
			return t
		}
	}
	return ""
}

type InputTranscriptionCompletedPayload struct {
	ItemID       string
	ContentIndex int
	Transcript   string
	Usage        map[string]any
}

func (p *InputTranscriptionCompletedPayload) decode(m map[string]any) error {
	var err error
	if p.ItemID, err = reqString(m, "item_id"); err != nil {
		return err
	}
	if p.Transcript, err = reqString(m, "transcript"); err != nil {
		return err
	}
	p.ContentIndex = optInt(m, "content_index")
	p.Usage = optMap(m, "usage")
	return nil
}

type SpeechStartedPayload struct {
	AudioStartMs int
	ItemID       string
}

func (p *SpeechStartedPayload) decode(m map[string]any) error {
	p.AudioStartMs = optInt(m, "audio_start_ms")
	var err error
	p.ItemID, err = reqString(m, "item_id")
	return err
}

type SpeechStoppedPayload struct {
	AudioEndMs int
	ItemID     string
}

func (p *SpeechStoppedPayload) decode(m map[string]any) error {
	p.AudioEndMs = optInt(m, "audio_end_ms")
	var err error
	p.ItemID, err = reqString(m, "item_id")
	return err
}

type OutputAudioBufferPayload struct {
	ResponseID string
}

func (p *OutputAudioBufferPayload) decode(m map[string]any) error {
	var err error
	p.ResponseID, err = reqString(m, "response_id")
	return err
}

type ResponsePayload struct {
	Response map[string]any
}

func (p *ResponsePayload) decode(m map[string]any) error {
	p.Response = optMap(m, "response")
	return nil
}

type TranscriptDeltaPayload struct {
	ResponseID   string
	ItemID       string
	OutputIndex  int
	ContentIndex int
	Delta        string
}

func (p *TranscriptDeltaPayload) decode(m map[string]any) error {
	var err error
	if p.Delta, err = reqString(m, "delta"); err != nil {
		return err
	}
	p.ResponseID = optString(m, "response_id")
	p.ItemID = optString(m, "item_id")
	p.OutputIndex = optInt(m, "output_index")
	p.ContentIndex = optInt(m, "content_index")
	return nil
}

type TranscriptDonePayload struct {
	ResponseID   string
	ItemID       string
	OutputIndex  int
	ContentIndex int
	Transcript   string
}

func (p *TranscriptDonePayload) decode(m map[string]any) error {
	var err error
	if p.Transcript, err = reqString(m, "transcript"); err != nil {
		return err
	}
	p.ResponseID = optString(m, "response_id")
	p.ItemID = optString(m, "item_id")
	p.OutputIndex = optInt(m, "output_index")
	p.ContentIndex = optInt(m, "content_index")
	return nil
}

type FunctionCallArgsDeltaPayload struct {
	ResponseID  string
	ItemID      string
	OutputIndex int
	CallID      string
	Delta       string
}

func (p *FunctionCallArgsDeltaPayload) decode(m map[string]any) error {
	var err error
	if p.CallID, err = reqString(m, "call_id"); err != nil {
		return err
	}
	if p.Delta, err = reqString(m, "delta"); err != nil {
		return err
	}
	p.ResponseID = optString(m, "response_id")
	p.ItemID = optString(m, "item_id")
	p.OutputIndex = optInt(m, "output_index")
	return nil
}

type FunctionCallArgsDonePayload struct {
	ResponseID  string
	ItemID      string
	OutputIndex int
	CallID      string
	Name        string
	Arguments   string
}

func (p *FunctionCallArgsDonePayload) decode(m map[string]any) error {
	var err error
	if p.CallID, err = reqString(m, "call_id"); err != nil {
		return err
	}
	if p.Arguments, err = reqString(m, "arguments"); err != nil {
		return err
	}
	p.ResponseID = optString(m, "response_id")
	p.ItemID = optString(m, "item_id")
	p.Name = optString(m, "name")
	p.OutputIndex = optInt(m, "output_index")
	return nil
}

type RateLimitsPayload struct {
	RateLimits []map[string]any
}

func (p *RateLimitsPayload) decode(m map[string]any) error {
	v, ok := m["rate_limits"]
	if !ok {
		return errors.New("missing rate_limits")
	}
	switch rr := v.(type) {
	case []any:
		res := make([]map[string]any, 0, len(rr))
		for _, r := range rr {
			rm, ok := r.(map[string]any)
			if !ok {
				return errors.New("invalid element in rate_limits")
			}
			res = append(res, rm)
		}
		p.RateLimits = res
	case []map[string]any:
		p.RateLimits = rr
	default:
		return errors.New("invalid rate_limits")
	}
	return nil
}

// Outbound client events. Each is a single JSON object with a generated
// event_id and the required type field.

func marshalClientEvent(typ ClientEventType, fields map[string]any) ([]byte, error) {
	msg := map[string]any{
		"event_id": uuid.NewString(),
		"type":     typ,
	}
	for k, v := range fields {
		msg[k] = v
	}
	return sonic.Marshal(msg)
}

// newUserMessageEvent builds a conversation.item.create carrying one
// user-authored text message.
func newUserMessageEvent(text string) ([]byte, error) {
	return marshalClientEvent(ClientEventTypeConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// newToolResultEvent builds a conversation.item.create carrying a tool result
// correlated by call_id.
func newToolResultEvent(callID, output string) ([]byte, error) {
	return marshalClientEvent(ClientEventTypeConversationItemCreate, map[string]any{
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

// newResponseTriggerEvent builds a bare response.create.
func newResponseTriggerEvent() ([]byte, error) {
	return marshalClientEvent(ClientEventTypeResponseCreate, map[string]any{
		"response": map[string]any{},
	})
}

// newInstructionsEvent builds a response.create with one-shot instructions,
// used for the configured greeting.
func newInstructionsEvent(instructions string) ([]byte, error) {
	return marshalClientEvent(ClientEventTypeResponseCreate, map[string]any{
		"response": map[string]any{
			"instructions": instructions,
		},
	})
}
