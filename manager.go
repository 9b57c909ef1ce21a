package voicesession

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/voxbridge/voicesession/shared"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Callbacks is the public callback surface consumed by UI collaborators.
// Every field is optional. Handlers are invoked from the manager's dispatch
// goroutines and must not block.
type Callbacks struct {
	OnStateChange     func(ConnectionState)
	OnTranscript      func(TranscriptEntry)
	OnStreamingChunk  func(string)
	OnResponseStarted func()
	OnToolCall        func(ToolInvocation)
	OnMicLevel        LevelFunc
	OnPlaybackLevel   LevelFunc
	OnError           func(error)
}

// dataChannel is the subset of *webrtc.DataChannel the manager sends through.
type dataChannel interface {
	Send(data []byte) error
	ReadyState() webrtc.DataChannelState
	Close() error
}

// Manager orchestrates the full lifecycle of one voice session at a time:
// credential mint, microphone acquisition, transport negotiation, event
// dispatch, metering and teardown. Managers are independently instantiable;
// there is no package-level current session.
type Manager struct {
	logger  shared.LoggerAdapter
	tokens  TokenProvider
	cfg     *SessionConfig
	cb      Callbacks
	baseURL *url.URL
	router  *Router

	mu        sync.Mutex
	state     ConnectionState
	sess      *Session
	sessCtx   context.Context
	cancel    context.CancelCauseFunc
	pc        *webrtc.PeerConnection
	dc        dataChannel
	pipe       *AudioPipeline
	meter      *Meter
	greetTimer *time.Timer
	connected  chan struct{}
	connOnce   bool
}

func NewManager(logger shared.LoggerAdapter, tokens TokenProvider, cfg *SessionConfig, cb Callbacks, baseURL string) (*Manager, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if tokens == nil {
		return nil, shared.ErrNoTokenProvider
	}
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	m := &Manager{
		logger:  logger,
		tokens:  tokens,
		cfg:     cfg,
		cb:      cb,
		baseURL: parsed,
		state:   StateDisconnected,
	}
	m.router = newRouter(m)
	return m, nil
}

func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the live session, or nil when disconnected.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Done is closed when the current session ends for any reason. Returns a
// closed channel when no session was ever started.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessCtx == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return m.sessCtx.Done()
}

// Connect establishes a session. It blocks until the transport reports
// connectivity or a step fails. Calling Connect while a session is already
// Connecting or Connected is a no-op; two overlapping calls never construct
// a second transport. On failure every partially acquired resource is
// released before the error is returned and the state is Error.
func (m *Manager) Connect(ctx context.Context, conversationID ...string) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	convID := ""
	if len(conversationID) > 0 {
		convID = conversationID[0]
	}
	sessCtx, cancel := context.WithCancelCause(context.Background())
	m.sessCtx = sessCtx
	m.cancel = cancel
	m.sess = newSession(convID, m.cfg.Voice, m.cfg.Instructions)
	m.state = StateConnecting
	m.connected = make(chan struct{})
	m.connOnce = false
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	if err := m.connect(ctx, sessCtx, convID); err != nil {
		m.release()
		m.mu.Lock()
		// An explicit Disconnect mid-connect already ended in Disconnected;
		// only an actual failure lands in Error. Either way the dead Session
		// is not kept around.
		failed := m.state == StateConnecting
		if failed {
			m.state = StateError
		}
		m.sess = nil
		m.mu.Unlock()
		if failed {
			m.notifyState(StateError)
		}
		return err
	}
	return nil
}

func (m *Manager) connect(ctx, sessCtx context.Context, convID string) error {
	cred, err := m.tokens.Mint(ctx, MintRequest{
		Voice:          m.cfg.Voice,
		Instructions:   m.cfg.Instructions,
		Tools:          m.cfg.Tools,
		ConversationID: convID,
	})
	if err != nil {
		var ce *shared.CredentialError
		if !errors.As(err, &ce) {
			err = &shared.CredentialError{Err: err}
		}
		return err
	}
	m.logger.Info("credential minted")

	pipe := newAudioPipeline(m.logger, m.cfg)
	if err := pipe.Acquire(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.pipe = pipe
	m.mu.Unlock()
	m.logger.Info("microphone stream obtained")

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	m.mu.Lock()
	m.pc = pc
	m.mu.Unlock()

	if err := pipe.AttachTo(pc); err != nil {
		return fmt.Errorf("attaching local audio: %w", err)
	}

	dc, err := pc.CreateDataChannel("events", nil)
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	m.mu.Lock()
	m.dc = dc
	m.mu.Unlock()

	// The dispatch table must be live before any message can arrive.
	dc.OnMessage(m.handleMessage)
	dc.OnOpen(m.onChannelOpen)

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			go pipe.HandleRemoteTrack(sessCtx, track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Trace("peer connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			m.markTransportConnected()
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			m.cancelSession(fmt.Errorf("peer connection state is %s", state))
			m.markTransportConnected()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return &shared.NegotiationError{Err: fmt.Errorf("creating offer: %w", err)}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return &shared.NegotiationError{Err: fmt.Errorf("setting local description: %w", err)}
	}
	answer, err := m.negotiate(ctx, cred, offer.SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return &shared.NegotiationError{Err: fmt.Errorf("setting remote description: %w", err)}
	}

	// Signaling success alone is not sufficient: media may still be
	// negotiating. Wait for transport-level connectivity.
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sessCtx.Done():
		return context.Cause(sessCtx)
	case <-connected:
	}
	if err := sessCtx.Err(); err != nil {
		return context.Cause(sessCtx)
	}

	m.promoteConnected()
	go pipe.StartSending(sessCtx)
	m.startMetering(sessCtx, pipe)
	m.logger.Info("session connected")
	return nil
}

// negotiate POSTs the local session description to the remote negotiation
// resource and returns the remote description. The credential routes the
// request when it carries its own base URL.
func (m *Manager) negotiate(ctx context.Context, cred Credential, offerSDP string) (string, error) {
	base := m.baseURL
	if cred.BaseURL != "" {
		parsed, err := url.Parse(cred.BaseURL)
		if err != nil {
			return "", &shared.NegotiationError{Err: fmt.Errorf("parsing routing base URL: %w", err)}
		}
		base = parsed
	}
	target := base.JoinPath("/realtime/calls")
	q := target.Query()
	q.Set("model", m.cfg.Model)
	target.RawQuery = q.Encode()

	status, body, err := doPost(ctx, nil, target.String(), "Bearer "+cred.Token, "application/sdp", []byte(offerSDP))
	if err != nil {
		return "", &shared.NegotiationError{Err: err}
	}
	if status < 200 || status >= 300 {
		return "", &shared.NegotiationError{Status: status, Body: string(body)}
	}
	return string(body), nil
}

func (m *Manager) markTransportConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected != nil && !m.connOnce {
		m.connOnce = true
		close(m.connected)
	}
}

func (m *Manager) promoteConnected() {
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.mu.Unlock()
	m.notifyState(StateConnected)
}

func (m *Manager) cancelSession(cause error) {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel(cause)
	}
}

func (m *Manager) startMetering(ctx context.Context, pipe *AudioPipeline) {
	if m.cb.OnMicLevel == nil && m.cb.OnPlaybackLevel == nil {
		return
	}
	meter := NewMeter(m.logger, 0)
	if m.cb.OnMicLevel != nil {
		meter.Attach("mic", pipe.MicTap(), m.cfg.SpectrumBins, m.cb.OnMicLevel)
	}
	if m.cb.OnPlaybackLevel != nil {
		meter.Attach("playback", pipe.PlaybackTap(), m.cfg.SpectrumBins, m.cb.OnPlaybackLevel)
	}
	meter.Start(ctx)
	m.mu.Lock()
	m.meter = meter
	m.mu.Unlock()
}

func (m *Manager) onChannelOpen() {
	m.logger.Info("control channel opened")
	greeting := m.cfg.Greeting
	if greeting == "" {
		return
	}
	// A short delay keeps the greeting from racing remote session
	// initialization. Degrades silently if the channel closes meanwhile.
	// The timer is kept so release can stop it; otherwise a quick
	// disconnect and reconnect inside the delay would greet twice.
	timer := time.AfterFunc(m.cfg.GreetingDelay, func() {
		data, err := newInstructionsEvent(greeting)
		if err != nil {
			m.logger.Error("marshaling greeting", err)
			return
		}
		m.trySend(data)
	})
	m.mu.Lock()
	if m.greetTimer != nil {
		m.greetTimer.Stop()
	}
	m.greetTimer = timer
	m.mu.Unlock()
}

// trySend is the silent-degrade path for internal sends.
func (m *Manager) trySend(data []byte) {
	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	if err := dc.Send(data); err != nil {
		m.logger.Error("sending on control channel", err)
	}
}

func (m *Manager) handleMessage(msg webrtc.DataChannelMessage) {
	if !msg.IsString {
		m.logger.Warn("received non-string message on control channel")
		return
	}
	ev := new(ServerEvent)
	if err := ev.UnmarshalJSON(msg.Data); err != nil {
		m.logger.Error("cannot decode event", err, zap.ByteString("data", msg.Data))
		m.notifyError(fmt.Errorf("decoding event: %w", err))
		return
	}
	m.logger.Trace("received event",
		zap.String("type", string(ev.Type)),
		zap.String("event_id", ev.EventID),
	)
	m.router.Dispatch(ev)
}

// SendText transmits a user-authored message followed by a response trigger,
// and synchronously reports the text as a user transcript entry. No network
// round trip is needed to display one's own sent text.
func (m *Manager) SendText(text string) error {
	m.mu.Lock()
	dc, sess, state := m.dc, m.sess, m.state
	m.mu.Unlock()
	if state != StateConnected || dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return shared.ErrChannelNotReady
	}
	msg, err := newUserMessageEvent(text)
	if err != nil {
		return fmt.Errorf("marshaling user message: %w", err)
	}
	trigger, err := newResponseTriggerEvent()
	if err != nil {
		return fmt.Errorf("marshaling response trigger: %w", err)
	}
	if err := dc.Send(msg); err != nil {
		return fmt.Errorf("sending user message: %w", err)
	}
	if err := dc.Send(trigger); err != nil {
		return fmt.Errorf("sending response trigger: %w", err)
	}
	entry := TranscriptEntry{Role: RoleUser, Text: text}
	if sess != nil {
		sess.appendEntry(entry)
	}
	if m.cb.OnTranscript != nil {
		m.cb.OnTranscript(entry)
	}
	return nil
}

// SendToolResult answers a tool invocation by call ID and triggers the
// remote service to resume generation.
func (m *Manager) SendToolResult(callID string, result any) error {
	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return shared.ErrChannelNotReady
	}
	output, err := sonic.MarshalString(result)
	if err != nil {
		return fmt.Errorf("marshaling tool result: %w", err)
	}
	msg, err := newToolResultEvent(callID, output)
	if err != nil {
		return fmt.Errorf("marshaling tool result event: %w", err)
	}
	trigger, err := newResponseTriggerEvent()
	if err != nil {
		return fmt.Errorf("marshaling response trigger: %w", err)
	}
	if err := dc.Send(msg); err != nil {
		return fmt.Errorf("sending tool result: %w", err)
	}
	if err := dc.Send(trigger); err != nil {
		return fmt.Errorf("sending response trigger: %w", err)
	}
	return nil
}

// ToggleMicrophone enables or disables local capture. Purely local: no wire
// message is sent.
func (m *Manager) ToggleMicrophone(enabled bool) {
	m.mu.Lock()
	pipe, sess := m.pipe, m.sess
	m.mu.Unlock()
	if sess != nil {
		sess.setMicMuted(!enabled)
	}
	if pipe != nil {
		pipe.SetMicEnabled(enabled)
	}
}

// TogglePlayback mutes or unmutes the local playback sink. Purely local.
func (m *Manager) TogglePlayback(enabled bool) {
	m.mu.Lock()
	pipe, sess := m.pipe, m.sess
	m.mu.Unlock()
	if sess != nil {
		sess.setSpeakerMuted(!enabled)
	}
	if pipe != nil {
		pipe.SetPlaybackMuted(!enabled)
	}
}

// Disconnect tears the session down deterministically: sampling loop first,
// then media, then transport, then the control channel. Idempotent, safe
// from any state including mid-Connect, and never fails.
func (m *Manager) Disconnect() {
	m.release()
	m.mu.Lock()
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	m.sess = nil
	m.mu.Unlock()
	if changed {
		m.notifyState(StateDisconnected)
	}
}

// release tears resources down in order: sampling loop, capture and sender
// tracks, transport, playback sink, control channel.
func (m *Manager) release() {
	m.mu.Lock()
	meter, cancel, pipe, pc, dc := m.meter, m.cancel, m.pipe, m.pc, m.dc
	timer := m.greetTimer
	m.meter, m.cancel, m.pipe, m.pc, m.dc = nil, nil, nil, nil, nil
	m.greetTimer = nil
	m.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if meter != nil {
		meter.Stop()
	}
	if cancel != nil {
		cancel(errors.New("session released"))
	}
	if pipe != nil {
		pipe.CloseCapture()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			m.logger.Error("closing peer connection", err)
		}
	}
	if pipe != nil {
		pipe.ClosePlayback()
	}
	if dc != nil {
		_ = dc.Close()
	}
}

func (m *Manager) notifyState(s ConnectionState) {
	m.logger.Info("connection state changed", zap.String("state", s.String()))
	if m.cb.OnStateChange != nil {
		m.cb.OnStateChange(s)
	}
}

func (m *Manager) notifyError(err error) {
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}

// Inbound protocol handlers, wired through the Router dispatch table.

func (m *Manager) onSessionReady(ev *ServerEvent) {
	m.promoteConnected()
}

func (m *Manager) onConversationItem(ev *ServerEvent) {
	p, ok := ev.Payload.(*ConversationItemPayload)
	if !ok {
		return
	}
	switch Role(p.Role()) {
	case RoleAssistant:
		m.mu.Lock()
		sess := m.sess
		m.mu.Unlock()
		if sess != nil {
			sess.clearChunk()
		}
		if m.cb.OnResponseStarted != nil {
			m.cb.OnResponseStarted()
		}
		if m.cb.OnStreamingChunk != nil {
			m.cb.OnStreamingChunk("")
		}
	case RoleUser:
		if t := p.AudioTranscript(); t != "" {
			m.emitTranscript(TranscriptEntry{Role: RoleUser, Text: t})
		}
	}
}

func (m *Manager) onInputTranscription(ev *ServerEvent) {
	p, ok := ev.Payload.(*InputTranscriptionCompletedPayload)
	if !ok || p.Transcript == "" {
		return
	}
	m.emitTranscript(TranscriptEntry{Role: RoleUser, Text: p.Transcript})
}

func (m *Manager) onTranscriptDelta(ev *ServerEvent) {
	p, ok := ev.Payload.(*TranscriptDeltaPayload)
	if !ok {
		return
	}
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return
	}
	chunk := sess.appendChunk(p.Delta)
	if m.cb.OnStreamingChunk != nil {
		m.cb.OnStreamingChunk(chunk)
	}
}

func (m *Manager) onTranscriptDone(ev *ServerEvent) {
	p, ok := ev.Payload.(*TranscriptDonePayload)
	if !ok {
		return
	}
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess != nil {
		sess.clearChunk()
	}
	m.emitTranscript(TranscriptEntry{Role: RoleAssistant, Text: p.Transcript})
	if m.cb.OnStreamingChunk != nil {
		m.cb.OnStreamingChunk("")
	}
}

func (m *Manager) onToolCall(ev *ServerEvent) {
	p, ok := ev.Payload.(*FunctionCallArgsDonePayload)
	if !ok {
		return
	}
	args := map[string]any{}
	if p.Arguments != "" {
		if err := sonic.Unmarshal([]byte(p.Arguments), &args); err != nil {
			// Tolerated degradation: a malformed argument payload must not
			// crash the session.
			m.logger.Warn("malformed tool arguments, substituting empty set",
				zap.String("call_id", p.CallID))
			args = map[string]any{}
		}
	}
	if m.cb.OnToolCall != nil {
		m.cb.OnToolCall(ToolInvocation{CallID: p.CallID, Name: p.Name, Arguments: args})
	}
}

// onInterrupted handles barge-in: playback stops audibly right away but the
// transport and channel stay up for the next utterance.
func (m *Manager) onInterrupted(ev *ServerEvent) {
	m.mu.Lock()
	pipe := m.pipe
	m.mu.Unlock()
	if pipe != nil {
		pipe.Interrupt()
	}
}

func (m *Manager) onProtocolError(ev *ServerEvent) {
	p, ok := ev.Payload.(*ErrorPayload)
	if !ok {
		return
	}
	m.notifyError(&shared.ProtocolError{Code: p.Code, Message: p.Message})
}

func (m *Manager) emitTranscript(e TranscriptEntry) {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess != nil {
		sess.appendEntry(e)
	}
	if m.cb.OnTranscript != nil {
		m.cb.OnTranscript(e)
	}
}
