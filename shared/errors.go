package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoTokenProvider       = errors.New("no token provider provided")
	ErrManagerClosed         = errors.New("manager closed")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrChannelNotReady       = errors.New("control channel not ready")
)

// CredentialError reports a failure to mint an ephemeral session credential.
// It is fatal to the connect attempt, not to the manager.
type CredentialError struct {
	Status int
	Body   string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("minting credential: %v", e.Err)
	}
	return fmt.Sprintf("minting credential: status %d: %s", e.Status, e.Body)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// MediaAccessError reports a microphone permission or device failure.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("accessing microphone: %v", e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// NegotiationError reports an offer/answer handshake rejected by the remote
// endpoint. Status and Body carry the remote response.
type NegotiationError struct {
	Status int
	Body   string
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("negotiating session: %v", e.Err)
	}
	return fmt.Sprintf("negotiating session: status %d: %s", e.Status, e.Body)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ProtocolError is an in-band error reported by the remote service. It is
// surfaced through the error callback and does not close the session.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %s: %s", e.Code, e.Message)
}
