// # Go Client Package for Real-Time Voice Sessions
//
// This repository provides a Go package for building applications that hold real-time, two-way voice conversations with a remote inference service over WebRTC. It owns the full session lifecycle: minting a short-lived credential, acquiring the microphone, negotiating the media transport, multiplexing a typed JSON event protocol over the data channel, and driving local playback with barge-in interruption and live amplitude metering.
package voicesession
