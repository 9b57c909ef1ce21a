package voicesession

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	hopus "github.com/hraban/opus"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	"github.com/voxbridge/voicesession/shared"
	"github.com/voxbridge/voicesession/tools"
)

const (
	captureSampleRate = 48000
	captureChannels   = 1
	// Largest opus frame at 48kHz is 120ms.
	maxOpusFrameSamples = 5760
)

// AudioPipeline owns exactly one local capture stream and at most one remote
// playback sink for the life of a Session. It feeds decoded PCM into level
// taps for metering and supports barge-in interruption of playback without
// touching the transport.
type AudioPipeline struct {
	logger shared.LoggerAdapter
	cfg    *SessionConfig

	micEnabled atomic.Bool
	playMuted  atomic.Bool

	micTap  *LevelTap
	playTap *LevelTap

	mu            sync.Mutex
	micStream     mediadevices.MediaStream
	micTrack      mediadevices.Track
	localTrack    *webrtc.TrackLocalStaticSample
	sender        *webrtc.RTPSender
	frameDuration time.Duration
	otoCtx        *oto.Context
	ring          *tools.PCMBuffer
	player        *oto.Player
	sinkClaimed   bool
	closed        bool
}

func newAudioPipeline(logger shared.LoggerAdapter, cfg *SessionConfig) *AudioPipeline {
	p := &AudioPipeline{
		logger:  logger,
		cfg:     cfg,
		micTap:  NewLevelTap(0),
		playTap: NewLevelTap(0),
	}
	p.micEnabled.Store(true)
	return p
}

func (p *AudioPipeline) MicTap() *LevelTap      { return p.micTap }
func (p *AudioPipeline) PlaybackTap() *LevelTap { return p.playTap }

// Acquire requests exclusive microphone access. Failure is a
// MediaAccessError; nothing is held on the failure path.
func (p *AudioPipeline) Acquire(ctx context.Context) error {
	opusParams, err := opus.NewParams()
	if err != nil {
		return &shared.MediaAccessError{Err: err}
	}
	micStream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(captureSampleRate)
			c.ChannelCount = prop.Int(captureChannels)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		return &shared.MediaAccessError{Err: err}
	}
	audioTracks := micStream.GetAudioTracks()
	if len(audioTracks) == 0 {
		for _, t := range micStream.GetTracks() {
			if err := t.Close(); err != nil {
				p.logger.Error("closing track after failed acquire", err)
			}
		}
		return &shared.MediaAccessError{Err: errors.New("no audio track in microphone stream")}
	}
	p.mu.Lock()
	p.micStream = micStream
	p.micTrack = audioTracks[0]
	p.frameDuration = time.Duration(opusParams.Latency)
	p.mu.Unlock()
	return nil
}

// AttachTo adds the local opus track to the peer connection and keeps the
// sender so its track can be stopped on teardown.
func (p *AudioPipeline) AttachTo(pc *webrtc.PeerConnection) error {
	localTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   captureSampleRate,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"mic",
	)
	if err != nil {
		return err
	}
	sender, err := pc.AddTrack(localTrack)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.localTrack = localTrack
	p.sender = sender
	p.mu.Unlock()
	return nil
}

// StartSending pumps encoded microphone frames onto the local track until
// ctx is cancelled. Each outbound frame is also decoded into the mic level
// tap so metering observes exactly what goes on the wire.
func (p *AudioPipeline) StartSending(ctx context.Context) {
	p.mu.Lock()
	micTrack := p.micTrack
	localTrack := p.localTrack
	frameDuration := p.frameDuration
	p.mu.Unlock()
	if micTrack == nil || localTrack == nil {
		p.logger.Error("sending before acquire/attach", nil)
		return
	}
	reader, err := micTrack.NewEncodedReader(localTrack.Codec().MimeType)
	if err != nil {
		p.logger.Error("creating media track reader", err)
		return
	}
	decoder, err := hopus.NewDecoder(captureSampleRate, captureChannels)
	if err != nil {
		p.logger.Error("creating mic meter decoder", err)
		decoder = nil
	}
	pcm := make([]int16, maxOpusFrameSamples*captureChannels)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		buf, release, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				release()
				return
			}
			p.logger.Error("reading from media track", err)
			release()
			continue
		}
		if buf.Samples == 0 {
			release()
			continue
		}
		if !p.micEnabled.Load() {
			// Muted: drop the frame locally and let the meter fall to zero.
			clearPCM(pcm[:buf.Samples*captureChannels])
			p.micTap.WritePCM16(pcm[:buf.Samples*captureChannels])
			release()
			continue
		}
		if decoder != nil {
			if n, derr := decoder.Decode(buf.Data, pcm); derr == nil {
				p.micTap.WritePCM16(pcm[:n*captureChannels])
			}
		}
		err = localTrack.WriteSample(media.Sample{
			Data:     buf.Data[:],
			Duration: frameDuration,
		})
		release()
		if err != nil {
			p.logger.Error("writing sample to track", err)
		}
	}
}

func clearPCM(pcm []int16) {
	for i := range pcm {
		pcm[i] = 0
	}
}

// claimPlaybackSink reserves the single playback sink slot. At most one sink
// exists per pipeline; extra remote tracks are turned away.
func (p *AudioPipeline) claimPlaybackSink() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.sinkClaimed {
		return false
	}
	p.sinkClaimed = true
	return true
}

// HandleRemoteTrack decodes inbound opus into the playback ring and plays it
// through the default output device until ctx is cancelled.
func (p *AudioPipeline) HandleRemoteTrack(ctx context.Context, track *webrtc.TrackRemote) {
	if !p.claimPlaybackSink() {
		p.logger.Warn("ignoring additional remote audio track", zap.String("id", track.ID()))
		return
	}
	codec := track.Codec()
	sampleRate := int(codec.ClockRate)
	channels := int(codec.Channels)
	p.logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)
	decoder, err := hopus.NewDecoder(sampleRate, channels)
	if err != nil {
		p.logger.Error("creating opus decoder", err)
		return
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(p.cfg.PlaybackBufferMs) * time.Millisecond,
	})
	if err != nil {
		p.logger.Error("creating playback context", err)
		return
	}
	ring := tools.NewPCMBuffer(p.cfg.RingBufferSeconds * sampleRate * channels * 2)
	<-ready

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.otoCtx = otoCtx
	p.ring = ring
	p.player = otoCtx.NewPlayer(ring)
	if p.playMuted.Load() {
		p.player.SetVolume(0)
	}
	p.player.Play()
	p.mu.Unlock()

	pcm := make([]int16, maxOpusFrameSamples*channels)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rtp, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				p.logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(rtp.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(rtp.Payload, pcm)
		if err != nil {
			p.logger.Error("decoding opus", err)
			continue
		}
		frame := pcm[:n*channels]
		p.playTap.WritePCM16(frame)
		if dropped := ring.Write(tools.PCM16ToBytes(frame)); dropped > 0 {
			p.logger.Warn("playback ring dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}

// SetMicEnabled flips the capture gate. No stream re-acquisition happens;
// the pump simply stops handing frames to the sender while disabled.
func (p *AudioPipeline) SetMicEnabled(enabled bool) {
	p.micEnabled.Store(enabled)
}

// SetPlaybackMuted mutes or unmutes the sink element directly.
func (p *AudioPipeline) SetPlaybackMuted(muted bool) {
	p.playMuted.Store(muted)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return
	}
	if muted {
		p.player.SetVolume(0)
	} else {
		p.player.SetVolume(1)
	}
}

// Interrupt stops audible playback within one render frame while leaving the
// media subscription intact: the ring is flushed and the player is detached
// from it and immediately reattached, so the next utterance plays without
// renegotiation.
func (p *AudioPipeline) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ring != nil {
		p.ring.Clear()
	}
	if p.player == nil || p.otoCtx == nil {
		return
	}
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		p.logger.Error("detaching playback sink", err)
	}
	p.player = p.otoCtx.NewPlayer(p.ring)
	if p.playMuted.Load() {
		p.player.SetVolume(0)
	}
	p.player.Play()
}

// Close releases every held media resource: capture tracks, the outgoing
// sender's track, the playback ring and player. Idempotent.
func (p *AudioPipeline) Close() {
	p.CloseCapture()
	p.ClosePlayback()
}

// CloseCapture stops the microphone tracks and the outgoing sender.
func (p *AudioPipeline) CloseCapture() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.micStream != nil {
		for _, t := range p.micStream.GetTracks() {
			if err := t.Close(); err != nil {
				p.logger.Error("closing capture track", err)
			}
		}
		p.micStream = nil
		p.micTrack = nil
	}
	if p.sender != nil {
		if err := p.sender.Stop(); err != nil {
			p.logger.Error("stopping sender", err)
		}
		p.sender = nil
	}
}

// ClosePlayback closes the ring and the player and marks the pipeline done;
// no sink can be installed afterwards. Idempotent.
func (p *AudioPipeline) ClosePlayback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.ring != nil {
		_ = p.ring.Close()
	}
	if p.player != nil {
		if err := p.player.Close(); err != nil {
			p.logger.Error("closing playback sink", err)
		}
		p.player = nil
	}
}
