package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/breeze-rmm/videocore/internal/videocore"
	"github.com/breeze-rmm/videocore/internal/workerpool"
)

// FrameSource is the capture-side pull interface: one Bitmap per captured
// frame plus the crop and timing to apply. Sessions poll it on their own
// capture loop rather than being pushed to, mirroring SPICE's pull-based
// command source; this package owns no concrete capture backend, only the
// pull contract.
type FrameSource interface {
	NextFrame() (bitmap videocore.Bitmap, crop videocore.Rect, topDown bool, mmTimeMS uint32, ok bool)
}

// Session binds one connected client to a codec pipeline, cursor channel,
// and input channel, transported over a single WebRTC peer connection plus
// an input/control data channel.
type Session struct {
	ID string

	mu         sync.Mutex
	peerConn   *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticSample
	inputDC    *webrtc.DataChannel
	cursorDC   *webrtc.DataChannel

	pipeline *videocore.Pipeline
	cursor   *videocore.CursorChannel
	cursorCl *videocore.CursorChannelClient
	input    *videocore.Channel
	adaptive *AdaptiveBitrate
	inputs   *workerpool.Pool

	source FrameSource
	rttMS  atomic.Uint32

	done      chan struct{}
	closeOnce sync.Once
}

// Config gathers everything needed to start one session.
type Config struct {
	Codec       videocore.Codec
	SourceFPS   uint32
	MinBitRate  uint64
	MaxBitRate  uint64
	ICEServers  []webrtc.ICEServer
	Source      FrameSource
	InputSink   videocore.InputSink
	CursorItems *videocore.CursorChannel

	// VBufferMS, CursorCacheSize, and AckBunch override videocore's built-in
	// defaults when positive.
	VBufferMS       int
	CursorCacheSize int
	AckBunch        int
	// InputPool dispatches decoded input events off the data channel's
	// message-handling goroutine, so a slow input sink (shelling out to
	// xdotool, for instance) can't stall the channel reader. Shared across
	// sessions since they all ultimately drive the same local input device.
	InputPool *workerpool.Pool
}

// NewSession constructs a session around an SDP offer and returns the SDP
// answer to relay back to the signaling client.
func NewSession(cfg Config, offer string) (*Session, string, error) {
	sourceFPS := cfg.SourceFPS
	if sourceFPS == 0 {
		sourceFPS = 30
	}
	if cfg.CursorItems == nil {
		cfg.CursorItems = videocore.NewCursorChannel()
	}
	s := &Session{
		ID:       uuid.NewString(),
		cursor:   cfg.CursorItems,
		cursorCl: videocore.NewCursorChannelClientWithCapacity(cfg.CursorCacheSize),
		source:   cfg.Source,
		inputs:   cfg.InputPool,
		done:     make(chan struct{}),
	}

	// Wiring GetRoundtripMS activates the pipeline's virtual-buffer rate
	// control; the RTT itself comes from the RTCP stats polled by
	// adaptiveLoop. The playback-delay hint rides the input data channel
	// back to the client as a control message.
	fb := videocore.FeedbackCallbacks{
		GetRoundtripMS: func() uint32 { return s.rttMS.Load() },
		GetSourceFPS:   func() uint32 { return s.adaptive.TargetFPS() },
		UpdateClientPlaybackDelay: func(delayMS uint32) {
			s.sendPlaybackDelay(delayMS)
		},
	}
	pipeline, err := videocore.NewPipeline(cfg.Codec, videocore.DefaultBackend(), cfg.MaxBitRate/2, fb)
	if err != nil {
		return nil, "", fmt.Errorf("session: new pipeline: %w", err)
	}
	s.pipeline = pipeline
	s.pipeline.SetVBufferDelayMS(cfg.VBufferMS)

	s.input = videocore.NewChannel(cfg.InputSink, func() {
		s.sendCursorOrInputAck()
	})
	s.input.SetAckBunch(cfg.AckBunch)

	s.adaptive = NewAdaptiveBitrate(AdaptiveConfig{
		SetBitRate:     s.pipeline.SetBitRate,
		InitialBitRate: cfg.MaxBitRate / 2,
		MinBitRate:     cfg.MinBitRate,
		MaxBitRate:     cfg.MaxBitRate,
		MaxFPS:         int(sourceFPS),
	})

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, "", fmt.Errorf("session: new peer connection: %w", err)
	}
	s.peerConn = pc

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: codecMimeType(cfg.Codec)},
		"video", s.ID,
	)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("session: new video track: %w", err)
	}
	s.videoTrack = track

	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("session: add track: %w", err)
	}
	go s.rtcpLoop(sender)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case "input":
			s.mu.Lock()
			s.inputDC = dc
			s.mu.Unlock()
			dc.OnMessage(s.handleInputMessage)
		case "cursor":
			s.mu.Lock()
			s.cursorDC = dc
			s.mu.Unlock()
			dc.OnOpen(func() {
				s.cursorCl.SetPipeCallback(func(item videocore.CursorPipeItem) {
					if err := dc.Send(encodeCursorPipeItem(item)); err != nil {
						slog.Debug("cursor send failed", "session", s.ID, "error", err)
					}
				})
				// AddClient seeds the freshly opened channel with a
				// CURSOR_INIT carrying the current shape and state.
				s.cursor.AddClient(s.cursorCl)
			})
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("session: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("session: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("session: set local description: %w", err)
	}

	go s.adaptiveLoop()
	go s.captureLoop()

	return s, answer.SDP, nil
}

func codecMimeType(c videocore.Codec) string {
	switch c {
	case videocore.CodecVP8:
		return webrtc.MimeTypeVP8
	case videocore.CodecH264:
		return webrtc.MimeTypeH264
	default:
		return "video/mjpeg"
	}
}

// rtcpLoop drains RTCP so the pion sender doesn't block on backpressure,
// and forces a keyframe (rate-limited) when the client reports picture loss.
// RTT/loss extraction happens separately via GetStats in adaptiveLoop.
func (s *Session) rtcpLoop(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	var lastKF time.Time
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				// Rate-limit keyframe forcing.
				if time.Since(lastKF) < 500*time.Millisecond {
					continue
				}
				lastKF = time.Now()
				s.pipeline.ForceKeyframe()
			}
		}
	}
}

// captureLoop pulls frames from the configured source and pushes them
// through the codec pipeline, writing compressed output to the WebRTC
// track.
func (s *Session) captureLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		bitmap, crop, topDown, mmTime, ok := s.source.NextFrame()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}

		buf, result, err := s.pipeline.EncodeFrame(bitmap, crop, topDown, mmTime)
		if err != nil {
			slog.Warn("encode frame failed", "session", s.ID, "error", err)
			continue
		}
		if result != videocore.EncodeDone {
			continue
		}

		sample := media.Sample{Data: buf.Data, Duration: time.Second / time.Duration(s.adaptive.TargetFPS())}
		if err := s.videoTrack.WriteSample(sample); err != nil {
			slog.Warn("write sample failed", "session", s.ID, "error", err)
		}
		if buf.Release != nil {
			buf.Release()
		}
	}
}

// adaptiveLoop periodically reads WebRTC RTCP-derived RTT/loss and feeds it
// into the AIMD controller.
func (s *Session) adaptiveLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			rtt, loss, ok := extractRemoteInboundVideoStats(s.peerConn.GetStats())
			if !ok {
				continue
			}
			s.rttMS.Store(uint32(rtt.Milliseconds()))
			s.adaptive.Update(rtt, loss)
		}
	}
}

func extractRemoteInboundVideoStats(report webrtc.StatsReport) (rtt time.Duration, loss float64, ok bool) {
	var bestPackets uint32
	for _, st := range report {
		ri, isRI := st.(webrtc.RemoteInboundRTPStreamStats)
		if !isRI || ri.Kind != "video" {
			continue
		}
		if !ok || ri.PacketsReceived >= bestPackets {
			bestPackets = ri.PacketsReceived
			rtt = time.Duration(ri.RoundTripTime * float64(time.Second))
			loss = ri.FractionLost
			ok = true
		}
	}
	return rtt, loss, ok
}

func (s *Session) handleInputMessage(msg webrtc.DataChannelMessage) {
	data := msg.Data
	dispatch := func() {
		if err := decodeAndDispatchInput(s.input, data, s.cursor.SetMouseMode); err != nil {
			// The channel already released all held keys; close the data
			// channel so the client sees the teardown.
			slog.Warn("input: protocol error, closing channel", "session", s.ID, "error", err)
			s.mu.Lock()
			dc := s.inputDC
			s.mu.Unlock()
			if dc != nil {
				_ = dc.Close()
			}
		}
	}

	if s.inputs == nil || !s.inputs.Submit(dispatch) {
		dispatch()
	}
}

func (s *Session) sendCursorOrInputAck() {
	s.mu.Lock()
	dc := s.inputDC
	s.mu.Unlock()
	if dc != nil {
		_ = dc.Send(encodeMotionAck())
	}
}

// sendPlaybackDelay pushes the rate controller's minimum-playback-delay hint
// to the client as a control message on the input data channel.
func (s *Session) sendPlaybackDelay(delayMS uint32) {
	s.mu.Lock()
	dc := s.inputDC
	s.mu.Unlock()
	if dc != nil {
		_ = dc.Send(encodePlaybackDelay(delayMS))
	}
}

// Stop tears down the peer connection and codec pipeline. Safe to call more
// than once.
func (s *Session) Stop() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.peerConn != nil {
			s.peerConn.Close()
		}
		s.pipeline.Teardown()
		s.cursor.RemoveClient(s.cursorCl)
	})
}
