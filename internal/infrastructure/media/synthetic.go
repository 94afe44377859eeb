package media

import (
	"fmt"
	"time"

	"peercall/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	videoClockRate = 90000
	audioClockRate = 48000

	// Opus frame interval used by the silence generator.
	audioFrameInterval  = 20 * time.Millisecond
	audioSamplesPer20ms = 960

	// Keep packets comfortably under the usual 1200 byte MTU.
	maxVideoPayload = 1180
)

// silentOpusFrame is a minimal Opus packet describing a near-silent frame.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

// SyntheticConfig controls the generated test-pattern stream.
type SyntheticConfig struct {
	VideoFPS    int
	VideoWidth  int
	VideoHeight int
}

// NewSyntheticStream builds a stream of generated tracks: a near-silent
// audio track, plus an animated test-pattern video track for video calls.
// The remote side sees real RTP flowing, so the session stays alive on
// machines without capture hardware.
func NewSyntheticStream(callType domain.CallType, cfg SyntheticConfig) (*stream, error) {
	if cfg.VideoFPS <= 0 {
		cfg.VideoFPS = 15
	}
	if cfg.VideoWidth <= 0 {
		cfg.VideoWidth = 640
	}
	if cfg.VideoHeight <= 0 {
		cfg.VideoHeight = 480
	}

	streamID := "synthetic-" + uuid.NewString()

	audioRTP, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audioClockRate, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create synthetic audio track: %w", err)
	}

	audio := newSyntheticAudioTrack(audioRTP)
	tracks := []*track{audio.track}

	if callType == domain.CallTypeVideo {
		videoRTP, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
			"video", streamID,
		)
		if err != nil {
			audio.track.Close()
			return nil, fmt.Errorf("create synthetic video track: %w", err)
		}
		video := newSyntheticVideoTrack(videoRTP, cfg)
		tracks = append(tracks, video.track)
	}

	return newStream(true, tracks...), nil
}

type syntheticAudioTrack struct {
	track *track
	done  chan struct{}
}

func newSyntheticAudioTrack(rtpTrack *webrtc.TrackLocalStaticRTP) *syntheticAudioTrack {
	s := &syntheticAudioTrack{done: make(chan struct{})}
	s.track = newTrack(domain.TrackKindAudio, rtpTrack, func() error {
		close(s.done)
		return nil
	})
	go s.run(rtpTrack)
	return s
}

func (s *syntheticAudioTrack) run(rtpTrack *webrtc.TrackLocalStaticRTP) {
	ticker := time.NewTicker(audioFrameInterval)
	defer ticker.Stop()

	var (
		seq       uint16
		timestamp uint32
	)
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		seq++
		timestamp += audioSamplesPer20ms
		if !s.track.Enabled() {
			continue
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      timestamp,
			},
			Payload: silentOpusFrame,
		}
		// Write errors mean the track is unbound; the generator keeps
		// its clock running and retries on the next tick.
		_ = rtpTrack.WriteRTP(pkt)
	}
}

type syntheticVideoTrack struct {
	track *track
	done  chan struct{}
	cfg   SyntheticConfig
}

func newSyntheticVideoTrack(rtpTrack *webrtc.TrackLocalStaticRTP, cfg SyntheticConfig) *syntheticVideoTrack {
	s := &syntheticVideoTrack{done: make(chan struct{}), cfg: cfg}
	s.track = newTrack(domain.TrackKindVideo, rtpTrack, func() error {
		close(s.done)
		return nil
	})
	go s.run(rtpTrack)
	return s
}

func (s *syntheticVideoTrack) run(rtpTrack *webrtc.TrackLocalStaticRTP) {
	interval := time.Second / time.Duration(s.cfg.VideoFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tsStep := uint32(videoClockRate / s.cfg.VideoFPS)
	frame := make([]byte, s.cfg.VideoWidth*s.cfg.VideoHeight)

	var (
		seq       uint16
		timestamp uint32
		tick      int
	)
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		timestamp += tsStep
		tick++
		if !s.track.Enabled() {
			continue
		}

		renderGradient(frame, s.cfg.VideoWidth, s.cfg.VideoHeight, tick)
		for i := 0; i < len(frame); i += maxVideoPayload {
			end := i + maxVideoPayload
			if end > len(frame) {
				end = len(frame)
			}
			seq++
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         end == len(frame),
					SequenceNumber: seq,
					Timestamp:      timestamp,
				},
				Payload: frame[i:end],
			}
			_ = rtpTrack.WriteRTP(pkt)
		}
	}
}

// renderGradient fills buf with an animated diagonal gradient so the
// remote side sees motion instead of a frozen frame.
func renderGradient(buf []byte, width, height, tick int) {
	for y := 0; y < height; y++ {
		row := buf[y*width : (y+1)*width]
		for x := range row {
			row[x] = byte(x + y + tick*4)
		}
	}
}
