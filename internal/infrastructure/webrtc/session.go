package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// session wraps one webrtc.PeerConnection for a single call attempt.
//
// Remote-description ordering is the tricky part of trickle signaling:
// remote candidates may be observed before the remote description is
// applied, and the answer may be observed more than once. The session
// queues early candidates and ignores duplicate answers so callers can
// replay store events without bookkeeping.
type session struct {
	callID    domain.CallID
	direction ports.SessionDirection
	pc        *webrtc.PeerConnection
	hooks     ports.SessionHooks
	logger    *zap.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool

	disconnectTimeout time.Duration
	disconnectTimer   *time.Timer

	connectedOnce  sync.Once
	terminatedOnce sync.Once
}

func newSession(callID domain.CallID, direction ports.SessionDirection, pc *webrtc.PeerConnection, hooks ports.SessionHooks, disconnectTimeout time.Duration, logger *zap.Logger) *session {
	s := &session{
		callID:            callID,
		direction:         direction,
		pc:                pc,
		hooks:             hooks,
		logger:            logger.With(zap.String("call_id", string(callID)), zap.String("direction", string(direction))),
		disconnectTimeout: disconnectTimeout,
	}
	s.install()
	return s
}

func (s *session) install() {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			s.logger.Error("marshal local candidate", zap.Error(err))
			return
		}
		if s.hooks.OnLocalCandidate != nil {
			s.hooks.OnLocalCandidate(domain.Candidate{
				CallID:    s.callID,
				Direction: s.candidateDirection(),
				Payload:   string(payload),
			})
		}
	})

	s.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.TrackKindAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.TrackKindVideo
		}
		s.logger.Info("remote track arrived", zap.String("kind", string(kind)))
		if s.hooks.OnRemoteTrack != nil {
			s.hooks.OnRemoteTrack(kind)
		}
		// Keep the receive pipeline moving. The payload itself is handed
		// to the platform renderer out of band.
		go func() {
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.connectedOnce.Do(func() {
				if s.hooks.OnConnected != nil {
					s.hooks.OnConnected()
				}
			})
		case webrtc.PeerConnectionStateFailed:
			s.terminate("connection failed")
		case webrtc.PeerConnectionStateClosed:
			s.terminate("connection closed")
		}
	})

	s.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateDisconnected:
			s.armDisconnectGuard()
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			s.disarmDisconnectGuard()
		}
	})
}

// armDisconnectGuard gives ICE a window to recover before the session is
// torn down. Short connectivity blips happen on wifi and relay paths.
func (s *session) armDisconnectGuard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.disconnectTimer != nil {
		return
	}
	s.logger.Warn("connectivity lost, starting disconnect guard",
		zap.Duration("timeout", s.disconnectTimeout))
	s.disconnectTimer = time.AfterFunc(s.disconnectTimeout, func() {
		s.terminate("connectivity lost")
	})
}

func (s *session) disarmDisconnectGuard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnectTimer != nil {
		s.disconnectTimer.Stop()
		s.disconnectTimer = nil
	}
}

func (s *session) terminate(reason string) {
	s.mu.Lock()
	suppressed := s.closed
	s.mu.Unlock()
	if suppressed {
		return
	}
	s.terminatedOnce.Do(func() {
		s.logger.Info("session terminated", zap.String("reason", reason))
		if s.hooks.OnTerminated != nil {
			s.hooks.OnTerminated(reason)
		}
	})
}

func (s *session) Direction() ports.SessionDirection { return s.direction }

func (s *session) candidateDirection() domain.CandidateDirection {
	if s.direction == ports.SessionCaller {
		return domain.DirectionCaller
	}
	return domain.DirectionCallee
}

func (s *session) AddLocalTracks(stream ports.LocalStream) error {
	for _, t := range stream.LocalTracks() {
		sender, err := s.pc.AddTrack(t.RTPTrack())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		go s.drainSenderRTCP(sender, t.Kind())
	}
	return nil
}

// drainSenderRTCP reads feedback so interceptors run, logging keyframe
// requests for diagnostics.
func (s *session) drainSenderRTCP(sender *webrtc.RTPSender, kind domain.TrackKind) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("sender rtcp read stopped", zap.Error(err))
			}
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range packets {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				s.logger.Debug("keyframe requested by remote", zap.String("kind", string(kind)))
			}
		}
	}
}

func (s *session) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("apply local offer: %w", err)
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (s *session) CreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	if err := s.setRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("apply remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("apply local answer: %w", err)
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (s *session) ApplyAnswer(answer domain.SessionDescription) error {
	s.mu.Lock()
	if s.remoteSet {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.setRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}
	return nil
}

// setRemoteDescription applies the remote description and drains any
// candidates queued while it was absent, preserving arrival order.
func (s *session) setRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.remoteSet {
		return nil
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.remoteSet = true

	for _, cand := range s.pending {
		if err := s.pc.AddICECandidate(cand); err != nil {
			s.logger.Warn("apply queued candidate", zap.Error(err))
		}
	}
	s.pending = nil
	return nil
}

func (s *session) AddRemoteCandidate(cand domain.Candidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(cand.Payload), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if !s.remoteSet {
		s.pending = append(s.pending, init)
		return nil
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.disconnectTimer != nil {
		s.disconnectTimer.Stop()
		s.disconnectTimer = nil
	}
	s.mu.Unlock()

	return s.pc.Close()
}
