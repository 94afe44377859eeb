package webrtc

import (
	"context"
	"testing"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/media"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCandidatePayload = `{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`

func newTestFactory() *Factory {
	return NewFactory(Config{DisconnectTimeout: time.Second}, zap.NewNop())
}

func newTestSession(t *testing.T, direction ports.SessionDirection, hooks ports.SessionHooks) *session {
	t.Helper()
	f := newTestFactory()
	s, err := f.NewSession("call_test", direction, hooks)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*session)
}

// addSyntheticTracks gives the session a real audio track. An offer with
// no media section carries no ICE credentials and the remote side rejects it.
func addSyntheticTracks(t *testing.T, s *session) {
	t.Helper()
	stream, err := media.NewSyntheticStream(domain.CallTypeAudio, media.SyntheticConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { stream.Close() })
	require.NoError(t, s.AddLocalTracks(stream))
}

func TestSession_OfferAnswerExchange(t *testing.T) {
	caller := newTestSession(t, ports.SessionCaller, ports.SessionHooks{})
	receiver := newTestSession(t, ports.SessionReceiver, ports.SessionHooks{})
	addSyntheticTracks(t, caller)
	addSyntheticTracks(t, receiver)

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.NotEmpty(t, offer.SDP)

	answer, err := receiver.CreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	assert.NotEmpty(t, answer.SDP)

	require.NoError(t, caller.ApplyAnswer(answer))
}

func TestSession_ApplyAnswerIdempotent(t *testing.T) {
	caller := newTestSession(t, ports.SessionCaller, ports.SessionHooks{})
	receiver := newTestSession(t, ports.SessionReceiver, ports.SessionHooks{})
	addSyntheticTracks(t, caller)

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)
	answer, err := receiver.CreateAnswer(context.Background(), offer)
	require.NoError(t, err)

	require.NoError(t, caller.ApplyAnswer(answer))
	// A replayed answer event must not disturb the established session.
	require.NoError(t, caller.ApplyAnswer(answer))
	require.NoError(t, caller.ApplyAnswer(domain.SessionDescription{Type: "answer", SDP: "v=0\r\n"}))
}

func TestSession_QueuesCandidatesBeforeRemoteDescription(t *testing.T) {
	caller := newTestSession(t, ports.SessionCaller, ports.SessionHooks{})
	receiver := newTestSession(t, ports.SessionReceiver, ports.SessionHooks{})
	addSyntheticTracks(t, caller)

	offer, err := caller.CreateOffer(context.Background())
	require.NoError(t, err)

	cand := domain.Candidate{CallID: "call_test", Direction: domain.DirectionCallee, Payload: testCandidatePayload}
	require.NoError(t, caller.AddRemoteCandidate(cand))
	require.NoError(t, caller.AddRemoteCandidate(cand))

	caller.mu.Lock()
	queued := len(caller.pending)
	caller.mu.Unlock()
	assert.Equal(t, 2, queued)

	answer, err := receiver.CreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	require.NoError(t, caller.ApplyAnswer(answer))

	caller.mu.Lock()
	queued = len(caller.pending)
	caller.mu.Unlock()
	assert.Zero(t, queued, "queue drains once the remote description is set")
}

func TestSession_RejectsMalformedCandidate(t *testing.T) {
	caller := newTestSession(t, ports.SessionCaller, ports.SessionHooks{})
	err := caller.AddRemoteCandidate(domain.Candidate{Payload: "not json"})
	assert.Error(t, err)
}

func TestSession_CloseIdempotent(t *testing.T) {
	s := newTestSession(t, ports.SessionCaller, ports.SessionHooks{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestSession_AddCandidateAfterCloseFails(t *testing.T) {
	s := newTestSession(t, ports.SessionCaller, ports.SessionHooks{})
	require.NoError(t, s.Close())

	err := s.AddRemoteCandidate(domain.Candidate{Payload: testCandidatePayload})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestSession_NoTerminatedHookAfterLocalClose(t *testing.T) {
	terminated := make(chan string, 1)
	s := newTestSession(t, ports.SessionCaller, ports.SessionHooks{
		OnTerminated: func(reason string) { terminated <- reason },
	})

	require.NoError(t, s.Close())

	select {
	case reason := <-terminated:
		t.Fatalf("unexpected termination callback: %s", reason)
	case <-time.After(200 * time.Millisecond):
	}
}
