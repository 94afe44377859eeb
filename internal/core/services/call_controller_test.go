package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/repositories/memory"
	apperrors "peercall/pkg/errors"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

type fakeTrack struct {
	kind domain.TrackKind

	mu      sync.Mutex
	enabled bool
	closed  int
}

func (f *fakeTrack) Kind() domain.TrackKind { return f.kind }

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) SetEnabled(enabled bool) {
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
}

func (f *fakeTrack) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTrack) RTPTrack() webrtc.TrackLocal { return nil }

type fakeStream struct {
	tracks    []*fakeTrack
	synthetic bool

	mu     sync.Mutex
	closed int
}

func newFakeStream(callType domain.CallType, synthetic bool) *fakeStream {
	tracks := []*fakeTrack{{kind: domain.TrackKindAudio, enabled: true}}
	if callType == domain.CallTypeVideo {
		tracks = append(tracks, &fakeTrack{kind: domain.TrackKindVideo, enabled: true})
	}
	return &fakeStream{tracks: tracks, synthetic: synthetic}
}

func (f *fakeStream) Tracks() []domain.MediaTrack {
	out := make([]domain.MediaTrack, len(f.tracks))
	for i, t := range f.tracks {
		out[i] = t
	}
	return out
}

func (f *fakeStream) Track(kind domain.TrackKind) (domain.MediaTrack, bool) {
	for _, t := range f.tracks {
		if t.kind == kind {
			return t, true
		}
	}
	return nil, false
}

func (f *fakeStream) LocalTracks() []ports.LocalTrack {
	out := make([]ports.LocalTrack, len(f.tracks))
	for i, t := range f.tracks {
		out[i] = t
	}
	return out
}

func (f *fakeStream) Synthetic() bool { return f.synthetic }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeAcquirer struct {
	synthetic bool

	mu      sync.Mutex
	streams []*fakeStream
}

func (f *fakeAcquirer) Acquire(_ context.Context, callType domain.CallType) (ports.LocalStream, error) {
	stream := newFakeStream(callType, f.synthetic)
	f.mu.Lock()
	f.streams = append(f.streams, stream)
	f.mu.Unlock()
	return stream, nil
}

func (f *fakeAcquirer) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeSession struct {
	direction ports.SessionDirection
	hooks     ports.SessionHooks

	mu         sync.Mutex
	remoteSet  bool
	applied    int
	candidates []domain.Candidate
	closed     int
}

func (f *fakeSession) Direction() ports.SessionDirection { return f.direction }

func (f *fakeSession) AddLocalTracks(ports.LocalStream) error { return nil }

func (f *fakeSession) CreateOffer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (f *fakeSession) CreateAnswer(_ context.Context, _ domain.SessionDescription) (domain.SessionDescription, error) {
	f.mu.Lock()
	f.remoteSet = true
	f.mu.Unlock()
	return domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakeSession) ApplyAnswer(domain.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteSet {
		return nil
	}
	f.remoteSet = true
	f.applied++
	return nil
}

func (f *fakeSession) AddRemoteCandidate(cand domain.Candidate) error {
	f.mu.Lock()
	f.candidates = append(f.candidates, cand)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied
}

func (f *fakeSession) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

type fakeSessionFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (f *fakeSessionFactory) NewSession(_ domain.CallID, direction ports.SessionDirection, hooks ports.SessionHooks) (ports.PeerSession, error) {
	s := &fakeSession{direction: direction, hooks: hooks}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSessionFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type peer struct {
	ctrl     *CallController
	acquirer *fakeAcquirer
	factory  *fakeSessionFactory
	incoming chan domain.CallRecord
	ended    chan struct{}
}

func newPeer(t *testing.T, store ports.SignalingStore, id domain.UserID, name string) *peer {
	t.Helper()
	p := &peer{
		acquirer: &fakeAcquirer{synthetic: true},
		factory:  &fakeSessionFactory{},
		incoming: make(chan domain.CallRecord, 8),
		ended:    make(chan struct{}, 8),
	}
	cbs := Callbacks{
		OnCallReceived: func(rec domain.CallRecord) { p.incoming <- rec },
		OnCallEnded:    func() { p.ended <- struct{}{} },
	}
	cfg := Config{GraceDelay: 100 * time.Millisecond, IncomingSeenTTL: time.Minute}
	p.ctrl = NewCallController(Identity{ID: id, Name: name}, store, p.acquirer, p.factory, nil, cfg, cbs, zap.NewNop())
	require.NoError(t, p.ctrl.Start(context.Background()))
	t.Cleanup(p.ctrl.Close)
	return p
}

func startCall(t *testing.T, caller *peer, receiverID domain.UserID) domain.CallID {
	t.Helper()
	require.NoError(t, caller.ctrl.StartCall(context.Background(), receiverID, "Peer", "", domain.CallTypeVideo))
	return caller.ctrl.State().CallID
}

func TestStartCall_CreatesRingingRecordWithOffer(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")

	callID := startCall(t, alice, "bob")

	rec, err := store.GetCall(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRinging, rec.Status)
	require.NotNil(t, rec.Offer)
	assert.Equal(t, "offer", rec.Offer.Type)
	assert.Equal(t, domain.UserID("alice"), rec.CallerID)
	assert.Equal(t, domain.UserID("bob"), rec.ReceiverID)

	state := alice.ctrl.State()
	assert.True(t, state.IsInCall)
	assert.True(t, state.IsCaller)
	assert.Equal(t, domain.StatusCalling, state.Status)
	assert.NotNil(t, state.LocalStream)
}

func TestStartCall_RejectsSecondCall(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")

	callID := startCall(t, alice, "bob")

	err := alice.ctrl.StartCall(context.Background(), "carol", "Carol", "", domain.CallTypeAudio)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyInCall))

	// The active call is untouched.
	assert.Equal(t, callID, alice.ctrl.State().CallID)
}

func TestStartCall_RateLimited(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	alice.ctrl.cfg.RateLimit = rate.NewLimiter(0, 0)

	err := alice.ctrl.StartCall(context.Background(), "bob", "Bob", "", domain.CallTypeAudio)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimit))
	assert.True(t, alice.ctrl.State().Idle())
}

func TestStartCall_InvalidInputs(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")

	err := alice.ctrl.StartCall(context.Background(), "", "Bob", "", domain.CallTypeAudio)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCommand))

	err = alice.ctrl.StartCall(context.Background(), "bob", "Bob", "", domain.CallType("hologram"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCommand))

	assert.True(t, alice.ctrl.State().Idle())
}

func TestHappyPath_VideoCall(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	bob := newPeer(t, store, "bob", "Bob")

	callID := startCall(t, alice, "bob")

	var incoming domain.CallRecord
	select {
	case incoming = <-bob.incoming:
	case <-time.After(waitFor):
		t.Fatal("incoming call never surfaced")
	}
	assert.Equal(t, callID, incoming.ID)
	assert.Equal(t, domain.UserID("alice"), incoming.CallerID)

	require.NoError(t, bob.ctrl.AnswerCall(context.Background(), callID))

	rec, err := store.GetCall(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, rec.Status)
	require.NotNil(t, rec.Answer)

	bobState := bob.ctrl.State()
	assert.True(t, bobState.IsInCall)
	assert.False(t, bobState.IsCaller)
	assert.Equal(t, domain.StatusConnected, bobState.Status)

	// The caller's watch observes the answer and applies it once.
	callerSession := alice.factory.last()
	require.Eventually(t, func() bool {
		return callerSession.appliedCount() == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return alice.ctrl.State().Status == domain.StatusConnected
	}, waitFor, tick)

	// Remote tracks arriving on the session surface on the state.
	callerSession.hooks.OnRemoteTrack(domain.TrackKindAudio)
	callerSession.hooks.OnRemoteTrack(domain.TrackKindVideo)
	state := alice.ctrl.State()
	require.NotNil(t, state.RemoteStream)
	assert.Equal(t, 1, state.RemoteStream.AudioTracks)
	assert.Equal(t, 1, state.RemoteStream.VideoTracks)

	// Each incoming record surfaces exactly once.
	select {
	case rec := <-bob.incoming:
		t.Fatalf("incoming call surfaced twice: %s", rec.ID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestAnswerReplay_AppliedOnce(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	bob := newPeer(t, store, "bob", "Bob")

	callID := startCall(t, alice, "bob")
	<-bob.incoming
	require.NoError(t, bob.ctrl.AnswerCall(context.Background(), callID))

	callerSession := alice.factory.last()
	require.Eventually(t, func() bool {
		return callerSession.appliedCount() == 1
	}, waitFor, tick)

	// A further non-terminal update replays the record with the answer
	// still attached; the session must not re-apply it.
	connected := domain.StatusConnected
	require.NoError(t, store.UpdateCall(context.Background(), callID, domain.CallUpdate{Status: &connected}))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, callerSession.appliedCount())
}

func TestCandidateExchange(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	bob := newPeer(t, store, "bob", "Bob")

	callID := startCall(t, alice, "bob")

	// Candidate written before the receiver answers still reaches the
	// receiver via the watch replay.
	early := domain.Candidate{CallID: callID, Direction: domain.DirectionCaller, Payload: "early"}
	require.NoError(t, store.AddCandidate(context.Background(), early))

	<-bob.incoming
	require.NoError(t, bob.ctrl.AnswerCall(context.Background(), callID))

	receiverSession := bob.factory.last()
	require.Eventually(t, func() bool {
		return receiverSession.candidateCount() == 1
	}, waitFor, tick)

	late := domain.Candidate{CallID: callID, Direction: domain.DirectionCaller, Payload: "late"}
	require.NoError(t, store.AddCandidate(context.Background(), late))
	require.Eventually(t, func() bool {
		return receiverSession.candidateCount() == 2
	}, waitFor, tick)

	// Callee candidates flow the other way.
	callee := domain.Candidate{CallID: callID, Direction: domain.DirectionCallee, Payload: "from-bob"}
	require.NoError(t, store.AddCandidate(context.Background(), callee))
	callerSession := alice.factory.last()
	require.Eventually(t, func() bool {
		return callerSession.candidateCount() == 1
	}, waitFor, tick)
}

func TestDeclineFlow(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	bob := newPeer(t, store, "bob", "Bob")

	callID := startCall(t, alice, "bob")
	<-bob.incoming

	require.NoError(t, bob.ctrl.DeclineCall(context.Background(), callID))
	assert.True(t, bob.ctrl.State().Idle(), "declining must not touch the receiver's idle state")

	// The caller observes the decline and resets.
	require.Eventually(t, func() bool {
		return alice.ctrl.State().Idle()
	}, waitFor, tick)
	select {
	case <-alice.ended:
	case <-time.After(waitFor):
		t.Fatal("caller never notified of call end")
	}

	// After the grace delay the record is gone.
	require.Eventually(t, func() bool {
		_, err := store.GetCall(context.Background(), callID)
		return err != nil
	}, waitFor, tick)
}

func TestEndWhileRinging_WritesMissed(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")

	callID := startCall(t, alice, "bob")
	require.NoError(t, alice.ctrl.EndCall(context.Background()))

	rec, err := store.GetCall(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMissed, rec.Status)
	assert.True(t, alice.ctrl.State().Idle())
}

func TestEndConnectedCall_WritesEnded(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	bob := newPeer(t, store, "bob", "Bob")

	callID := startCall(t, alice, "bob")
	<-bob.incoming
	require.NoError(t, bob.ctrl.AnswerCall(context.Background(), callID))
	require.Eventually(t, func() bool {
		return alice.ctrl.State().Status == domain.StatusConnected
	}, waitFor, tick)

	require.NoError(t, alice.ctrl.EndCall(context.Background()))

	rec, err := store.GetCall(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEnded, rec.Status)

	// The receiver's watch observes the terminal status and resets.
	require.Eventually(t, func() bool {
		return bob.ctrl.State().Idle()
	}, waitFor, tick)
	select {
	case <-bob.ended:
	case <-time.After(waitFor):
		t.Fatal("receiver never notified of call end")
	}

	// A second hangup is an invalid command, not a second write.
	err = alice.ctrl.EndCall(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotInCall))
}

func TestBusyReceiver_WritesBusy(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	bob := newPeer(t, store, "bob", "Bob")
	carol := newPeer(t, store, "carol", "Carol")

	firstID := startCall(t, alice, "bob")
	<-bob.incoming
	require.NoError(t, bob.ctrl.AnswerCall(context.Background(), firstID))

	secondID := startCall(t, carol, "bob")

	// Bob is busy: the second call is terminated with busy, not surfaced.
	require.Eventually(t, func() bool {
		rec, err := store.GetCall(context.Background(), secondID)
		if err != nil {
			return false
		}
		return rec.Status == domain.StatusBusy
	}, waitFor, tick)
	select {
	case rec := <-bob.incoming:
		t.Fatalf("busy receiver surfaced a second call: %s", rec.ID)
	case <-time.After(150 * time.Millisecond):
	}

	// Carol's watch observes busy and resets to idle.
	require.Eventually(t, func() bool {
		return carol.ctrl.State().Idle()
	}, waitFor, tick)

	// Bob's active call is untouched.
	assert.Equal(t, firstID, bob.ctrl.State().CallID)
	assert.Equal(t, domain.StatusConnected, bob.ctrl.State().Status)
}

func TestSessionTermination_EndsCall(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	bob := newPeer(t, store, "bob", "Bob")

	callID := startCall(t, alice, "bob")
	<-bob.incoming
	require.NoError(t, bob.ctrl.AnswerCall(context.Background(), callID))
	require.Eventually(t, func() bool {
		return alice.ctrl.State().Status == domain.StatusConnected
	}, waitFor, tick)

	alice.factory.last().hooks.OnTerminated("connection failed")

	require.Eventually(t, func() bool {
		return alice.ctrl.State().Idle()
	}, waitFor, tick)
	select {
	case <-alice.ended:
	case <-time.After(waitFor):
		t.Fatal("termination never notified")
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	startCall(t, alice, "bob")

	stream := alice.acquirer.lastStream()
	session := alice.factory.last()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alice.ctrl.cleanup("")
		}()
	}
	wg.Wait()
	alice.ctrl.cleanup("")

	assert.True(t, alice.ctrl.State().Idle())
	assert.Equal(t, 1, stream.closeCount())
	session.mu.Lock()
	closed := session.closed
	session.mu.Unlock()
	assert.Equal(t, 1, closed)
}

func TestCleanup_SafeWithoutResources(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")

	alice.ctrl.cleanup("")
	alice.ctrl.cleanup("setup failed")

	state := alice.ctrl.State()
	assert.True(t, state.Idle())
	assert.Equal(t, "setup failed", state.Error)
}

func TestToggleMute_ReflectsTrackState(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	startCall(t, alice, "bob")

	stream := alice.acquirer.lastStream()
	audio, ok := stream.Track(domain.TrackKindAudio)
	require.True(t, ok)

	require.NoError(t, alice.ctrl.ToggleMute())
	assert.True(t, alice.ctrl.State().IsMuted)
	assert.False(t, audio.Enabled())

	require.NoError(t, alice.ctrl.ToggleMute())
	assert.False(t, alice.ctrl.State().IsMuted)
	assert.True(t, audio.Enabled())
}

func TestToggleVideo_RequiresVideoTrack(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")
	require.NoError(t, alice.ctrl.StartCall(context.Background(), "bob", "Bob", "", domain.CallTypeAudio))

	err := alice.ctrl.ToggleVideo()
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCommand))
}

func TestToggle_RequiresActiveCall(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")

	err := alice.ctrl.ToggleMute()
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotInCall))
}

func TestAnswerCall_Invalid(t *testing.T) {
	store := memory.NewCallStore()
	bob := newPeer(t, store, "bob", "Bob")

	err := bob.ctrl.AnswerCall(context.Background(), "call_nonexistent")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))

	// A call addressed to someone else cannot be answered.
	record := &domain.CallRecord{
		ID: "call_other", CallerID: "alice", ReceiverID: "carol",
		CallType: domain.CallTypeAudio, Status: domain.StatusRinging,
		Offer:     &domain.SessionDescription{Type: "offer", SDP: "v=0"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateCall(context.Background(), record))
	err = bob.ctrl.AnswerCall(context.Background(), "call_other")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCommand))
}

// watchFailStore delegates to a real store but refuses per-call watches,
// as a store whose subscription path is down would.
type watchFailStore struct {
	ports.SignalingStore

	mu      sync.Mutex
	created domain.CallID
}

func (s *watchFailStore) CreateCall(ctx context.Context, rec *domain.CallRecord) error {
	s.mu.Lock()
	s.created = rec.ID
	s.mu.Unlock()
	return s.SignalingStore.CreateCall(ctx, rec)
}

func (s *watchFailStore) WatchCall(context.Context, domain.CallID) (<-chan ports.CallEvent, ports.CancelFunc, error) {
	return nil, nil, errors.New("subscriptions unavailable")
}

func (s *watchFailStore) createdID() domain.CallID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func TestStartCall_WatchFailureRetiresRecord(t *testing.T) {
	store := &watchFailStore{SignalingStore: memory.NewCallStore()}
	alice := newPeer(t, store, "alice", "Alice")

	err := alice.ctrl.StartCall(context.Background(), "bob", "Bob", "", domain.CallTypeAudio)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBackendUnavailable))
	assert.True(t, alice.ctrl.State().Idle())

	// The record written before the watch failed must not linger as a
	// ringing call on the receiver's side.
	callID := store.createdID()
	require.NotEmpty(t, callID)
	if rec, err := store.GetCall(context.Background(), callID); err == nil {
		assert.Equal(t, domain.StatusMissed, rec.Status)
	}
	require.Eventually(t, func() bool {
		_, err := store.GetCall(context.Background(), callID)
		return errors.Is(err, domain.ErrCallNotFound)
	}, waitFor, tick)
}

func TestStartCall_NoDevicesStillSucceeds(t *testing.T) {
	store := memory.NewCallStore()
	alice := newPeer(t, store, "alice", "Alice")

	require.NoError(t, alice.ctrl.StartCall(context.Background(), "bob", "Bob", "", domain.CallTypeVideo))

	state := alice.ctrl.State()
	require.NotNil(t, state.LocalStream)
	assert.True(t, state.LocalStream.Synthetic())
	_, ok := state.LocalStream.Track(domain.TrackKindAudio)
	assert.True(t, ok)
	_, ok = state.LocalStream.Track(domain.TrackKindVideo)
	assert.True(t, ok)
}
