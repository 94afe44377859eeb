package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/cache"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/utils"
	"peercall/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Identity is the local user on whose behalf the controller signals.
type Identity struct {
	ID    domain.UserID
	Name  string
	Image string
}

// Callbacks are the notifications a UI shell registers on the controller.
// All callbacks may be invoked from controller-internal goroutines.
type Callbacks struct {
	// OnCallReceived fires exactly once per incoming call record.
	OnCallReceived func(record domain.CallRecord)

	// OnCallEnded fires when the active call ends, whether by explicit
	// hangup or automatic termination.
	OnCallEnded func()

	// OnStateChange fires with a snapshot after every state mutation.
	OnStateChange func(state domain.CallState)
}

// Config tunes the controller's timing behavior.
type Config struct {
	// GraceDelay is how long a terminal record stays in the store so the
	// peer's watch observes the terminal status before deletion.
	GraceDelay time.Duration

	// IncomingSeenTTL bounds the dedup window for incoming-call records.
	IncomingSeenTTL time.Duration

	// RateLimit bounds outgoing call attempts. Nil disables limiting.
	RateLimit *rate.Limiter
}

const (
	defaultGraceDelay      = 3 * time.Second
	defaultIncomingSeenTTL = 5 * time.Minute
	terminalWriteTimeout   = 5 * time.Second
)

// CallController drives one call at a time through its lifecycle: media
// acquisition, record signaling, peer-session negotiation, and teardown.
// Every exit path converges on the same idempotent cleanup routine, and
// async continuations re-check the call generation before touching state,
// so a continuation from an already-ended call is discarded.
type CallController struct {
	user     Identity
	store    ports.SignalingStore
	media    ports.MediaAcquirer
	sessions ports.PeerSessionFactory
	metrics  ports.CallMetrics
	cfg      Config
	cbs      Callbacks
	logger   *zap.Logger

	seen *cache.Cache

	mu           sync.Mutex
	gen          uint64
	state        domain.CallState
	session      ports.PeerSession
	callWatch    ports.CancelFunc
	candWatch    ports.CancelFunc
	connectStart time.Time

	incomingCancel ports.CancelFunc
	closed         bool
}

func NewCallController(
	user Identity,
	store ports.SignalingStore,
	media ports.MediaAcquirer,
	sessions ports.PeerSessionFactory,
	metrics ports.CallMetrics,
	cfg Config,
	cbs Callbacks,
	logger *zap.Logger,
) *CallController {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = defaultGraceDelay
	}
	if cfg.IncomingSeenTTL <= 0 {
		cfg.IncomingSeenTTL = defaultIncomingSeenTTL
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &CallController{
		user:     user,
		store:    store,
		media:    media,
		sessions: sessions,
		metrics:  metrics,
		cfg:      cfg,
		cbs:      cbs,
		logger:   logger.With(zap.String("user_id", string(user.ID))),
		seen:     cache.New(cfg.IncomingSeenTTL),
	}
}

// Start establishes the standing incoming-call watch. Must be called once
// before commands are issued.
func (c *CallController) Start(ctx context.Context) error {
	events, cancel, err := c.store.WatchIncoming(ctx, c.user.ID)
	if err != nil {
		return apperrors.NewBackendUnavailableError(err)
	}
	c.mu.Lock()
	c.incomingCancel = cancel
	c.mu.Unlock()

	go c.runIncoming(events)
	return nil
}

// Close tears down the active call (if any) and the incoming watch.
func (c *CallController) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.incomingCancel
	c.incomingCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.cleanup("")
	c.seen.Stop()
}

// State returns a snapshot of the local call state.
func (c *CallController) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartCall places an outgoing call. The record is broadcast in the ringing
// status so the receiver's incoming watch observes it immediately; the local
// status stays on the calling label until the answer arrives.
func (c *CallController) StartCall(ctx context.Context, receiverID domain.UserID, receiverName, receiverImage string, callType domain.CallType) error {
	if err := validation.ValidateUserID(string(receiverID)); err != nil {
		return apperrors.NewInvalidCommandError(err.Error())
	}
	if err := validation.ValidateCallType(string(callType)); err != nil {
		return apperrors.NewInvalidCommandError(err.Error())
	}
	if err := validation.ValidateDisplayName(receiverName); err != nil {
		return apperrors.NewInvalidCommandError(err.Error())
	}
	if c.cfg.RateLimit != nil && !c.cfg.RateLimit.Allow() {
		return apperrors.NewRateLimitError()
	}

	callID := domain.CallID(utils.GenerateCallID())

	c.mu.Lock()
	if !c.state.Idle() {
		c.mu.Unlock()
		return apperrors.NewAlreadyInCallError()
	}
	c.gen++
	myGen := c.gen
	c.state = domain.CallState{
		CallID:    callID,
		Status:    domain.StatusCalling,
		IsInCall:  true,
		IsCaller:  true,
		CallType:  callType,
		PeerID:    receiverID,
		PeerName:  receiverName,
		PeerImage: receiverImage,
	}
	c.connectStart = time.Now()
	c.mu.Unlock()
	c.notifyState()

	c.logger.Info("starting call",
		zap.String("call_id", string(callID)),
		zap.String("receiver_id", string(receiverID)),
		zap.String("call_type", string(callType)))

	stream, err := c.media.Acquire(ctx, callType)
	if err != nil {
		return c.rollbackSetup(myGen, err)
	}
	if !c.attachStream(myGen, stream) {
		stream.Close()
		return apperrors.NewInvalidCommandError("call ended during setup")
	}

	session, err := c.sessions.NewSession(callID, ports.SessionCaller, c.sessionHooks(myGen))
	if err != nil {
		return c.rollbackSetup(myGen, err)
	}
	if !c.attachSession(myGen, session) {
		session.Close()
		return apperrors.NewInvalidCommandError("call ended during setup")
	}
	if err := session.AddLocalTracks(stream); err != nil {
		return c.rollbackSetup(myGen, err)
	}

	offer, err := session.CreateOffer(ctx)
	if err != nil {
		return c.rollbackSetup(myGen, err)
	}

	record := &domain.CallRecord{
		ID:            callID,
		CallerID:      c.user.ID,
		ReceiverID:    receiverID,
		CallerName:    c.user.Name,
		CallerImage:   c.user.Image,
		ReceiverName:  receiverName,
		ReceiverImage: receiverImage,
		CallType:      callType,
		Status:        domain.StatusRinging,
		Offer:         &offer,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateCall(ctx, record); err != nil {
		c.rollbackSetup(myGen, err)
		return apperrors.NewBackendUnavailableError(err)
	}

	if err := c.watchActiveCall(myGen, callID, domain.DirectionCallee); err != nil {
		c.abandonRecord(callID, domain.StatusMissed)
		c.rollbackSetup(myGen, err)
		return apperrors.NewBackendUnavailableError(err)
	}

	c.metrics.CallStarted(callType)
	c.metrics.ActiveCalls(1)
	return nil
}

// AnswerCall accepts an incoming call by id.
func (c *CallController) AnswerCall(ctx context.Context, callID domain.CallID) error {
	if err := validation.ValidateCallID(string(callID)); err != nil {
		return apperrors.NewInvalidCommandError(err.Error())
	}

	rec, err := c.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			return apperrors.NewCallNotFoundError(string(callID))
		}
		return apperrors.NewBackendUnavailableError(err)
	}
	if rec.ReceiverID != c.user.ID {
		return apperrors.NewInvalidCommandError("call is not addressed to this user")
	}
	if rec.Status != domain.StatusRinging {
		return apperrors.NewInvalidCommandError("call is no longer awaiting an answer")
	}
	if rec.Offer == nil {
		return apperrors.NewInvalidCommandError("call record carries no offer")
	}
	if err := validation.ValidateSessionDescription(rec.Offer.Type, rec.Offer.SDP); err != nil {
		return apperrors.NewInvalidCommandError(err.Error())
	}

	c.mu.Lock()
	if !c.state.Idle() {
		c.mu.Unlock()
		return apperrors.NewAlreadyInCallError()
	}
	c.gen++
	myGen := c.gen
	c.state = domain.CallState{
		CallID:    callID,
		Status:    domain.StatusRinging,
		IsInCall:  true,
		IsCaller:  false,
		CallType:  rec.CallType,
		PeerID:    rec.CallerID,
		PeerName:  rec.CallerName,
		PeerImage: rec.CallerImage,
	}
	c.connectStart = time.Now()
	c.mu.Unlock()
	c.notifyState()

	c.logger.Info("answering call",
		zap.String("call_id", string(callID)),
		zap.String("caller_id", string(rec.CallerID)))

	stream, err := c.media.Acquire(ctx, rec.CallType)
	if err != nil {
		return c.rollbackSetup(myGen, err)
	}
	if !c.attachStream(myGen, stream) {
		stream.Close()
		return apperrors.NewInvalidCommandError("call ended during setup")
	}

	session, err := c.sessions.NewSession(callID, ports.SessionReceiver, c.sessionHooks(myGen))
	if err != nil {
		return c.rollbackSetup(myGen, err)
	}
	if !c.attachSession(myGen, session) {
		session.Close()
		return apperrors.NewInvalidCommandError("call ended during setup")
	}
	if err := session.AddLocalTracks(stream); err != nil {
		return c.rollbackSetup(myGen, err)
	}

	answer, err := session.CreateAnswer(ctx, *rec.Offer)
	if err != nil {
		return c.rollbackSetup(myGen, err)
	}

	connected := domain.StatusConnected
	if err := c.store.UpdateCall(ctx, callID, domain.CallUpdate{Status: &connected, Answer: &answer}); err != nil {
		c.rollbackSetup(myGen, err)
		return apperrors.NewBackendUnavailableError(err)
	}

	if err := c.watchActiveCall(myGen, callID, domain.DirectionCaller); err != nil {
		c.abandonRecord(callID, domain.StatusEnded)
		c.rollbackSetup(myGen, err)
		return apperrors.NewBackendUnavailableError(err)
	}

	c.setStatus(myGen, domain.StatusConnected)
	c.metrics.CallAnswered(rec.CallType)
	c.metrics.ActiveCalls(1)
	return nil
}

// DeclineCall rejects an incoming call without ever accepting it locally.
// The terminal write is best-effort: a record the caller already deleted is
// not an error.
func (c *CallController) DeclineCall(ctx context.Context, callID domain.CallID) error {
	if err := validation.ValidateCallID(string(callID)); err != nil {
		return apperrors.NewInvalidCommandError(err.Error())
	}

	c.seen.Set(string(callID), true)
	c.writeTerminal(ctx, callID, domain.StatusDeclined)
	c.scheduleDelete(callID)
	c.metrics.CallTerminated(domain.StatusDeclined)

	c.logger.Info("declined call", zap.String("call_id", string(callID)))
	return nil
}

// EndCall hangs up the active call. A call ended while still ringing is
// recorded as missed so the receiver can surface it that way.
func (c *CallController) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.IsInCall {
		c.mu.Unlock()
		return apperrors.NewNotInCallError()
	}
	callID := c.state.CallID
	status := domain.StatusEnded
	if c.state.IsCaller && c.state.Status != domain.StatusConnected {
		status = domain.StatusMissed
	}
	c.mu.Unlock()

	c.writeTerminal(ctx, callID, status)
	c.scheduleDelete(callID)

	c.cleanup("")
	c.metrics.CallTerminated(status)
	c.metrics.ActiveCalls(0)
	if c.cbs.OnCallEnded != nil {
		c.cbs.OnCallEnded()
	}

	c.logger.Info("ended call",
		zap.String("call_id", string(callID)),
		zap.String("status", string(status)))
	return nil
}

// ToggleMute flips the local audio track's enabled flag. Local-only; no
// signaling write and no renegotiation.
func (c *CallController) ToggleMute() error {
	return c.toggleTrack(domain.TrackKindAudio)
}

// ToggleVideo flips the local video track's enabled flag.
func (c *CallController) ToggleVideo() error {
	return c.toggleTrack(domain.TrackKindVideo)
}

func (c *CallController) toggleTrack(kind domain.TrackKind) error {
	c.mu.Lock()
	if !c.state.IsInCall || c.state.LocalStream == nil {
		c.mu.Unlock()
		return apperrors.NewNotInCallError()
	}
	track, ok := c.state.LocalStream.Track(kind)
	if !ok {
		c.mu.Unlock()
		return apperrors.NewInvalidCommandError("call has no " + string(kind) + " track")
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)
	switch kind {
	case domain.TrackKindAudio:
		c.state.IsMuted = !enabled
	case domain.TrackKindVideo:
		c.state.IsVideoOff = !enabled
	}
	c.mu.Unlock()
	c.notifyState()
	return nil
}

// sessionHooks builds the observer set for a peer session. Every hook
// carries the generation of the call that created it and is discarded when
// the generation has moved on.
func (c *CallController) sessionHooks(myGen uint64) ports.SessionHooks {
	return ports.SessionHooks{
		OnLocalCandidate: func(cand domain.Candidate) {
			if !c.genCurrent(myGen) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
			defer cancel()
			if err := c.store.AddCandidate(ctx, cand); err != nil {
				c.logger.Warn("persist local candidate",
					zap.String("call_id", string(cand.CallID)), zap.Error(err))
			}
		},
		OnRemoteTrack: func(kind domain.TrackKind) {
			c.noteRemoteTrack(myGen, kind)
		},
		OnConnected: func() {
			c.noteConnected(myGen)
		},
		OnTerminated: func(reason string) {
			c.terminateActive(myGen, domain.StatusEnded, reason, true)
		},
	}
}

// watchActiveCall registers the record watch and the opposite-direction
// candidate watch for the active call. Watches outlive the issuing command,
// so they run on the background context and are cancelled by cleanup.
func (c *CallController) watchActiveCall(myGen uint64, callID domain.CallID, candDir domain.CandidateDirection) error {
	callEvents, cancelCall, err := c.store.WatchCall(context.Background(), callID)
	if err != nil {
		return err
	}
	candEvents, cancelCands, err := c.store.WatchCandidates(context.Background(), callID, candDir)
	if err != nil {
		cancelCall()
		return err
	}

	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		cancelCall()
		cancelCands()
		return nil
	}
	c.callWatch = cancelCall
	c.candWatch = cancelCands
	c.mu.Unlock()

	go c.consumeCallEvents(myGen, callEvents)
	go c.consumeCandidates(myGen, candEvents)
	return nil
}

func (c *CallController) consumeCallEvents(myGen uint64, events <-chan ports.CallEvent) {
	for ev := range events {
		if !c.genCurrent(myGen) {
			return
		}
		switch ev.Kind {
		case ports.ChangeRemoved:
			c.terminateActive(myGen, "", "record deleted", false)
			return
		case ports.ChangeAdded, ports.ChangeModified:
			if ev.Record.Status.Terminal() {
				c.logger.Info("peer terminated call",
					zap.String("call_id", string(ev.Record.ID)),
					zap.String("status", string(ev.Record.Status)))
				c.terminateActive(myGen, ev.Record.Status, "peer set terminal status", false)
				return
			}
			if ev.Record.Answer != nil {
				c.applyAnswer(myGen, ev.Record)
			}
		}
	}
}

// applyAnswer handles the caller-side answer arrival. The session ignores
// a second application, so replayed events are harmless.
func (c *CallController) applyAnswer(myGen uint64, rec domain.CallRecord) {
	c.mu.Lock()
	session := c.session
	isCaller := c.state.IsCaller
	current := c.gen == myGen
	c.mu.Unlock()
	if !current || session == nil || !isCaller {
		return
	}

	if err := session.ApplyAnswer(*rec.Answer); err != nil {
		c.logger.Error("apply answer", zap.String("call_id", string(rec.ID)), zap.Error(err))
		c.terminateActive(myGen, domain.StatusEnded, "answer rejected", true)
		return
	}
	if rec.Status == domain.StatusConnected {
		c.setStatus(myGen, domain.StatusConnected)
	}
}

func (c *CallController) consumeCandidates(myGen uint64, events <-chan ports.CandidateEvent) {
	for ev := range events {
		c.mu.Lock()
		session := c.session
		current := c.gen == myGen
		c.mu.Unlock()
		if !current {
			return
		}
		if session == nil {
			continue
		}
		if err := session.AddRemoteCandidate(ev.Candidate); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			c.logger.Warn("apply remote candidate",
				zap.String("call_id", string(ev.Candidate.CallID)), zap.Error(err))
		}
	}
}

func (c *CallController) noteRemoteTrack(myGen uint64, kind domain.TrackKind) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	if c.state.RemoteStream == nil {
		c.state.RemoteStream = &domain.RemoteMedia{}
	}
	switch kind {
	case domain.TrackKindAudio:
		c.state.RemoteStream.AudioTracks++
	case domain.TrackKindVideo:
		c.state.RemoteStream.VideoTracks++
	}
	c.mu.Unlock()
	c.notifyState()
}

func (c *CallController) noteConnected(myGen uint64) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	setup := time.Since(c.connectStart)
	c.mu.Unlock()

	c.metrics.CallSetupDuration(setup)
	c.setStatus(myGen, domain.StatusConnected)
	c.logger.Info("call connected", zap.Duration("setup", setup))
}

// terminateActive drives automatic termination: peer hangup, connection
// failure, the connectivity guard, or record deletion. writeStatus controls
// whether this side still owes a terminal write (it does not when the peer
// already wrote one).
func (c *CallController) terminateActive(myGen uint64, status domain.CallStatus, reason string, writeStatus bool) {
	c.mu.Lock()
	if c.gen != myGen || !c.state.IsInCall {
		c.mu.Unlock()
		return
	}
	callID := c.state.CallID
	c.mu.Unlock()

	c.logger.Info("terminating call",
		zap.String("call_id", string(callID)),
		zap.String("reason", reason))

	if writeStatus && status != "" {
		ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		c.writeTerminal(ctx, callID, status)
		cancel()
		c.scheduleDelete(callID)
	}

	c.cleanup("")
	if status != "" {
		c.metrics.CallTerminated(status)
	}
	c.metrics.ActiveCalls(0)
	if c.cbs.OnCallEnded != nil {
		c.cbs.OnCallEnded()
	}
}

// abandonRecord retires a record that a failed call attempt already wrote,
// so the peer stops observing it. Best effort, like any terminal write.
func (c *CallController) abandonRecord(callID domain.CallID, status domain.CallStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	c.writeTerminal(ctx, callID, status)
	c.scheduleDelete(callID)
}

// rollbackSetup aborts a call attempt mid-setup: cleanup runs, the error is
// surfaced on the idle state, and the command returns it.
func (c *CallController) rollbackSetup(myGen uint64, err error) error {
	c.logger.Error("call setup failed", zap.Error(err))
	c.mu.Lock()
	stale := c.gen != myGen
	c.mu.Unlock()
	if stale {
		return apperrors.NewInvalidCommandError("call ended during setup")
	}
	c.cleanup(err.Error())
	c.metrics.ActiveCalls(0)
	return err
}

// cleanup releases every per-call resource and resets the state to idle.
// It is the single convergence point for all exit paths and is safe to run
// repeatedly, concurrently, and when some resources were never created.
// Bumping the generation invalidates every outstanding continuation.
func (c *CallController) cleanup(errMsg string) {
	c.mu.Lock()
	c.gen++
	session := c.session
	stream := c.state.LocalStream
	cancelCall := c.callWatch
	cancelCands := c.candWatch
	c.session = nil
	c.callWatch = nil
	c.candWatch = nil
	c.state = domain.CallState{Error: errMsg}
	c.mu.Unlock()

	if cancelCall != nil {
		cancelCall()
	}
	if cancelCands != nil {
		cancelCands()
	}
	if session != nil {
		if err := session.Close(); err != nil {
			c.logger.Warn("close peer session", zap.Error(err))
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Warn("close local stream", zap.Error(err))
		}
	}
	c.notifyState()
}

// writeTerminal performs a best-effort terminal status write. A missing or
// already-terminal record means the peer got there first.
func (c *CallController) writeTerminal(ctx context.Context, callID domain.CallID, status domain.CallStatus) {
	err := c.store.UpdateCall(ctx, callID, domain.CallUpdate{Status: &status})
	if err != nil && !errors.Is(err, domain.ErrCallNotFound) && !errors.Is(err, domain.ErrCallTerminal) {
		c.logger.Warn("terminal status write failed",
			zap.String("call_id", string(callID)),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// scheduleDelete removes a terminal record after the grace delay, giving
// the peer's watch time to observe the terminal status first.
func (c *CallController) scheduleDelete(callID domain.CallID) {
	time.AfterFunc(c.cfg.GraceDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		defer cancel()
		if err := c.store.DeleteCall(ctx, callID); err != nil && !errors.Is(err, domain.ErrCallNotFound) {
			c.logger.Warn("delete terminal record",
				zap.String("call_id", string(callID)), zap.Error(err))
		}
	})
}

func (c *CallController) attachStream(myGen uint64, stream ports.LocalStream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != myGen {
		return false
	}
	c.state.LocalStream = stream
	return true
}

func (c *CallController) attachSession(myGen uint64, session ports.PeerSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != myGen {
		return false
	}
	c.session = session
	return true
}

func (c *CallController) setStatus(myGen uint64, status domain.CallStatus) {
	c.mu.Lock()
	if c.gen != myGen || !c.state.IsInCall {
		c.mu.Unlock()
		return
	}
	c.state.Status = status
	c.mu.Unlock()
	c.notifyState()
}

func (c *CallController) genCurrent(myGen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == myGen
}

func (c *CallController) notifyState() {
	if c.cbs.OnStateChange == nil {
		return
	}
	c.cbs.OnStateChange(c.State())
}
