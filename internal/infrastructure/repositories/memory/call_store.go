package memory

import (
	"context"
	"fmt"
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

// watchBuffer is the per-watch event channel capacity. A consumer that falls
// this far behind loses events rather than blocking writers.
const watchBuffer = 64

type candidateKey struct {
	id  domain.CallID
	dir domain.CandidateDirection
}

type callWatcher struct {
	ch     chan ports.CallEvent
	cancel func()
}

type candidateWatcher struct {
	ch     chan ports.CandidateEvent
	cancel func()
}

// CallStore is an in-memory SignalingStore with live watch support. It backs
// tests and single-process demos; both peers' controllers share one instance.
type CallStore struct {
	mu         sync.RWMutex
	records    map[domain.CallID]*domain.CallRecord
	candidates map[candidateKey][]domain.Candidate

	nextWatchID      int
	callWatchers     map[domain.CallID]map[int]*callWatcher
	incomingWatchers map[domain.UserID]map[int]*callWatcher
	candWatchers     map[candidateKey]map[int]*candidateWatcher
}

// NewCallStore creates an empty in-memory signaling store.
func NewCallStore() *CallStore {
	return &CallStore{
		records:          make(map[domain.CallID]*domain.CallRecord),
		candidates:       make(map[candidateKey][]domain.Candidate),
		callWatchers:     make(map[domain.CallID]map[int]*callWatcher),
		incomingWatchers: make(map[domain.UserID]map[int]*callWatcher),
		candWatchers:     make(map[candidateKey]map[int]*candidateWatcher),
	}
}

func (s *CallStore) CreateCall(ctx context.Context, record *domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("call already exists: %s", record.ID)
	}

	clone := *record
	s.records[record.ID] = &clone

	event := ports.CallEvent{Kind: ports.ChangeAdded, Record: clone}
	s.notifyCallLocked(record.ID, event)
	if clone.Status == domain.StatusRinging {
		s.notifyIncomingLocked(clone.ReceiverID, event)
	}
	return nil
}

func (s *CallStore) GetCall(ctx context.Context, id domain.CallID) (*domain.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *CallStore) UpdateCall(ctx context.Context, id domain.CallID, update domain.CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return domain.ErrCallNotFound
	}

	// Terminal records are frozen until deletion.
	if record.Status.Terminal() {
		return domain.ErrCallTerminal
	}

	if update.Answer != nil {
		if record.Answer != nil {
			return fmt.Errorf("answer already written for call %s", id)
		}
		answer := *update.Answer
		record.Answer = &answer
	}
	if update.Status != nil {
		record.Status = *update.Status
	}

	clone := *record
	s.notifyCallLocked(id, ports.CallEvent{Kind: ports.ChangeModified, Record: clone})
	return nil
}

func (s *CallStore) DeleteCall(ctx context.Context, id domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return domain.ErrCallNotFound
	}

	clone := *record
	delete(s.records, id)
	delete(s.candidates, candidateKey{id, domain.DirectionCaller})
	delete(s.candidates, candidateKey{id, domain.DirectionCallee})

	s.notifyCallLocked(id, ports.CallEvent{Kind: ports.ChangeRemoved, Record: clone})
	return nil
}

func (s *CallStore) AddCandidate(ctx context.Context, cand domain.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[cand.CallID]; !exists {
		return domain.ErrCallNotFound
	}

	key := candidateKey{cand.CallID, cand.Direction}
	s.candidates[key] = append(s.candidates[key], cand)

	for _, w := range s.candWatchers[key] {
		select {
		case w.ch <- ports.CandidateEvent{Candidate: cand}:
		default:
		}
	}
	return nil
}

func (s *CallStore) Candidates(ctx context.Context, id domain.CallID, dir domain.CandidateDirection) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := candidateKey{id, dir}
	out := make([]domain.Candidate, len(s.candidates[key]))
	copy(out, s.candidates[key])
	return out, nil
}

func (s *CallStore) WatchCall(ctx context.Context, id domain.CallID) (<-chan ports.CallEvent, ports.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchID := s.nextWatchID
	s.nextWatchID++

	w := &callWatcher{ch: make(chan ports.CallEvent, watchBuffer)}
	if s.callWatchers[id] == nil {
		s.callWatchers[id] = make(map[int]*callWatcher)
	}
	s.callWatchers[id][watchID] = w

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.callWatchers[id], watchID)
			s.mu.Unlock()
			close(w.ch)
		})
	}
	return w.ch, cancel, nil
}

func (s *CallStore) WatchIncoming(ctx context.Context, receiver domain.UserID) (<-chan ports.CallEvent, ports.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchID := s.nextWatchID
	s.nextWatchID++

	w := &callWatcher{ch: make(chan ports.CallEvent, watchBuffer)}
	if s.incomingWatchers[receiver] == nil {
		s.incomingWatchers[receiver] = make(map[int]*callWatcher)
	}
	s.incomingWatchers[receiver][watchID] = w

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.incomingWatchers[receiver], watchID)
			s.mu.Unlock()
			close(w.ch)
		})
	}
	return w.ch, cancel, nil
}

func (s *CallStore) WatchCandidates(ctx context.Context, id domain.CallID, dir domain.CandidateDirection) (<-chan ports.CandidateEvent, ports.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := candidateKey{id, dir}
	watchID := s.nextWatchID
	s.nextWatchID++

	// The buffer must hold the full backlog: the replay below runs under
	// s.mu, where a blocked send could never be drained.
	w := &candidateWatcher{ch: make(chan ports.CandidateEvent, len(s.candidates[key])+watchBuffer)}
	if s.candWatchers[key] == nil {
		s.candWatchers[key] = make(map[int]*candidateWatcher)
	}
	s.candWatchers[key][watchID] = w

	// Replay candidates already present, in arrival order.
	for _, cand := range s.candidates[key] {
		w.ch <- ports.CandidateEvent{Candidate: cand}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.candWatchers[key], watchID)
			s.mu.Unlock()
			close(w.ch)
		})
	}
	return w.ch, cancel, nil
}

// notifyCallLocked delivers an event to every watcher of one call. Callers
// hold s.mu.
func (s *CallStore) notifyCallLocked(id domain.CallID, event ports.CallEvent) {
	for _, w := range s.callWatchers[id] {
		select {
		case w.ch <- event:
		default:
		}
	}
}

// notifyIncomingLocked delivers an event to every incoming-call watcher of
// one receiver. Callers hold s.mu.
func (s *CallStore) notifyIncomingLocked(receiver domain.UserID, event ports.CallEvent) {
	for _, w := range s.incomingWatchers[receiver] {
		select {
		case w.ch <- event:
		default:
		}
	}
}
