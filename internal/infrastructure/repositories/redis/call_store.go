package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/validation"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "peercall:"

// CallStore is a Redis-backed SignalingStore. Records are JSON values,
// candidates are per-direction lists, and watches ride on PUB/SUB channels
// published after every write.
type CallStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewCallStore creates a Redis-backed signaling store.
func NewCallStore(client *redis.Client, logger *zap.SugaredLogger) *CallStore {
	return &CallStore{client: client, logger: logger}
}

func callKey(id domain.CallID) string {
	return keyPrefix + "call:" + string(id)
}

func candidateKey(id domain.CallID, dir domain.CandidateDirection) string {
	return fmt.Sprintf("%scall:%s:cand:%s", keyPrefix, id, dir)
}

func callEventsChannel(id domain.CallID) string {
	return keyPrefix + "events:call:" + string(id)
}

func incomingEventsChannel(receiver domain.UserID) string {
	return keyPrefix + "events:incoming:" + string(receiver)
}

func candidateEventsChannel(id domain.CallID, dir domain.CandidateDirection) string {
	return fmt.Sprintf("%sevents:cand:%s:%s", keyPrefix, id, dir)
}

// decodeRecord unmarshals and validates a stored record. Malformed shapes
// are rejected, never coerced.
func decodeRecord(data []byte) (*domain.CallRecord, error) {
	var record domain.CallRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call record: %w", err)
	}
	if err := validation.ValidateCallID(string(record.ID)); err != nil {
		return nil, fmt.Errorf("stored call record rejected: %w", err)
	}
	if err := validation.ValidateCallType(string(record.CallType)); err != nil {
		return nil, fmt.Errorf("stored call record rejected: %w", err)
	}
	if err := validation.ValidateCallStatus(string(record.Status)); err != nil {
		return nil, fmt.Errorf("stored call record rejected: %w", err)
	}
	return &record, nil
}

func (s *CallStore) CreateCall(ctx context.Context, record *domain.CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, callKey(record.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set call record in Redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("call already exists: %s", record.ID)
	}

	event := ports.CallEvent{Kind: ports.ChangeAdded, Record: *record}
	s.publishCallEvent(ctx, record.ID, event)
	if record.Status == domain.StatusRinging {
		s.publish(ctx, incomingEventsChannel(record.ReceiverID), event)
	}
	return nil
}

func (s *CallStore) GetCall(ctx context.Context, id domain.CallID) (*domain.CallRecord, error) {
	data, err := s.client.Get(ctx, callKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record from Redis: %w", err)
	}
	return decodeRecord(data)
}

func (s *CallStore) UpdateCall(ctx context.Context, id domain.CallID, update domain.CallUpdate) error {
	record, err := s.GetCall(ctx, id)
	if err != nil {
		return err
	}

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

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}
	if err := s.client.Set(ctx, callKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update call record in Redis: %w", err)
	}

	s.publishCallEvent(ctx, id, ports.CallEvent{Kind: ports.ChangeModified, Record: *record})
	return nil
}

func (s *CallStore) DeleteCall(ctx context.Context, id domain.CallID) error {
	record, err := s.GetCall(ctx, id)
	if err != nil {
		return err
	}

	keys := []string{
		callKey(id),
		candidateKey(id, domain.DirectionCaller),
		candidateKey(id, domain.DirectionCallee),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete call record from Redis: %w", err)
	}

	s.publishCallEvent(ctx, id, ports.CallEvent{Kind: ports.ChangeRemoved, Record: *record})
	return nil
}

func (s *CallStore) AddCandidate(ctx context.Context, cand domain.Candidate) error {
	exists, err := s.client.Exists(ctx, callKey(cand.CallID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check call record in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrCallNotFound
	}

	data, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}

	key := candidateKey(cand.CallID, cand.Direction)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append candidate in Redis: %w", err)
	}

	s.publish(ctx, candidateEventsChannel(cand.CallID, cand.Direction), ports.CandidateEvent{Candidate: cand})
	return nil
}

func (s *CallStore) Candidates(ctx context.Context, id domain.CallID, dir domain.CandidateDirection) ([]domain.Candidate, error) {
	items, err := s.client.LRange(ctx, candidateKey(id, dir), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates from Redis: %w", err)
	}

	out := make([]domain.Candidate, 0, len(items))
	for _, item := range items {
		var cand domain.Candidate
		if err := json.Unmarshal([]byte(item), &cand); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidate: %w", err)
		}
		out = append(out, cand)
	}
	return out, nil
}

func (s *CallStore) WatchCall(ctx context.Context, id domain.CallID) (<-chan ports.CallEvent, ports.CancelFunc, error) {
	return s.watchCallChannel(ctx, callEventsChannel(id))
}

func (s *CallStore) WatchIncoming(ctx context.Context, receiver domain.UserID) (<-chan ports.CallEvent, ports.CancelFunc, error) {
	return s.watchCallChannel(ctx, incomingEventsChannel(receiver))
}

func (s *CallStore) watchCallChannel(ctx context.Context, channel string) (<-chan ports.CallEvent, ports.CancelFunc, error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan ports.CallEvent, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event ports.CallEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warnw("dropping malformed call event", "channel", channel, "error", err)
				continue
			}
			out <- event
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

func (s *CallStore) WatchCandidates(ctx context.Context, id domain.CallID, dir domain.CandidateDirection) (<-chan ports.CandidateEvent, ports.CancelFunc, error) {
	sub := s.client.Subscribe(ctx, candidateEventsChannel(id, dir))
	if _, err := sub.Receive(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to candidates: %w", err)
	}

	// Replay candidates present before the subscription, then stream live
	// ones; the seen set keeps the replay/live overlap exactly-once.
	existing, err := s.Candidates(ctx, id, dir)
	if err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan ports.CandidateEvent, 64)
	go func() {
		defer close(out)

		seen := make(map[string]struct{}, len(existing))
		for _, cand := range existing {
			seen[cand.Payload] = struct{}{}
			out <- ports.CandidateEvent{Candidate: cand}
		}

		for msg := range sub.Channel() {
			var event ports.CandidateEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warnw("dropping malformed candidate event", "call_id", id, "error", err)
				continue
			}
			if _, dup := seen[event.Candidate.Payload]; dup {
				continue
			}
			seen[event.Candidate.Payload] = struct{}{}
			out <- event
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

func (s *CallStore) publishCallEvent(ctx context.Context, id domain.CallID, event ports.CallEvent) {
	s.publish(ctx, callEventsChannel(id), event)
}

func (s *CallStore) publish(ctx context.Context, channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Errorw("failed to marshal store event", "channel", channel, "error", err)
		return
	}
	if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
		s.logger.Warnw("failed to publish store event", "channel", channel, "error", err)
	}
}
