package services

import (
	"context"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"go.uber.org/zap"
)

// runIncoming consumes the standing watch for records addressed to the
// local user. Each record surfaces at most once: the seen cache absorbs
// both watch replays and update events for an already-surfaced record.
// A record arriving while a call is active is answered with a terminal
// busy status instead of being surfaced.
func (c *CallController) runIncoming(events <-chan ports.CallEvent) {
	for ev := range events {
		if ev.Kind != ports.ChangeAdded {
			continue
		}
		rec := ev.Record
		if rec.Status != domain.StatusRinging || rec.ReceiverID != c.user.ID {
			continue
		}
		if !c.seen.SetIfAbsent(string(rec.ID), true) {
			continue
		}

		c.mu.Lock()
		busy := !c.state.Idle()
		c.mu.Unlock()

		if busy {
			c.rejectBusy(rec.ID)
			continue
		}

		c.logger.Info("incoming call",
			zap.String("call_id", string(rec.ID)),
			zap.String("caller_id", string(rec.CallerID)),
			zap.String("call_type", string(rec.CallType)))
		if c.cbs.OnCallReceived != nil {
			c.cbs.OnCallReceived(rec)
		}
	}
}

// rejectBusy terminates a second incoming call without disturbing the
// active one. The caller's watch observes the busy status and treats it
// as a decline.
func (c *CallController) rejectBusy(callID domain.CallID) {
	c.logger.Info("rejecting incoming call while busy",
		zap.String("call_id", string(callID)))

	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	c.writeTerminal(ctx, callID, domain.StatusBusy)
	c.scheduleDelete(callID)
	c.metrics.CallTerminated(domain.StatusBusy)
}
