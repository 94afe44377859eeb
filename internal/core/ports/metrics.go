package ports

import (
	"time"

	"peercall/internal/core/domain"
)

// CallMetrics receives call-lifecycle measurements. Implemented by the
// Prometheus collector; a no-op implementation backs tests.
type CallMetrics interface {
	CallStarted(callType domain.CallType)
	CallAnswered(callType domain.CallType)
	CallTerminated(status domain.CallStatus)
	CallSetupDuration(d time.Duration)
	SyntheticFallback(callType domain.CallType)
	ActiveCalls(n int)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) CallStarted(domain.CallType)       {}
func (NopMetrics) CallAnswered(domain.CallType)      {}
func (NopMetrics) CallTerminated(domain.CallStatus)  {}
func (NopMetrics) CallSetupDuration(time.Duration)   {}
func (NopMetrics) SyntheticFallback(domain.CallType) {}
func (NopMetrics) ActiveCalls(int)                   {}
