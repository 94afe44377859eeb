//go:build !linux || !cgo

package media

import (
	"context"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"go.uber.org/zap"
)

// Devices has no capture backend on this platform; acquisition always
// degrades to the synthetic stream.
type Devices struct{}

func NewDevices(_ SyntheticConfig, _ *zap.Logger) *Devices { return &Devices{} }

func (d *Devices) Enumerate() []ports.MediaDeviceInfo { return nil }

func (d *Devices) GetUserMedia(_ context.Context, _ domain.CallType) (ports.LocalStream, error) {
	return nil, domain.ErrDeviceNotFound
}
