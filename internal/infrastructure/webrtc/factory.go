package webrtc

import (
	"fmt"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Config holds the settings shared by every peer session.
type Config struct {
	ICEServers        []webrtc.ICEServer
	DisconnectTimeout time.Duration
}

// Factory builds one fresh peer connection per call attempt. Sessions are
// never reused across calls.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = 5 * time.Second
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) NewSession(callID domain.CallID, direction ports.SessionDirection, hooks ports.SessionHooks) (ports.PeerSession, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: f.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	return newSession(callID, direction, pc, hooks, f.cfg.DisconnectTimeout, f.logger), nil
}
