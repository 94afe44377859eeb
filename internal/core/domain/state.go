package domain

// TrackKind distinguishes audio and video tracks.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// MediaTrack is one local capture (or synthetic) track. SetEnabled is a
// local-only presentation toggle and never triggers renegotiation.
type MediaTrack interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Close() error
}

// MediaStream groups the local tracks of one call. Close stops every track
// and any synthetic generators behind them; it must be idempotent.
type MediaStream interface {
	Tracks() []MediaTrack
	Track(kind TrackKind) (MediaTrack, bool)
	Synthetic() bool
	Close() error
}

// RemoteMedia summarizes remote tracks that have arrived on the peer session.
type RemoteMedia struct {
	AudioTracks int `json:"audio_tracks"`
	VideoTracks int `json:"video_tracks"`
}

// CallState is the controller's local, in-memory view of the active call.
// It mirrors the subset of the call record relevant to the local peer plus
// local-only fields. Exactly one is active per controller at a time.
type CallState struct {
	CallID    CallID     `json:"call_id,omitempty"`
	Status    CallStatus `json:"status,omitempty"`
	IsInCall  bool       `json:"is_in_call"`
	IsCaller  bool       `json:"is_caller"`
	CallType  CallType   `json:"call_type,omitempty"`
	PeerID    UserID     `json:"peer_id,omitempty"`
	PeerName  string     `json:"peer_name,omitempty"`
	PeerImage string     `json:"peer_image,omitempty"`

	IsMuted    bool `json:"is_muted"`
	IsVideoOff bool `json:"is_video_off"`

	LocalStream  MediaStream  `json:"-"`
	RemoteStream *RemoteMedia `json:"remote_stream,omitempty"`

	Error string `json:"error,omitempty"`
}

// Idle reports whether no call is active or being set up.
func (s CallState) Idle() bool {
	return !s.IsInCall && s.Status == ""
}
