package media

import (
	"context"
	"testing"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDevices struct {
	infos  []ports.MediaDeviceInfo
	stream ports.LocalStream
	err    error
	calls  int
}

func (f *fakeDevices) Enumerate() []ports.MediaDeviceInfo { return f.infos }

func (f *fakeDevices) GetUserMedia(_ context.Context, _ domain.CallType) (ports.LocalStream, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func testConfig() SyntheticConfig {
	return SyntheticConfig{VideoFPS: 15, VideoWidth: 64, VideoHeight: 48}
}

func TestAcquire_FallsBackWhenNoDevices(t *testing.T) {
	devices := &fakeDevices{}
	acquirer := NewAcquirer(devices, testConfig(), zap.NewNop(), nil)

	stream, err := acquirer.Acquire(context.Background(), domain.CallTypeVideo)
	require.NoError(t, err)
	defer stream.Close()

	assert.True(t, stream.Synthetic())
	assert.Equal(t, 0, devices.calls, "should not attempt capture without devices")
}

func TestAcquire_FallsBackOnPermissionDenied(t *testing.T) {
	devices := &fakeDevices{
		infos: []ports.MediaDeviceInfo{
			{ID: "mic0", Kind: domain.TrackKindAudio, Label: "Microphone"},
		},
		err: domain.ErrPermissionDenied,
	}
	acquirer := NewAcquirer(devices, testConfig(), zap.NewNop(), nil)

	stream, err := acquirer.Acquire(context.Background(), domain.CallTypeAudio)
	require.NoError(t, err)
	defer stream.Close()

	assert.True(t, stream.Synthetic())
	assert.Equal(t, 1, devices.calls)
}

func TestAcquire_FallsBackWhenVideoDeviceMissing(t *testing.T) {
	// Audio device only, video call requested: the hardware path is
	// skipped without even attempting capture.
	devices := &fakeDevices{
		infos: []ports.MediaDeviceInfo{
			{ID: "mic0", Kind: domain.TrackKindAudio, Label: "Microphone"},
		},
	}
	acquirer := NewAcquirer(devices, testConfig(), zap.NewNop(), nil)

	stream, err := acquirer.Acquire(context.Background(), domain.CallTypeVideo)
	require.NoError(t, err)
	defer stream.Close()

	assert.True(t, stream.Synthetic())
	assert.Equal(t, 0, devices.calls)
}

func TestAcquire_PrefersHardwareStream(t *testing.T) {
	hw, err := NewSyntheticStream(domain.CallTypeAudio, testConfig())
	require.NoError(t, err)
	hw.synthetic = false

	devices := &fakeDevices{
		infos: []ports.MediaDeviceInfo{
			{ID: "mic0", Kind: domain.TrackKindAudio, Label: "Microphone"},
		},
		stream: hw,
	}
	acquirer := NewAcquirer(devices, testConfig(), zap.NewNop(), nil)

	stream, err := acquirer.Acquire(context.Background(), domain.CallTypeAudio)
	require.NoError(t, err)
	defer stream.Close()

	assert.False(t, stream.Synthetic())
	assert.Equal(t, 1, devices.calls)
}

func TestSyntheticStream_AudioCallHasNoVideoTrack(t *testing.T) {
	stream, err := NewSyntheticStream(domain.CallTypeAudio, testConfig())
	require.NoError(t, err)
	defer stream.Close()

	_, ok := stream.Track(domain.TrackKindAudio)
	assert.True(t, ok)
	_, ok = stream.Track(domain.TrackKindVideo)
	assert.False(t, ok)
}

func TestSyntheticStream_VideoCallHasBothTracks(t *testing.T) {
	stream, err := NewSyntheticStream(domain.CallTypeVideo, testConfig())
	require.NoError(t, err)
	defer stream.Close()

	_, ok := stream.Track(domain.TrackKindAudio)
	assert.True(t, ok)
	_, ok = stream.Track(domain.TrackKindVideo)
	assert.True(t, ok)
	assert.Len(t, stream.LocalTracks(), 2)
}

func TestTrack_ToggleEnabled(t *testing.T) {
	stream, err := NewSyntheticStream(domain.CallTypeVideo, testConfig())
	require.NoError(t, err)
	defer stream.Close()

	audio, ok := stream.Track(domain.TrackKindAudio)
	require.True(t, ok)
	video, ok := stream.Track(domain.TrackKindVideo)
	require.True(t, ok)

	assert.True(t, audio.Enabled())
	assert.True(t, video.Enabled())

	audio.SetEnabled(false)
	assert.False(t, audio.Enabled())
	assert.True(t, video.Enabled(), "toggling audio must not touch video")

	audio.SetEnabled(true)
	assert.True(t, audio.Enabled())
}

func TestStream_CloseIdempotent(t *testing.T) {
	stream, err := NewSyntheticStream(domain.CallTypeVideo, testConfig())
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}
