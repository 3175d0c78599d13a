package ports

import (
	"context"
	"io"
	"time"

	"github.com/go-audio/audio"

	"mediarec/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioStream is a live device binding producing interleaved S16LE PCM.
type AudioStream interface {
	io.ReadCloser
	Format() audio.Format
	// Source names the capability that opened the stream.
	Source() string
	Label() string
	// Stop stops every device track. It is safe to call more than once.
	Stop() error
}

// DeviceSource acquires audio input devices.
type DeviceSource interface {
	Name() string
	Open(ctx context.Context, constraints domain.Constraints) (AudioStream, error)
}

// Recorder drives an encoder bound to one AudioStream. Commands never emit
// events synchronously; their effect surfaces later on Events.
type Recorder interface {
	State() domain.RecorderState
	MimeType() string
	Start(timeslice time.Duration) error
	Pause() error
	Resume() error
	Stop() error
	RequestData() error
	// Events is closed once the recorder is closed.
	Events() <-chan domain.RecorderEvent
	Close() error
}

// RecorderFactory constructs recorders bound to a stream.
type RecorderFactory interface {
	NewRecorder(stream AudioStream) (Recorder, error)
	SupportedTypes() []string
}

// ArtifactStore keeps assembled recordings addressable for the session.
type ArtifactStore interface {
	Put(mimeType string, data []byte, fragments int) (domain.ArtifactInfo, error)
	Open(id string) (io.ReadSeeker, domain.ArtifactInfo, error)
	Release(id string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	RecorderAttached(handleID string, source string)
	RecorderDetached(handleID string)
	RecorderEvent(event domain.ObservedEvent)
	ArtifactReady(info domain.ArtifactInfo)
	SessionError(code domain.ErrorCode, detail string)
}
