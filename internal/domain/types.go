package domain

import "time"

// RecorderState mirrors the state reported by the underlying recorder.
type RecorderState string

const (
	RecorderStateInactive  RecorderState = "inactive"
	RecorderStateRecording RecorderState = "recording"
	RecorderStatePaused    RecorderState = "paused"
)

// CanTransition reports whether the recorder may move from s to next.
func (s RecorderState) CanTransition(next RecorderState) bool {
	switch s {
	case RecorderStateInactive:
		return next == RecorderStateRecording
	case RecorderStateRecording:
		return next == RecorderStatePaused || next == RecorderStateInactive
	case RecorderStatePaused:
		return next == RecorderStateRecording || next == RecorderStateInactive
	default:
		return false
	}
}

// Constraints selects the input device to acquire.
type Constraints struct {
	Audio      bool   `json:"audio"`
	DeviceID   string `json:"deviceId,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Fragment is one immutable chunk of encoded audio.
type Fragment struct {
	MimeType string
	Data     []byte
}

// NewFragment copies data so the fragment cannot be mutated by its producer.
func NewFragment(mimeType string, data []byte) Fragment {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Fragment{MimeType: mimeType, Data: buf}
}

func (f Fragment) Size() int { return len(f.Data) }

// EventKind identifies a recorder event.
type EventKind string

const (
	EventStart         EventKind = "start"
	EventPause         EventKind = "pause"
	EventResume        EventKind = "resume"
	EventStop          EventKind = "stop"
	EventDataAvailable EventKind = "dataavailable"
)

// IsLifecycle reports whether the event changes recorder state.
func (k EventKind) IsLifecycle() bool {
	switch k {
	case EventStart, EventPause, EventResume, EventStop:
		return true
	default:
		return false
	}
}

// RecorderEvent is emitted by a recorder. State is the recorder's state at
// emission time; Fragment is set only for dataavailable.
type RecorderEvent struct {
	Kind     EventKind
	State    RecorderState
	MimeType string
	Fragment *Fragment
}

// ObservedEvent is the display form of a RecorderEvent.
type ObservedEvent struct {
	HandleID string        `json:"handleId"`
	Kind     EventKind     `json:"eventName"`
	State    RecorderState `json:"state"`
	MimeType string        `json:"mimeType,omitempty"`
	Size     int           `json:"size,omitempty"`
	At       time.Time     `json:"at"`
}

// ArtifactInfo describes an assembled recording.
type ArtifactInfo struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	MimeType   string        `json:"mimeType"`
	Size       int           `json:"size"`
	Fragments  int           `json:"fragments"`
	SampleRate int           `json:"sampleRate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	BitDepth   int           `json:"bitDepth,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// ErrorCode identifies errors reported to the UI.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeAcquire    ErrorCode = "acquire"
	ErrorCodeTransition ErrorCode = "transition"
	ErrorCodeAssembly   ErrorCode = "assembly"
	ErrorCodeDevice     ErrorCode = "device"
	ErrorCodePlayback   ErrorCode = "playback"
)

// Status summarizes the current session for the UI.
type Status struct {
	State    RecorderState   `json:"state"`
	Attached bool            `json:"attached"`
	HandleID string          `json:"handleId,omitempty"`
	Source   string          `json:"source,omitempty"`
	Events   []ObservedEvent `json:"events"`
	Artifact *ArtifactInfo   `json:"artifact,omitempty"`
	Message  string          `json:"message,omitempty"`
}
