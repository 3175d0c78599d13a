package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

type fakeStream struct {
	stops atomic.Int32
}

func (s *fakeStream) Read(_ []byte) (int, error) { return 0, io.EOF }
func (s *fakeStream) Close() error               { return s.Stop() }
func (s *fakeStream) Format() goaudio.Format     { return goaudio.Format{NumChannels: 1, SampleRate: 8000} }
func (s *fakeStream) Source() string             { return "fake" }
func (s *fakeStream) Label() string              { return "fake:default" }

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	return nil
}

func (s *fakeStream) Stopped() bool { return s.stops.Load() > 0 }

// fakeSource opens fakeStreams. When openFn is set it decides the outcome of
// the n-th call (starting at 1).
type fakeSource struct {
	mu      sync.Mutex
	opens   int
	streams []*fakeStream
	openFn  func(ctx context.Context, n int) error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Open(ctx context.Context, _ domain.Constraints) (ports.AudioStream, error) {
	s.mu.Lock()
	s.opens++
	n := s.opens
	fn := s.openFn
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, n); err != nil {
			return nil, err
		}
	}
	stream := &fakeStream{}
	s.mu.Lock()
	s.streams = append(s.streams, stream)
	s.mu.Unlock()
	return stream, nil
}

func (s *fakeSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeSource) Stream(i int) *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[i]
}

// fakeRecorder records commands. With auto set it behaves like a real
// recorder and reports each accepted command as an event; otherwise tests
// push events themselves.
type fakeRecorder struct {
	auto bool

	mu        sync.Mutex
	state     domain.RecorderState
	calls     map[string]int
	timeslice time.Duration
	startErr  error
	events    chan domain.RecorderEvent
	closed    bool
}

func newFakeRecorder(auto bool) *fakeRecorder {
	return &fakeRecorder{
		auto:   auto,
		state:  domain.RecorderStateInactive,
		calls:  make(map[string]int),
		events: make(chan domain.RecorderEvent, 64),
	}
}

func (r *fakeRecorder) State() domain.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRecorder) MimeType() string { return "audio/wav" }

func (r *fakeRecorder) Events() <-chan domain.RecorderEvent { return r.events }

func (r *fakeRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	r.timeslice = timeslice
	startErr := r.startErr
	r.mu.Unlock()
	if startErr != nil {
		r.count("start")
		return startErr
	}
	return r.command("start", domain.RecorderStateInactive, domain.RecorderStateRecording, domain.EventStart)
}

func (r *fakeRecorder) Pause() error {
	return r.command("pause", domain.RecorderStateRecording, domain.RecorderStatePaused, domain.EventPause)
}

func (r *fakeRecorder) Resume() error {
	return r.command("resume", domain.RecorderStatePaused, domain.RecorderStateRecording, domain.EventResume)
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	from := r.state
	r.mu.Unlock()
	if from == domain.RecorderStateInactive && r.auto {
		r.count("stop")
		return fmt.Errorf("%w: stop while inactive", domain.ErrInvalidTransition)
	}
	return r.command("stop", from, domain.RecorderStateInactive, domain.EventStop)
}

func (r *fakeRecorder) RequestData() error {
	r.count("requestData")
	return nil
}

func (r *fakeRecorder) command(name string, from, to domain.RecorderState, kind domain.EventKind) error {
	r.count(name)
	if !r.auto {
		return nil
	}
	r.mu.Lock()
	if r.state != from {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, name, state)
	}
	r.state = to
	r.mu.Unlock()
	r.push(domain.RecorderEvent{Kind: kind, State: to, MimeType: "audio/wav"})
	return nil
}

// failStart makes every later Start fail with err.
func (r *fakeRecorder) failStart(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
}

func (r *fakeRecorder) count(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
}

func (r *fakeRecorder) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *fakeRecorder) Timeslice() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeslice
}

func (r *fakeRecorder) push(ev domain.RecorderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events <- ev
}

func (r *fakeRecorder) pushData(mimeType string, data []byte) {
	f := domain.NewFragment(mimeType, data)
	r.push(domain.RecorderEvent{Kind: domain.EventDataAvailable, State: r.State(), MimeType: mimeType, Fragment: &f})
}

func (r *fakeRecorder) pushLifecycle(kind domain.EventKind, state domain.RecorderState) {
	r.push(domain.RecorderEvent{Kind: kind, State: state, MimeType: "audio/wav"})
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return nil
}

func (r *fakeRecorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeFactory struct {
	auto bool
	err  error

	mu        sync.Mutex
	recorders []*fakeRecorder
}

func (f *fakeFactory) NewRecorder(_ ports.AudioStream) (ports.Recorder, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec := newFakeRecorder(f.auto)
	f.mu.Lock()
	f.recorders = append(f.recorders, rec)
	f.mu.Unlock()
	return rec, nil
}

func (f *fakeFactory) SupportedTypes() []string { return []string{"audio/wav"} }

func (f *fakeFactory) Recorder(i int) *fakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recorders[i]
}

type fakeStore struct {
	mu       sync.Mutex
	seq      int
	entries  map[string][]byte
	released []string
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string][]byte)}
}

func (s *fakeStore) Put(mimeType string, data []byte, fragments int) (domain.ArtifactInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.ArtifactInfo{}, s.err
	}
	s.seq++
	id := fmt.Sprintf("artifact-%d", s.seq)
	s.entries[id] = data
	return domain.ArtifactInfo{ID: id, URL: "/artifacts/" + id, MimeType: mimeType, Size: len(data), Fragments: fragments}, nil
}

func (s *fakeStore) Open(id string) (io.ReadSeeker, domain.ArtifactInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[id]
	if !ok {
		return nil, domain.ArtifactInfo{}, domain.ErrArtifactReleased
	}
	return bytes.NewReader(data), domain.ArtifactInfo{ID: id, Size: len(data)}, nil
}

func (s *fakeStore) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return errors.New("unknown artifact")
	}
	delete(s.entries, id)
	s.released = append(s.released, id)
	return nil
}

func (s *fakeStore) Released() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}

func (s *fakeStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type sinkError struct {
	code   domain.ErrorCode
	detail string
}

type fakeSink struct {
	mu        sync.Mutex
	attached  []string
	detached  []string
	events    []domain.ObservedEvent
	artifacts []domain.ArtifactInfo
	errors    []sinkError
}

func (s *fakeSink) RecorderAttached(handleID string, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, handleID)
}

func (s *fakeSink) RecorderDetached(handleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = append(s.detached, handleID)
}

func (s *fakeSink) RecorderEvent(event domain.ObservedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) ArtifactReady(info domain.ArtifactInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, info)
}

func (s *fakeSink) SessionError(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, sinkError{code: code, detail: detail})
}

func (s *fakeSink) Artifacts() []domain.ArtifactInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ArtifactInfo(nil), s.artifacts...)
}

func (s *fakeSink) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeSink) Errors() []sinkError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkError(nil), s.errors...)
}

// recordingListener tracks Attach/Detach calls in order.
type recordingListener struct {
	mu    sync.Mutex
	calls []string
}

func (l *recordingListener) Attach(h *Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "attach:"+h.ID())
}

func (l *recordingListener) Detach(h *Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "detach:"+h.ID())
}

func (l *recordingListener) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}
