package usecase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

// Config controls recording session behavior.
type Config struct {
	// Timeslice is the fragment interval used by StartChunked when none is given.
	Timeslice time.Duration
	// MaxEventLog caps the observed event log; zero means unbounded.
	MaxEventLog int
}

// Session drives the attached recorder and assembles one artifact per take.
// Its state only ever mirrors what the recorder last reported.
type Session struct {
	store  ports.ArtifactStore
	events ports.EventSink
	logger *zap.Logger
	cfg    Config
	clock  func() time.Time

	mu       sync.Mutex
	handle   *Handle
	sub      *Subscription
	state    domain.RecorderState
	buffer   *fragmentBuffer
	log      []domain.ObservedEvent
	artifact *domain.ArtifactInfo
	failure  error
}

func NewSession(store ports.ArtifactStore, events ports.EventSink, logger *zap.Logger, cfg Config) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = noopSink{}
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = time.Second
	}
	return &Session{
		store:  store,
		events: events,
		logger: logger.Named("session"),
		cfg:    cfg,
		clock:  time.Now,
		state:  domain.RecorderStateInactive,
		buffer: newFragmentBuffer(),
	}
}

// Attach binds the session to h, replacing any previous handle.
func (s *Session) Attach(h *Handle) {
	if h == nil {
		return
	}
	sub := h.Subscribe(s.onEvent)
	if h.Released() {
		sub.Unsubscribe()
		return
	}

	s.mu.Lock()
	if s.handle == h || h.Released() {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	previous := s.sub
	s.handle = h
	s.sub = sub
	s.state = h.State()
	s.buffer.Reset()
	s.failure = nil
	s.mu.Unlock()

	previous.Unsubscribe()
	s.logger.Info("recorder attached", zap.String("handle", h.ID()), zap.String("source", h.Source()))
	s.events.RecorderAttached(h.ID(), h.Source())
}

// Detach forgets h if it is the attached handle. An in-progress take is dropped.
func (s *Session) Detach(h *Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return
	}
	sub := s.sub
	s.handle = nil
	s.sub = nil
	s.state = domain.RecorderStateInactive
	if s.buffer.Len() > 0 {
		s.logger.Warn("recorder detached mid-take, dropping fragments", zap.Int("fragments", s.buffer.Len()))
	}
	s.buffer.Reset()
	s.mu.Unlock()

	sub.Unsubscribe()
	s.logger.Info("recorder detached", zap.String("handle", h.ID()))
	s.events.RecorderDetached(h.ID())
}

// Start records a take that emits fragments only on stop or flush.
func (s *Session) Start() error {
	return s.start(0)
}

// StartChunked records a take that emits a fragment every interval. A
// non-positive interval uses the configured timeslice.
func (s *Session) StartChunked(interval time.Duration) error {
	if interval <= 0 {
		interval = s.cfg.Timeslice
	}
	return s.start(interval)
}

func (s *Session) start(timeslice time.Duration) error {
	s.mu.Lock()
	h, err := s.requireLocked(domain.RecorderStateInactive)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.buffer.Reset()
	s.mu.Unlock()

	return h.Start(timeslice)
}

// Pause is valid only while recording.
func (s *Session) Pause() error {
	h, err := s.require(domain.RecorderStateRecording)
	if err != nil {
		return err
	}
	return h.Pause()
}

// Resume is valid only while paused.
func (s *Session) Resume() error {
	h, err := s.require(domain.RecorderStatePaused)
	if err != nil {
		return err
	}
	return h.Resume()
}

// Stop ends the take. The artifact is assembled when the recorder reports stop.
func (s *Session) Stop() error {
	h, err := s.require(domain.RecorderStateRecording, domain.RecorderStatePaused)
	if err != nil {
		return err
	}
	return h.Stop()
}

// RequestFlush asks for an out-of-band fragment while recording.
func (s *Session) RequestFlush() error {
	h, err := s.require(domain.RecorderStateRecording)
	if err != nil {
		return err
	}
	return h.RequestData()
}

func (s *Session) require(allowed ...domain.RecorderState) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requireLocked(allowed...)
}

func (s *Session) requireLocked(allowed ...domain.RecorderState) (*Handle, error) {
	if s.failure != nil {
		return nil, s.failure
	}
	if s.handle == nil {
		return nil, domain.ErrNoRecorder
	}
	for _, state := range allowed {
		if s.state == state {
			return s.handle, nil
		}
	}
	return nil, fmt.Errorf("%w: recorder is %s", domain.ErrInvalidTransition, s.state)
}

func (s *Session) onEvent(handleID string, event domain.RecorderEvent) {
	s.mu.Lock()
	if s.handle == nil || s.handle.ID() != handleID {
		s.mu.Unlock()
		return
	}

	observed := domain.ObservedEvent{
		HandleID: handleID,
		Kind:     event.Kind,
		State:    event.State,
		MimeType: event.MimeType,
		At:       s.clock(),
	}

	var (
		ready     *domain.ArtifactInfo
		assembled error
	)
	switch {
	case event.Kind == domain.EventDataAvailable:
		if event.Fragment != nil {
			s.buffer.Append(*event.Fragment)
			observed.Size = event.Fragment.Size()
			if observed.MimeType == "" {
				observed.MimeType = event.Fragment.MimeType
			}
		}
		s.logger.Debug("fragment received", zap.Int("size", observed.Size), zap.Int("buffered", s.buffer.Len()))
	case event.Kind.IsLifecycle():
		previous := s.state
		if previous != event.State && !previous.CanTransition(event.State) {
			s.logger.Warn("recorder reported unexpected transition",
				zap.String("from", string(previous)), zap.String("to", string(event.State)), zap.String("event", string(event.Kind)))
		}
		s.state = event.State
		if event.Kind == domain.EventStart && previous == domain.RecorderStateInactive {
			// A new take replaces the previous artifact and event log.
			s.log = nil
			s.releaseArtifactLocked()
		}
		if event.Kind == domain.EventStop && previous != domain.RecorderStateInactive {
			ready, assembled = s.assembleLocked(event.MimeType)
		}
	}
	s.appendLogLocked(observed)
	s.mu.Unlock()

	s.events.RecorderEvent(observed)
	if assembled != nil {
		s.events.SessionError(domain.ErrorCodeAssembly, assembled.Error())
	}
	if ready != nil {
		s.events.ArtifactReady(*ready)
	}
}

func (s *Session) assembleLocked(fallbackType string) (*domain.ArtifactInfo, error) {
	if fallbackType == "" {
		fallbackType = s.handle.MimeType()
	}
	fragments := s.buffer.Drain()
	mimeType, data, err := assembleFragments(fragments, fallbackType)
	if err != nil {
		if errors.Is(err, domain.ErrMixedFragmentType) {
			s.failure = err
		}
		s.logger.Error("artifact assembly failed", zap.Int("fragments", len(fragments)), zap.Error(err))
		return nil, err
	}

	s.releaseArtifactLocked()
	info, err := s.store.Put(mimeType, data, len(fragments))
	if err != nil {
		s.logger.Error("failed to store artifact", zap.Error(err))
		return nil, err
	}
	s.artifact = &info
	s.logger.Info("artifact ready", zap.String("artifact", info.ID), zap.String("mimeType", info.MimeType), zap.Int("size", info.Size))
	return &info, nil
}

func (s *Session) releaseArtifactLocked() {
	if s.artifact == nil {
		return
	}
	if err := s.store.Release(s.artifact.ID); err != nil {
		s.logger.Warn("failed to release artifact", zap.String("artifact", s.artifact.ID), zap.Error(err))
	}
	s.artifact = nil
}

func (s *Session) appendLogLocked(event domain.ObservedEvent) {
	s.log = append(s.log, event)
	if s.cfg.MaxEventLog > 0 && len(s.log) > s.cfg.MaxEventLog {
		s.log = append([]domain.ObservedEvent(nil), s.log[len(s.log)-s.cfg.MaxEventLog:]...)
	}
}

// State returns the mirrored recorder state.
func (s *Session) State() domain.RecorderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns a copy of the observed event log.
func (s *Session) Events() []domain.ObservedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ObservedEvent, len(s.log))
	copy(out, s.log)
	return out
}

// Artifact returns the current artifact, if any.
func (s *Session) Artifact() (domain.ArtifactInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return domain.ArtifactInfo{}, false
	}
	return *s.artifact, true
}

// Status returns a snapshot for the UI.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := domain.Status{
		State:  s.state,
		Events: make([]domain.ObservedEvent, len(s.log)),
	}
	copy(status.Events, s.log)
	if s.handle != nil {
		status.Attached = true
		status.HandleID = s.handle.ID()
		status.Source = s.handle.Source()
	}
	if s.artifact != nil {
		info := *s.artifact
		status.Artifact = &info
	}
	if s.failure != nil {
		status.Message = s.failure.Error()
	}
	return status
}

// Close detaches the recorder and releases the current artifact.
func (s *Session) Close() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	s.Detach(h)

	s.mu.Lock()
	s.releaseArtifactLocked()
	s.mu.Unlock()
}

type noopSink struct{}

func (noopSink) RecorderAttached(_, _ string)              {}
func (noopSink) RecorderDetached(_ string)                 {}
func (noopSink) RecorderEvent(_ domain.ObservedEvent)      {}
func (noopSink) ArtifactReady(_ domain.ArtifactInfo)       {}
func (noopSink) SessionError(_ domain.ErrorCode, _ string) {}
