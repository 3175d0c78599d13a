package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

// EventHandler receives recorder events for the handle identified by handleID.
type EventHandler func(handleID string, event domain.RecorderEvent)

// Handle binds one acquired device stream to its recorder. It is owned by the
// DeviceController; sessions only borrow it.
type Handle struct {
	id     string
	source string
	rec    ports.Recorder
	stream ports.AudioStream
	cancel context.CancelFunc
	logger *zap.Logger

	cmdMu    sync.RWMutex
	released bool

	dispatchMu  sync.Mutex
	closed      bool
	subscribers map[uint64]EventHandler
	nextSub     uint64

	releaseOnce sync.Once
	pumpDone    chan struct{}
}

func newHandle(source string, rec ports.Recorder, stream ports.AudioStream, cancel context.CancelFunc, logger *zap.Logger) *Handle {
	if cancel == nil {
		cancel = func() {}
	}
	id := uuid.NewString()
	h := &Handle{
		id:          id,
		source:      source,
		rec:         rec,
		stream:      stream,
		cancel:      cancel,
		logger:      logger.With(zap.String("handle", id), zap.String("source", source)),
		subscribers: make(map[uint64]EventHandler),
		pumpDone:    make(chan struct{}),
	}
	go h.pump()
	return h
}

func (h *Handle) ID() string     { return h.id }
func (h *Handle) Source() string { return h.source }

// State returns the recorder's own state.
func (h *Handle) State() domain.RecorderState { return h.rec.State() }

func (h *Handle) MimeType() string { return h.rec.MimeType() }

// Released reports whether the handle was superseded or released.
func (h *Handle) Released() bool {
	h.cmdMu.RLock()
	defer h.cmdMu.RUnlock()
	return h.released
}

func (h *Handle) Start(timeslice time.Duration) error {
	return h.command("start", func() error { return h.rec.Start(timeslice) })
}

func (h *Handle) Pause() error {
	return h.command("pause", h.rec.Pause)
}

func (h *Handle) Resume() error {
	return h.command("resume", h.rec.Resume)
}

func (h *Handle) Stop() error {
	return h.command("stop", h.rec.Stop)
}

func (h *Handle) RequestData() error {
	return h.command("requestData", h.rec.RequestData)
}

// command forwards to the recorder unless the handle is stale, in which case
// the command is dropped silently.
func (h *Handle) command(name string, fn func() error) error {
	h.cmdMu.RLock()
	defer h.cmdMu.RUnlock()
	if h.released {
		h.logger.Debug("dropping command on stale handle", zap.String("command", name))
		return nil
	}
	return fn()
}

// Subscribe registers fn for every event delivered after this call.
func (h *Handle) Subscribe(fn EventHandler) *Subscription {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	if h.closed {
		return &Subscription{}
	}
	h.nextSub++
	key := h.nextSub
	h.subscribers[key] = fn
	return &Subscription{handle: h, key: key}
}

func (h *Handle) unsubscribe(key uint64) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	delete(h.subscribers, key)
}

func (h *Handle) pump() {
	defer close(h.pumpDone)
	for event := range h.rec.Events() {
		h.dispatch(event)
	}
}

// dispatch holds dispatchMu while calling subscribers so release cannot
// return while a delivery is in flight.
func (h *Handle) dispatch(event domain.RecorderEvent) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	if h.closed {
		return
	}
	for _, fn := range h.subscribers {
		fn(h.id, event)
	}
}

// release stops the recorder and every device track. After it returns no
// further events are delivered and commands are dropped.
func (h *Handle) release() error {
	var err error
	h.releaseOnce.Do(func() {
		h.cmdMu.Lock()
		h.released = true
		h.cmdMu.Unlock()

		h.dispatchMu.Lock()
		h.closed = true
		h.subscribers = nil
		h.dispatchMu.Unlock()

		recErr := h.rec.Close()
		err = h.stream.Stop()
		if err == nil {
			err = recErr
		}
		h.cancel()
		h.logger.Info("recorder handle released")
	})
	return err
}

// Subscription pairs one Subscribe with exactly one removal.
type Subscription struct {
	handle *Handle
	key    uint64
	once   sync.Once
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.handle == nil {
		return
	}
	s.once.Do(func() { s.handle.unsubscribe(s.key) })
}
