package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

// HandleListener is told when a handle becomes live and when it goes away.
type HandleListener interface {
	Attach(h *Handle)
	Detach(h *Handle)
}

// DeviceController acquires audio input devices and owns the resulting
// handles. At most one handle is live at a time.
type DeviceController struct {
	devices   ports.DeviceSource
	recorders ports.RecorderFactory
	logger    *zap.Logger

	mu        sync.Mutex
	seq       uint64
	epoch     uint64
	current   *Handle
	pending   map[uint64]context.CancelFunc
	listeners []HandleListener
	closed    bool
}

func NewDeviceController(devices ports.DeviceSource, recorders ports.RecorderFactory, logger *zap.Logger) *DeviceController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceController{
		devices:   devices,
		recorders: recorders,
		logger:    logger.Named("controller"),
		pending:   make(map[uint64]context.CancelFunc),
	}
}

// AddListener registers l for handle publication and release.
func (c *DeviceController) AddListener(l HandleListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Current returns the live handle, or nil.
func (c *DeviceController) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Acquire requests a device matching constraints and publishes a new handle
// once it resolves. The previous handle stays live until then. Only the most
// recent request may publish; older results are released on arrival.
//
// The device stays bound to ctx: cancelling it releases the handle.
func (c *DeviceController) Acquire(ctx context.Context, constraints domain.Constraints) (*Handle, error) {
	if !constraints.Audio {
		return nil, domain.ErrInvalidConstraints
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrControllerClosed
	}
	c.seq++
	ticket := c.seq
	epoch := c.epoch
	deviceCtx, cancel := context.WithCancel(ctx)
	c.pending[ticket] = cancel
	c.mu.Unlock()

	c.logger.Info("acquiring audio device", zap.Uint64("request", ticket), zap.String("source", c.devices.Name()))

	handle, err := c.open(deviceCtx, cancel, constraints)

	c.mu.Lock()
	delete(c.pending, ticket)
	staleErr := c.staleLocked(ticket, epoch)
	if err != nil {
		c.mu.Unlock()
		cancel()
		if staleErr != nil {
			return nil, fmt.Errorf("%w: %w", staleErr, err)
		}
		c.logger.Warn("audio device acquisition failed", zap.Uint64("request", ticket), zap.Error(err))
		return nil, err
	}
	if staleErr != nil {
		c.mu.Unlock()
		c.logger.Warn("discarding stale acquisition", zap.Uint64("request", ticket), zap.String("handle", handle.ID()), zap.Error(staleErr))
		if relErr := handle.release(); relErr != nil {
			c.logger.Error("failed to release discarded device", zap.Error(relErr))
		}
		return nil, staleErr
	}
	previous := c.current
	c.current = handle
	listeners := append([]HandleListener(nil), c.listeners...)
	c.mu.Unlock()

	if previous != nil {
		_ = c.releaseHandle(previous, listeners)
	}

	go c.watch(deviceCtx, handle)

	c.logger.Info("audio device ready", zap.Uint64("request", ticket), zap.String("handle", handle.ID()), zap.String("source", handle.Source()))
	for _, l := range listeners {
		l.Attach(handle)
	}
	return handle, nil
}

func (c *DeviceController) open(ctx context.Context, cancel context.CancelFunc, constraints domain.Constraints) (*Handle, error) {
	stream, err := c.devices.Open(ctx, constraints)
	if err != nil {
		return nil, err
	}
	rec, err := c.recorders.NewRecorder(stream)
	if err != nil {
		if stopErr := stream.Stop(); stopErr != nil {
			c.logger.Error("failed to stop stream after recorder construction failed", zap.Error(stopErr))
		}
		return nil, err
	}
	return newHandle(stream.Source(), rec, stream, cancel, c.logger), nil
}

func (c *DeviceController) staleLocked(ticket uint64, epoch uint64) error {
	if c.closed || c.epoch != epoch {
		return domain.ErrAcquisitionCancelled
	}
	if c.seq != ticket {
		return domain.ErrAcquisitionSuperseded
	}
	return nil
}

// watch releases the handle when the context it was acquired under ends.
func (c *DeviceController) watch(ctx context.Context, handle *Handle) {
	<-ctx.Done()

	c.mu.Lock()
	if c.current != handle {
		c.mu.Unlock()
		return
	}
	c.current = nil
	listeners := append([]HandleListener(nil), c.listeners...)
	c.mu.Unlock()

	c.logger.Info("consumer context ended, releasing device", zap.String("handle", handle.ID()))
	_ = c.releaseHandle(handle, listeners)
}

// Release stops and clears the live handle and cancels pending acquisitions.
// It is idempotent.
func (c *DeviceController) Release() error {
	c.mu.Lock()
	c.epoch++
	for ticket, cancel := range c.pending {
		cancel()
		delete(c.pending, ticket)
	}
	current := c.current
	c.current = nil
	listeners := append([]HandleListener(nil), c.listeners...)
	c.mu.Unlock()

	if current == nil {
		return nil
	}
	return c.releaseHandle(current, listeners)
}

// Close releases everything and rejects further acquisitions.
func (c *DeviceController) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Release()
}

func (c *DeviceController) releaseHandle(handle *Handle, listeners []HandleListener) error {
	err := handle.release()
	if err != nil {
		c.logger.Error("failed to release audio device", zap.String("handle", handle.ID()), zap.Error(err))
	}
	for _, l := range listeners {
		l.Detach(handle)
	}
	return err
}
