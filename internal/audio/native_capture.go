package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
	goaudio "github.com/go-audio/audio"
	"go.uber.org/zap"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

// NativeSource captures from the system audio API through miniaudio.
type NativeSource struct {
	cfg             ports.AudioConfig
	bufferCallbacks int
	logger          *zap.Logger
}

func NewNativeSource(cfg ports.AudioConfig, bufferCallbacks int, logger *zap.Logger) *NativeSource {
	if bufferCallbacks <= 0 {
		bufferCallbacks = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NativeSource{cfg: cfg, bufferCallbacks: bufferCallbacks, logger: logger.Named("native")}
}

func (s *NativeSource) Name() string { return "native" }

func (s *NativeSource) Open(ctx context.Context, constraints domain.Constraints) (ports.AudioStream, error) {
	if !constraints.Audio {
		return nil, domain.ErrInvalidConstraints
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := resolveAudioConfig(s.cfg, constraints)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		s.logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", domain.ErrNotSupported, err)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = uint32(cfg.Channels)
	deviceCfg.SampleRate = uint32(cfg.SampleRate)

	label := "default"
	if cfg.InputDevice != "" && cfg.InputDevice != "default" {
		devices, err := mctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(mctx)
			return nil, fmt.Errorf("%w: list capture devices: %v", domain.ErrDeviceUnavailable, err)
		}
		found := false
		for i := range devices {
			info := devices[i]
			if info.Name() == cfg.InputDevice || info.ID.String() == cfg.InputDevice {
				deviceCfg.Capture.DeviceID = info.ID.Pointer()
				label = info.Name()
				found = true
				break
			}
		}
		if !found {
			freeContext(mctx)
			return nil, fmt.Errorf("%w: no capture device %q", domain.ErrDeviceUnavailable, cfg.InputDevice)
		}
	}

	stream := newChanStream(goaudio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate}, "native", label, s.bufferCallbacks)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSample []byte, _ uint32) {
			stream.push(pInputSample)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceCfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("%w: init capture device: %v", domain.ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("%w: start capture device: %v", domain.ErrDeviceUnavailable, err)
	}

	stream.onStop = func() error {
		_ = device.Stop()
		device.Uninit()
		return freeContext(mctx)
	}
	s.logger.Info("native capture started", zap.String("device", label),
		zap.Int("sampleRate", cfg.SampleRate), zap.Int("channels", cfg.Channels))
	return stream, nil
}

func freeContext(mctx *malgo.AllocatedContext) error {
	err := mctx.Uninit()
	mctx.Free()
	if err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	return nil
}

// chanStream adapts callback-delivered PCM to an io.Reader. Callbacks never
// block: when the reader falls behind, audio is dropped.
type chanStream struct {
	format goaudio.Format
	source string
	label  string

	data    chan []byte
	done    chan struct{}
	pending []byte

	mu       sync.Mutex
	dropped  int
	stopOnce sync.Once
	stopErr  error
	onStop   func() error
}

func newChanStream(format goaudio.Format, source string, label string, buffer int) *chanStream {
	return &chanStream{
		format: format,
		source: source,
		label:  label,
		data:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (s *chanStream) push(p []byte) {
	b := make([]byte, len(p))
	copy(b, p)
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.data <- b:
	default:
		s.mu.Lock()
		s.dropped += len(b)
		s.mu.Unlock()
	}
}

// Read returns buffered PCM, or io.EOF once the stream is stopped.
func (s *chanStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case b := <-s.data:
			s.pending = b
		case <-s.done:
			return 0, io.EOF
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *chanStream) Format() goaudio.Format { return s.format }
func (s *chanStream) Source() string         { return s.source }
func (s *chanStream) Label() string          { return s.label }

// Dropped reports how many bytes were discarded because the reader lagged.
func (s *chanStream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *chanStream) Close() error { return s.Stop() }

func (s *chanStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.onStop != nil {
			s.stopErr = s.onStop()
		}
	})
	return s.stopErr
}
