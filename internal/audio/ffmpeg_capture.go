package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"go.uber.org/zap"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

// FFMPEGSource streams microphone PCM audio using ffmpeg.
type FFMPEGSource struct {
	command string
	cfg     ports.AudioConfig
	probe   time.Duration
	logger  *zap.Logger
}

func NewFFMPEGSource(command string, cfg ports.AudioConfig, logger *zap.Logger) *FFMPEGSource {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFMPEGSource{command: command, cfg: cfg, probe: 250 * time.Millisecond, logger: logger.Named("ffmpeg")}
}

func (c *FFMPEGSource) Name() string { return "ffmpeg" }

func (c *FFMPEGSource) Open(ctx context.Context, constraints domain.Constraints) (ports.AudioStream, error) {
	if !constraints.Audio {
		return nil, domain.ErrInvalidConstraints
	}
	path, err := exec.LookPath(c.command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", domain.ErrNotSupported, c.command, err)
	}

	cfg := resolveAudioConfig(c.cfg, constraints)
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, path, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartErr(err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg startup interrupted: %w", ctx.Err())
		}
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", classifyStderr(detail), err, detail)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", domain.ErrDeviceUnavailable)
	case <-time.After(c.probe):
	}

	c.logger.Info("ffmpeg capture started",
		zap.String("input", cfg.InputFormat+":"+cfg.InputDevice),
		zap.Int("sampleRate", cfg.SampleRate), zap.Int("channels", cfg.Channels))

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
		format:  goaudio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
		label:   cfg.InputFormat + ":" + cfg.InputDevice,
	}, nil
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *lockedBuffer

	process *os.Process
	waitErr <-chan error

	format goaudio.Format
	label  string

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Format() goaudio.Format { return s.format }
func (s *ffmpegSession) Source() string         { return "ffmpeg" }
func (s *ffmpegSession) Label() string          { return s.label }

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func classifyStartErr(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: failed to start ffmpeg: %v", domain.ErrPermissionDenied, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: failed to start ffmpeg: %v", domain.ErrNotSupported, err)
	default:
		return fmt.Errorf("%w: failed to start ffmpeg: %v", domain.ErrDeviceUnavailable, err)
	}
}

// classifyStderr maps ffmpeg's input diagnostics onto acquisition failures.
func classifyStderr(detail string) error {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "operation not permitted"), strings.Contains(lower, "access denied"):
		return domain.ErrPermissionDenied
	case strings.Contains(lower, "unknown input format"), strings.Contains(lower, "unrecognized option"):
		return domain.ErrNotSupported
	default:
		return domain.ErrDeviceUnavailable
	}
}

// lockedBuffer collects stderr written by the ffmpeg process.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// resolveAudioConfig overlays constraints on the configured defaults.
func resolveAudioConfig(cfg ports.AudioConfig, constraints domain.Constraints) ports.AudioConfig {
	if constraints.DeviceID != "" {
		cfg.InputDevice = constraints.DeviceID
	}
	if constraints.SampleRate > 0 {
		cfg.SampleRate = constraints.SampleRate
	}
	if constraints.Channels > 0 {
		cfg.Channels = constraints.Channels
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}
