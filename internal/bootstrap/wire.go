package bootstrap

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"mediarec/internal/artifact"
	"mediarec/internal/audio"
	"mediarec/internal/config"
	"mediarec/internal/logging"
	"mediarec/internal/playback"
	"mediarec/internal/ports"
	"mediarec/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Logger     *zap.Logger
	Controller *usecase.DeviceController
	Session    *usecase.Session
	Store      *artifact.Store
	Recorders  ports.RecorderFactory
	Player     *playback.Player

	logCloser io.Closer
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logCloser := logging.New(cfg.Log)
	logger.Info("configuration loaded",
		zap.String("engine", cfg.Engine),
		zap.String("input", cfg.Audio.InputFormat+":"+cfg.Audio.InputDevice),
		zap.Int("sampleRate", cfg.Audio.SampleRate),
		zap.Int("channels", cfg.Audio.Channels))

	recorders := audio.NewWAVRecorderFactory(cfg.Session.ChunkSize, cfg.Session.EventBuffer, logger)
	controller := usecase.NewDeviceController(newDeviceSource(cfg, logger), recorders, logger)
	store := artifact.NewStore(logger)
	session := usecase.NewSession(store, eventSink, logger, sessionConfig(cfg))
	controller.AddListener(session)

	return &Services{
		Config:     cfg,
		Logger:     logger,
		Controller: controller,
		Session:    session,
		Store:      store,
		Recorders:  recorders,
		Player:     playback.New(0, logger),
		logCloser:  logCloser,
	}, nil
}

func sessionConfig(cfg config.Config) usecase.Config {
	return usecase.Config{
		Timeslice:   cfg.Session.Timeslice(),
		MaxEventLog: cfg.Session.EventLogLimit,
	}
}

// newDeviceSource picks the capture capability for the configured engine.
func newDeviceSource(cfg config.Config, logger *zap.Logger) ports.DeviceSource {
	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	native := audio.NewNativeSource(audioCfg, cfg.Session.EventBuffer, logger)
	ffmpeg := audio.NewFFMPEGSource(cfg.Audio.RecorderCommand, audioCfg, logger)

	switch cfg.Engine {
	case config.EngineNative:
		return native
	case config.EngineFFMPEG:
		return ffmpeg
	default:
		return audio.NewFallbackSource(logger, native, ffmpeg)
	}
}

// Close releases the device, revokes artifacts and flushes logs.
func (s *Services) Close() error {
	err := s.Controller.Close()
	s.Session.Close()
	s.Store.Close()
	_ = s.Logger.Sync()
	return errors.Join(err, s.logCloser.Close())
}
