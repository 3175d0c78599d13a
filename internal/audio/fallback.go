package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

// FallbackSource tries each source in order and moves on only when a
// source reports that it is not supported on this system.
type FallbackSource struct {
	sources []ports.DeviceSource
	logger  *zap.Logger
}

func NewFallbackSource(logger *zap.Logger, sources ...ports.DeviceSource) *FallbackSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackSource{sources: sources, logger: logger.Named("fallback")}
}

func (f *FallbackSource) Name() string {
	names := make([]string, 0, len(f.sources))
	for _, s := range f.sources {
		names = append(names, s.Name())
	}
	return strings.Join(names, "|")
}

func (f *FallbackSource) Open(ctx context.Context, constraints domain.Constraints) (ports.AudioStream, error) {
	var unsupported []error
	for _, source := range f.sources {
		stream, err := source.Open(ctx, constraints)
		if err == nil {
			return stream, nil
		}
		if !errors.Is(err, domain.ErrNotSupported) {
			return nil, err
		}
		f.logger.Info("capture source not supported, trying next", zap.String("source", source.Name()), zap.Error(err))
		unsupported = append(unsupported, err)
	}
	if len(unsupported) == 0 {
		return nil, fmt.Errorf("%w: no capture sources configured", domain.ErrNotSupported)
	}
	return nil, errors.Join(unsupported...)
}
