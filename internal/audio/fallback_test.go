package audio

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

type stubSource struct {
	name   string
	stream ports.AudioStream
	err    error
	opens  int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Open(context.Context, domain.Constraints) (ports.AudioStream, error) {
	s.opens++
	return s.stream, s.err
}

func TestFallbackSourceSkipsUnsupported(t *testing.T) {
	t.Parallel()

	stream := newFakeStream(nil)
	native := &stubSource{name: "native", err: fmt.Errorf("%w: no backend", domain.ErrNotSupported)}
	ffmpeg := &stubSource{name: "ffmpeg", stream: stream}
	source := NewFallbackSource(nil, native, ffmpeg)

	require.Equal(t, "native|ffmpeg", source.Name())
	got, err := source.Open(context.Background(), domain.Constraints{Audio: true})
	require.NoError(t, err)
	require.Same(t, stream, got)
	require.Equal(t, 1, native.opens)
	require.Equal(t, 1, ffmpeg.opens)
}

func TestFallbackSourceStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	native := &stubSource{name: "native", err: domain.ErrPermissionDenied}
	ffmpeg := &stubSource{name: "ffmpeg", stream: newFakeStream(nil)}
	source := NewFallbackSource(nil, native, ffmpeg)

	_, err := source.Open(context.Background(), domain.Constraints{Audio: true})
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	require.Zero(t, ffmpeg.opens)
}

func TestFallbackSourceAllUnsupported(t *testing.T) {
	t.Parallel()

	source := NewFallbackSource(nil,
		&stubSource{name: "native", err: domain.ErrNotSupported},
		&stubSource{name: "ffmpeg", err: fmt.Errorf("%w: missing", domain.ErrNotSupported)},
	)
	_, err := source.Open(context.Background(), domain.Constraints{Audio: true})
	require.ErrorIs(t, err, domain.ErrNotSupported)

	_, err = NewFallbackSource(nil).Open(context.Background(), domain.Constraints{Audio: true})
	require.True(t, errors.Is(err, domain.ErrNotSupported))
}
