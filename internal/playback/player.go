package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"go.uber.org/zap"
)

const streamingSize = 0xFFFFFFFF

// Player plays WAV artifacts through the default output device.
type Player struct {
	volumeDB float64
	logger   *zap.Logger

	mu sync.Mutex
}

func New(volumeDB float64, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{volumeDB: volumeDB, logger: logger.Named("playback")}
}

// Play blocks until the artifact finishes or ctx ends. Only one artifact
// plays at a time.
func (p *Player) Play(ctx context.Context, r io.Reader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	streamer, format, err := wav.Decode(bytes.NewReader(patchStreamingWAV(data)))
	if err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	defer streamer.Close()

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	vol := &effects.Volume{
		Streamer: streamer,
		Base:     2,
		Volume:   p.volumeDB,
		Silent:   false,
	}

	p.logger.Info("playback started", zap.Int("sampleRate", int(format.SampleRate)), zap.Int("frames", streamer.Len()))
	done := make(chan struct{})
	speaker.Play(beep.Seq(vol, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// patchStreamingWAV fills in RIFF and data sizes left open by a streaming
// header so decoders that trust them see the real length. Other input is
// returned unchanged.
func patchStreamingWAV(data []byte) []byte {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		return data
	}
	riff := binary.LittleEndian.Uint32(data[4:8])
	chunk := binary.LittleEndian.Uint32(data[40:44])
	if riff != streamingSize && chunk != streamingSize {
		return data
	}
	out := append([]byte(nil), data...)
	if riff == streamingSize {
		binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	}
	if chunk == streamingSize {
		binary.LittleEndian.PutUint32(out[40:44], uint32(len(out)-44))
	}
	return out
}
