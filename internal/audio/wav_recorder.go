package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"mediarec/internal/domain"
	"mediarec/internal/ports"
)

var errRecorderClosed = fmt.Errorf("%w: recorder is closed", domain.ErrInvalidTransition)

// WAVRecorderFactory builds recorders that encode a stream's PCM as WAV.
type WAVRecorderFactory struct {
	chunkSize   int
	eventBuffer int
	logger      *zap.Logger
}

func NewWAVRecorderFactory(chunkSize int, eventBuffer int, logger *zap.Logger) *WAVRecorderFactory {
	if chunkSize < 256 {
		chunkSize = 4096
	}
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WAVRecorderFactory{chunkSize: chunkSize, eventBuffer: eventBuffer, logger: logger.Named("recorder")}
}

func (f *WAVRecorderFactory) SupportedTypes() []string {
	return []string{WAVMimeType}
}

func (f *WAVRecorderFactory) NewRecorder(stream ports.AudioStream) (ports.Recorder, error) {
	format := stream.Format()
	if format.NumChannels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: stream format %d Hz x %d channels", domain.ErrNotSupported, format.SampleRate, format.NumChannels)
	}
	r := newWAVRecorder(stream, f.logger.With(zap.String("stream", stream.Label())), f.eventBuffer, 16)
	go r.read(f.chunkSize, frameSize(format))
	go r.loop()
	return r, nil
}

func newWAVRecorder(stream ports.AudioStream, logger *zap.Logger, eventBuffer int, pcmBuffer int) *WAVRecorder {
	return &WAVRecorder{
		stream:  stream,
		logger:  logger,
		cmds:    make(chan recorderCommand),
		events:  make(chan domain.RecorderEvent, eventBuffer),
		pcm:     make(chan []byte, pcmBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		state:   domain.RecorderStateInactive,
	}
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdPause
	cmdResume
	cmdStop
	cmdRequestData
)

type recorderCommand struct {
	kind      commandKind
	timeslice time.Duration
	reply     chan error
}

// WAVRecorder encodes S16LE PCM into WAV fragments. One goroutine owns the
// take; commands are handed to it and their events follow the reply.
type WAVRecorder struct {
	stream ports.AudioStream
	logger *zap.Logger

	cmds    chan recorderCommand
	events  chan domain.RecorderEvent
	pcm     chan []byte
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	stateMu  sync.Mutex
	state    domain.RecorderState
	mimeType string
}

func (r *WAVRecorder) State() domain.RecorderState {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *WAVRecorder) MimeType() string {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.mimeType
}

func (r *WAVRecorder) Events() <-chan domain.RecorderEvent { return r.events }

func (r *WAVRecorder) Start(timeslice time.Duration) error {
	return r.send(recorderCommand{kind: cmdStart, timeslice: timeslice})
}

func (r *WAVRecorder) Pause() error       { return r.send(recorderCommand{kind: cmdPause}) }
func (r *WAVRecorder) Resume() error      { return r.send(recorderCommand{kind: cmdResume}) }
func (r *WAVRecorder) Stop() error        { return r.send(recorderCommand{kind: cmdStop}) }
func (r *WAVRecorder) RequestData() error { return r.send(recorderCommand{kind: cmdRequestData}) }

// Close ends the recorder without emitting further events. The stream is
// left to its owner.
func (r *WAVRecorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	<-r.done
	return nil
}

func (r *WAVRecorder) send(cmd recorderCommand) error {
	cmd.reply = make(chan error, 1)
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return errRecorderClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-r.done:
		return errRecorderClosed
	}
}

func (r *WAVRecorder) setState(state domain.RecorderState, mimeType string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state = state
	r.mimeType = mimeType
}

// read pumps frame-aligned PCM chunks from the stream until it ends.
func (r *WAVRecorder) read(chunkSize int, frame int) {
	defer close(r.pcm)
	if frame <= 0 {
		frame = 2
	}
	if chunkSize < frame {
		chunkSize = frame
	}

	buf := make([]byte, chunkSize)
	var carry []byte
	for {
		n, err := r.stream.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			aligned := len(data) - len(data)%frame
			carry = append([]byte(nil), data[aligned:]...)
			if aligned > 0 {
				chunk := make([]byte, aligned)
				copy(chunk, data[:aligned])
				select {
				case r.pcm <- chunk:
				case <-r.closing:
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("audio stream read failed", zap.Error(err))
			}
			return
		}
	}
}

type take struct {
	header     []byte
	headerSent bool
	pending    []byte
	ticker     *time.Ticker
}

func (t *take) tick() <-chan time.Time {
	if t == nil || t.ticker == nil {
		return nil
	}
	return t.ticker.C
}

func (t *take) stopTicker() {
	if t != nil && t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}

func (r *WAVRecorder) loop() {
	defer close(r.done)
	defer close(r.events)

	state := domain.RecorderStateInactive
	pcm := r.pcm
	ended := false
	var current *take
	defer func() { current.stopTicker() }()

	for {
		select {
		case <-r.closing:
			return

		case cmd := <-r.cmds:
			var emit []domain.RecorderEvent
			next, err := r.apply(cmd, state, ended, &current)
			if err == nil {
				emit = r.eventsFor(cmd.kind, state, next, &current)
				state = next
			}
			cmd.reply <- err
			for _, ev := range emit {
				if !r.emit(ev) {
					return
				}
			}

		case chunk, ok := <-pcm:
			if !ok {
				pcm = nil
				ended = true
				if state != domain.RecorderStateInactive {
					r.logger.Info("audio stream ended during take")
					emit := r.eventsFor(cmdStop, state, domain.RecorderStateInactive, &current)
					state = domain.RecorderStateInactive
					for _, ev := range emit {
						if !r.emit(ev) {
							return
						}
					}
				}
				continue
			}
			if state == domain.RecorderStateRecording && current != nil {
				current.pending = append(current.pending, chunk...)
			}

		case <-current.tick():
			if state == domain.RecorderStateRecording {
				if !r.emit(r.dataEvent(state, current)) {
					return
				}
			}
		}
	}
}

func (r *WAVRecorder) apply(cmd recorderCommand, state domain.RecorderState, ended bool, current **take) (domain.RecorderState, error) {
	switch cmd.kind {
	case cmdStart:
		if state != domain.RecorderStateInactive {
			return state, fmt.Errorf("%w: start while %s", domain.ErrInvalidTransition, state)
		}
		if ended {
			return state, fmt.Errorf("%w: audio stream has ended", domain.ErrDeviceUnavailable)
		}
		t := &take{header: streamingWAVHeader(r.stream.Format())}
		if cmd.timeslice > 0 {
			t.ticker = time.NewTicker(cmd.timeslice)
		}
		*current = t
		return domain.RecorderStateRecording, nil
	case cmdPause:
		if state != domain.RecorderStateRecording {
			return state, fmt.Errorf("%w: pause while %s", domain.ErrInvalidTransition, state)
		}
		return domain.RecorderStatePaused, nil
	case cmdResume:
		if state != domain.RecorderStatePaused {
			return state, fmt.Errorf("%w: resume while %s", domain.ErrInvalidTransition, state)
		}
		return domain.RecorderStateRecording, nil
	case cmdStop:
		if state == domain.RecorderStateInactive {
			return state, fmt.Errorf("%w: stop while inactive", domain.ErrInvalidTransition)
		}
		return domain.RecorderStateInactive, nil
	case cmdRequestData:
		if state == domain.RecorderStateInactive {
			return state, fmt.Errorf("%w: requestData while inactive", domain.ErrInvalidTransition)
		}
		return state, nil
	default:
		return state, fmt.Errorf("unknown recorder command %d", cmd.kind)
	}
}

func (r *WAVRecorder) eventsFor(kind commandKind, from, to domain.RecorderState, current **take) []domain.RecorderEvent {
	switch kind {
	case cmdStart:
		r.setState(to, WAVMimeType)
		return []domain.RecorderEvent{{Kind: domain.EventStart, State: to, MimeType: WAVMimeType}}
	case cmdPause:
		r.setState(to, WAVMimeType)
		return []domain.RecorderEvent{{Kind: domain.EventPause, State: to, MimeType: WAVMimeType}}
	case cmdResume:
		r.setState(to, WAVMimeType)
		return []domain.RecorderEvent{{Kind: domain.EventResume, State: to, MimeType: WAVMimeType}}
	case cmdStop:
		final := r.dataEvent(from, *current)
		(*current).stopTicker()
		*current = nil
		r.setState(to, WAVMimeType)
		final.State = to
		return []domain.RecorderEvent{final, {Kind: domain.EventStop, State: to, MimeType: WAVMimeType}}
	case cmdRequestData:
		return []domain.RecorderEvent{r.dataEvent(from, *current)}
	default:
		return nil
	}
}

// dataEvent drains the take's pending PCM into one fragment. The first
// fragment of a take carries the WAV header.
func (r *WAVRecorder) dataEvent(state domain.RecorderState, t *take) domain.RecorderEvent {
	var data []byte
	if t != nil {
		if !t.headerSent {
			data = append(data, t.header...)
			t.headerSent = true
		}
		data = append(data, t.pending...)
		t.pending = nil
	}
	fragment := domain.Fragment{MimeType: WAVMimeType, Data: data}
	return domain.RecorderEvent{Kind: domain.EventDataAvailable, State: state, MimeType: WAVMimeType, Fragment: &fragment}
}

func (r *WAVRecorder) emit(ev domain.RecorderEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.closing:
		return false
	}
}
