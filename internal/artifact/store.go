package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediarec/internal/domain"
)

// URLPrefix is the path under which artifacts are served.
const URLPrefix = "/artifacts/"

type entry struct {
	info domain.ArtifactInfo
	data []byte
}

// Store keeps assembled recordings in memory for the lifetime of the session.
type Store struct {
	logger *zap.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:  logger.Named("artifacts"),
		clock:   time.Now,
		entries: make(map[string]*entry),
	}
}

// Put stores data as a new artifact and returns its description.
func (s *Store) Put(mimeType string, data []byte, fragments int) (domain.ArtifactInfo, error) {
	id := uuid.NewString()
	info := domain.ArtifactInfo{
		ID:        id,
		URL:       URLPrefix + id,
		MimeType:  mimeType,
		Size:      len(data),
		Fragments: fragments,
		CreatedAt: s.clock(),
	}
	if isWAV(mimeType) {
		if err := inspectWAV(data, &info); err != nil {
			s.logger.Debug("could not read wav header", zap.String("artifact", id), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.entries[id] = &entry{info: info, data: data}
	s.mu.Unlock()

	s.logger.Debug("artifact stored", zap.String("artifact", id), zap.Int("size", info.Size))
	return info, nil
}

// Open returns a reader over the artifact's bytes.
func (s *Store) Open(id string) (io.ReadSeeker, domain.ArtifactInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ArtifactInfo{}, fmt.Errorf("%w: %s", domain.ErrArtifactReleased, id)
	}
	return bytes.NewReader(e.data), e.info, nil
}

// Release drops the artifact. Releasing an unknown id is not an error.
func (s *Store) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.logger.Debug("artifact released", zap.String("artifact", id))
	}
	return nil
}

// Len reports how many artifacts are live.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close releases every artifact.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

// ServeHTTP serves GET URLPrefix+id with the artifact's content type.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, URLPrefix) {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, URLPrefix)
	reader, info, err := s.Open(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.MimeType != "" {
		w.Header().Set("Content-Type", info.MimeType)
	}
	http.ServeContent(w, r, "", info.CreatedAt, reader)
}

func isWAV(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	default:
		return false
	}
}

// inspectWAV fills format and duration from the WAV header. Streaming headers
// carry a size marker, so the payload length bounds the declared data size.
func inspectWAV(data []byte, info *domain.ArtifactInfo) error {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return err
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		return errors.New("incomplete wav header")
	}

	info.SampleRate = int(dec.SampleRate)
	info.Channels = int(dec.NumChans)
	info.BitDepth = int(dec.BitDepth)

	payload := len(data) - wavHeaderSize
	if dec.PCMSize > 0 && dec.PCMSize < payload {
		payload = dec.PCMSize
	}
	bytesPerSecond := info.SampleRate * info.Channels * info.BitDepth / 8
	if payload > 0 && bytesPerSecond > 0 {
		info.Duration = time.Duration(float64(payload) / float64(bytesPerSecond) * float64(time.Second))
	}
	return nil
}

const wavHeaderSize = 44
