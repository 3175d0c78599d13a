package usecase

import "mediarec/internal/domain"

// fragmentBuffer holds the fragments of the current take in arrival order.
// It is guarded by the owning Session's mutex.
type fragmentBuffer struct {
	fragments []domain.Fragment
	bytes     int
}

func newFragmentBuffer() *fragmentBuffer {
	return &fragmentBuffer{}
}

func (b *fragmentBuffer) Append(f domain.Fragment) {
	b.fragments = append(b.fragments, f)
	b.bytes += f.Size()
}

func (b *fragmentBuffer) Len() int { return len(b.fragments) }

func (b *fragmentBuffer) Bytes() int { return b.bytes }

// Reset drops every fragment.
func (b *fragmentBuffer) Reset() {
	b.fragments = nil
	b.bytes = 0
}

// Drain returns the buffered fragments and leaves the buffer empty.
func (b *fragmentBuffer) Drain() []domain.Fragment {
	out := b.fragments
	b.Reset()
	return out
}
