package client

import "sync"

// FragmentQueue is the bounded buffer between the capture callback and the
// consumer loop. The callback runs on the audio thread, so TryPush never
// blocks; when the queue is full the fragment is counted as dropped.
type FragmentQueue struct {
	mu        sync.Mutex
	fragments [][]byte
	capacity  int
	dropped   int
}

func NewFragmentQueue(capacity int) *FragmentQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &FragmentQueue{capacity: capacity}
}

// TryPush appends a fragment if there is room. Returns false on overflow.
func (q *FragmentQueue) TryPush(frag []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fragments) >= q.capacity {
		q.dropped++
		return false
	}
	q.fragments = append(q.fragments, frag)
	return true
}

// Flush removes and returns all queued fragments in one atomic step.
func (q *FragmentQueue) Flush() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.fragments
	q.fragments = nil
	return out
}

// Len reports the current queue depth.
func (q *FragmentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fragments)
}

// Dropped reports how many fragments overflowed since creation.
func (q *FragmentQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
