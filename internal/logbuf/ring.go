package logbuf

import "time"

// raw is one unclassified output chunk awaiting flush.
type raw struct {
	at   time.Time
	data []byte
}

// ring is a fixed-capacity queue of raw records. Pushing past capacity
// evicts the oldest entry; it never grows and never blocks.
type ring struct {
	buf   []raw
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]raw, capacity)}
}

// push enqueues r and reports whether an old entry was evicted.
func (q *ring) push(r raw) bool {
	evicted := false
	if q.count == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		evicted = true
	}
	q.buf[(q.head+q.count)%len(q.buf)] = r
	q.count++
	return evicted
}

// drain removes and returns all queued entries in arrival order.
func (q *ring) drain() []raw {
	if q.count == 0 {
		return nil
	}
	out := make([]raw, 0, q.count)
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.buf)
		out = append(out, q.buf[idx])
		q.buf[idx] = raw{}
	}
	q.head = 0
	q.count = 0
	return out
}

func (q *ring) len() int { return q.count }
