package hvdetect

import "time"

// QueryStatus is the outcome of a single host query call.
type QueryStatus int

const (
	QuerySuccess QueryStatus = iota
	QueryTooSmall
	QueryFailed
)

// QueryResult reports one call of a QueryFunc. Size is the number of valid
// bytes on QuerySuccess and the required capacity on QueryTooSmall. Code is
// the raw host status and is surfaced when Status is QueryFailed.
type QueryResult struct {
	Status QueryStatus
	Size   uint32
	Code   uint32
}

// QueryFunc calls a length-reporting host query with buf as its output
// buffer. buf is nil on the first call.
type QueryFunc func(buf []byte) QueryResult

// Allocator owns the buffers handed to a QueryFunc.
type Allocator interface {
	Alloc(size int) []byte
	Free(buf []byte)
}

type heapAllocator struct{}

func (heapAllocator) Alloc(size int) []byte { return make([]byte, size) }

// Free scrubs the buffer; the memory itself goes back to the GC.
func (heapAllocator) Free(buf []byte) { clear(buf) }

// Negotiator runs the grow-and-retry protocol shared by every host query.
// It holds at most one live buffer at a time.
type Negotiator struct {
	maxAttempts int
	alloc       Allocator
}

// NewNegotiator returns a Negotiator capped at maxAttempts query calls.
// A non-positive maxAttempts selects DefaultMaxAttempts and a nil alloc
// selects the Go heap.
func NewNegotiator(maxAttempts int, alloc Allocator) *Negotiator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if alloc == nil {
		alloc = heapAllocator{}
	}
	return &Negotiator{maxAttempts: maxAttempts, alloc: alloc}
}

// Do negotiates a buffer for query and passes the valid bytes to use.
// The buffer is released on every exit path, so use must not retain data.
func (n *Negotiator) Do(name string, query QueryFunc, use func(data []byte) error) error {
	start := time.Now()
	defer func() {
		recordQuery(time.Since(start))
	}()

	var (
		buf  []byte
		held bool
	)
	defer func() {
		if held {
			n.alloc.Free(buf)
		}
	}()

	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		recordAttempt()

		res := query(buf)
		switch res.Status {
		case QuerySuccess:
			size := int(res.Size)
			if size > len(buf) {
				size = len(buf)
			}
			return use(buf[:size])
		case QueryTooSmall:
			if held {
				n.alloc.Free(buf)
				buf, held = nil, false
			}
			buf, held = n.alloc.Alloc(int(res.Size)), true
			recordReallocation()
		default:
			recordQueryFailure()
			return &DetectError{Kind: KindOtherFailure, Query: name, Code: res.Code, Attempts: attempt}
		}
	}

	recordRetryExhausted()
	return &DetectError{Kind: KindRetryExhausted, Query: name, Attempts: n.maxAttempts}
}
