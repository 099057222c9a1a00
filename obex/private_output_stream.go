package obex

import "bytes"

// privateOutputStream buffers body bytes the caller writes before the
// operation flushes them into packets. When the buffer reaches the packet's
// body capacity a continuation send is triggered on the writing goroutine.
type privateOutputStream struct {
	op          *ClientOperation
	buf         bytes.Buffer
	maxBuffered int
	closed      bool
}

func newPrivateOutputStream(op *ClientOperation, maxBuffered int) *privateOutputStream {
	return &privateOutputStream{op: op, maxBuffered: maxBuffered}
}

// Write appends p to the body buffer, flushing packets whenever the buffer
// fills. Writing after Close fails.
func (s *privateOutputStream) Write(p []byte) (int, error) {
	op := s.op
	op.mu.Lock()
	defer op.mu.Unlock()

	if s.closed {
		return 0, &StateError{"write on closed output stream"}
	}
	if err := op.ensureOpenLocked(); err != nil {
		return 0, err
	}

	written := 0
	for len(p) > 0 {
		room := s.maxBuffered - s.buf.Len()
		if room <= 0 {
			worked, err := op.continueOperationLocked(false)
			if err != nil {
				return written, err
			}
			if !worked {
				// the exchange already finished: no packet will ever drain
				// the buffer, so retrying cannot make progress
				return written, &StateError{"operation has already exchanged all data"}
			}
			continue
		}
		chunk := room
		if chunk > len(p) {
			chunk = len(p)
		}
		s.buf.Write(p[:chunk])
		written += chunk
		p = p[chunk:]

		if s.buf.Len() >= s.maxBuffered {
			if _, err := op.continueOperationLocked(false); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Close flushes any remaining buffered body, lets the operation send its
// final packet(s), and marks the stream closed. Closing twice is a no-op.
func (s *privateOutputStream) Close() error {
	op := s.op
	op.mu.Lock()
	defer op.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return op.streamClosedLocked(false)
}

// buffered returns the number of bytes awaiting transmission. Caller holds
// the operation lock.
func (s *privateOutputStream) buffered() int {
	return s.buf.Len()
}

// isClosed reports whether the caller has closed the stream. Caller holds
// the operation lock.
func (s *privateOutputStream) isClosed() bool {
	return s.closed
}

// drainTo moves up to n buffered bytes into dst. Caller holds the operation
// lock.
func (s *privateOutputStream) drainTo(dst *bytes.Buffer, n int) {
	dst.Write(s.buf.Next(n))
}

// markClosed force-closes the stream without finalization, used when the
// operation fails fatally. Caller holds the operation lock.
func (s *privateOutputStream) markClosed() {
	s.closed = true
}
