package obex

import (
	"bytes"
	"io"
)

// privateInputStream exposes body bytes received from the peer. The buffer
// is fed by the transport during packet exchanges; a read that finds it
// empty pulls continuation packets on the calling goroutine until data
// arrives or the operation finishes.
type privateInputStream struct {
	op     *ClientOperation
	buf    bytes.Buffer
	closed bool
}

func newPrivateInputStream(op *ClientOperation) *privateInputStream {
	return &privateInputStream{op: op}
}

// Read fills p with received body bytes, blocking in continuation exchanges
// while the buffer is empty and the operation is unfinished. It returns
// io.EOF once the operation is done and the buffer is drained.
func (s *privateInputStream) Read(p []byte) (int, error) {
	op := s.op
	op.mu.Lock()
	defer op.mu.Unlock()

	if s.closed {
		return 0, &StateError{"read on closed input stream"}
	}
	if len(p) == 0 {
		return 0, nil
	}

	for s.buf.Len() == 0 {
		if op.state == stateDone {
			return 0, io.EOF
		}
		worked, err := op.continueOperationLocked(true)
		if err != nil {
			return 0, err
		}
		if !worked && s.buf.Len() == 0 {
			// no continuation applies (e.g. reading on a PUT)
			return 0, io.EOF
		}
	}
	return s.buf.Read(p)
}

// Close marks the stream closed and lets the operation run any pending
// exchange to completion. Closing twice is a no-op.
func (s *privateInputStream) Close() error {
	op := s.op
	op.mu.Lock()
	defer op.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return op.streamClosedLocked(true)
}

// WriteBody appends body bytes decoded from a reply packet. The transport
// calls this from inside SendRequest, on the goroutine holding the
// operation lock.
func (s *privateInputStream) WriteBody(p []byte) {
	s.buf.Write(p)
}

// markClosed force-closes the stream without finalization, used when the
// operation fails fatally. Caller holds the operation lock.
func (s *privateInputStream) markClosed() {
	s.closed = true
}
