package obex

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// operationState tracks where a ClientOperation is in its lifecycle.
type operationState int

const (
	stateOpen    operationState = iota // created, no packet exchanged yet
	stateSending                       // request packets being exchanged
	stateDone                          // terminal reply received, aborted or closed
)

// ClientOperation drives one logical GET or PUT exchange against a session
// transport. It owns the request and reply header sets, fragments headers
// and body bytes across packets as the negotiated packet size requires, and
// hands the caller stream adapters for the object body.
//
// All methods, including reads and writes on the streams it returns, run
// under a single per-operation mutex: one goroutine at a time drives the
// packet exchange, and a blocked read pulls continuation packets on the
// calling goroutine.
type ClientOperation struct {
	mu      sync.Mutex
	session SessionTransport

	maxPacketSize int
	get           bool

	state         operationState
	closed        bool   // Close released the session slot
	endOfBodySent bool   // the 0x49 header has been emitted
	faultMsg      string // sticky fault set by abort or a fatal send failure

	requestHeader *HeaderSet
	replyHeader   *HeaderSet

	in         *privateInputStream
	out        *privateOutputStream
	inputOpen  bool
	outputOpen bool

	outBuffer bytes.Buffer // scratch buffer for assembling one packet
}

// NewClientOperation creates an operation bound to a session transport.
// maxPacketSize is the packet size negotiated at session level; get selects
// GET over PUT. The supplied headers are deep-copied, so later mutation of
// the caller's set has no effect on the operation.
func NewClientOperation(session SessionTransport, maxPacketSize int, headers *HeaderSet, get bool) *ClientOperation {
	op := &ClientOperation{
		session:       session,
		maxPacketSize: maxPacketSize,
		get:           get,
		replyHeader:   NewHeaderSet(),
	}
	if headers != nil {
		op.requestHeader = headers.Clone()
	} else {
		op.requestHeader = NewHeaderSet()
	}
	return op
}

// OpenInputStream returns the stream carrying the object body received from
// the peer. For a GET operation this sends the request headers immediately,
// since the reply body cannot arrive before them. At most one input stream
// may be opened per operation.
func (op *ClientOperation) OpenInputStream() (io.ReadCloser, error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if err := op.ensureOpenLocked(); err != nil {
		return nil, err
	}
	if op.inputOpen {
		return nil, &StateError{"input stream already open"}
	}

	if op.get {
		// GET semantics: the request headers go out before any body is
		// available to read
		if op.in == nil {
			if err := op.startExchangeLocked(); err != nil {
				return nil, err
			}
		}
	} else if op.in == nil {
		op.in = newPrivateInputStream(op)
	}

	op.inputOpen = true
	return op.in, nil
}

// OpenOutputStream returns the stream the caller writes the outbound object
// body to. No packet is sent until the buffer fills or the stream closes.
// At most one output stream may be opened per operation.
func (op *ClientOperation) OpenOutputStream() (io.WriteCloser, error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if err := op.ensureOpenLocked(); err != nil {
		return nil, err
	}
	if err := op.ensureNotDoneLocked(); err != nil {
		return nil, err
	}
	if op.outputOpen {
		return nil, &StateError{"output stream already open"}
	}

	if op.out == nil {
		op.out = newPrivateOutputStream(op, op.bodyCapacityLocked())
	}
	op.outputOpen = true
	return op.out, nil
}

// SendHeaders merges the given entries into the pending request header set,
// to be carried by the next packet sent.
func (op *ClientOperation) SendHeaders(headers *HeaderSet) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if err := op.ensureOpenLocked(); err != nil {
		return err
	}
	if op.state == stateDone {
		return &StateError{"operation has already exchanged all data"}
	}
	if headers == nil {
		return &StateError{"headers may not be nil"}
	}
	op.requestHeader.merge(headers)
	return nil
}

// Abort cancels the exchange. If a reply is still pending (the last code was
// Continue) it sends an ABORT packet and requires an OK reply; aborting an
// operation that already ended fails with a StateError. The operation is
// closed afterwards either way, and subsequent calls fail with an
// "operation aborted" fault.
func (op *ClientOperation) Abort() error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if err := op.ensureOpenLocked(); err != nil {
		return err
	}
	if op.state == stateDone && op.replyHeader.ResponseCode != ResponseContinue {
		return &StateError{"operation has already ended"}
	}

	op.faultMsg = "operation aborted"
	if op.state != stateDone && op.replyHeader.ResponseCode == ResponseContinue {
		op.state = stateDone
		// no headers to send and none expected back
		if _, err := op.session.SendRequest(OpAbort, nil, op.replyHeader, nil); err != nil {
			op.closeLocked()
			return wrapTransportErr(OpAbort, err)
		}
		if op.replyHeader.ResponseCode != ResponseOK {
			op.closeLocked()
			return &ProtocolViolationError{Opcode: OpAbort, ResponseCode: op.replyHeader.ResponseCode}
		}
	}

	op.closeLocked()
	return nil
}

// ResponseCode returns the terminal response code of the exchange. If no
// reply has arrived yet, or the last reply was Continue, it first drives the
// pending exchange to completion.
func (op *ClientOperation) ResponseCode() (int, error) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.replyHeader.ResponseCode == responseNone ||
		op.replyHeader.ResponseCode == ResponseContinue {
		if err := op.ensureOpenLocked(); err != nil {
			return 0, err
		}
		if op.in == nil {
			if err := op.startExchangeLocked(); err != nil {
				return 0, err
			}
		}
	}
	return op.replyHeader.ResponseCode, nil
}

// ReceivedHeader returns the headers decoded from the peer's replies so far.
func (op *ClientOperation) ReceivedHeader() (*HeaderSet, error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if err := op.ensureOpenLocked(); err != nil {
		return nil, err
	}
	return op.replyHeader, nil
}

// MimeType returns the Type header of the reply, or "" if not present.
func (op *ClientOperation) MimeType() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	t, _ := op.replyHeader.MimeType()
	return t
}

// ObjectLength returns the Length header of the reply, or -1 if not present.
func (op *ClientOperation) ObjectLength() int64 {
	op.mu.Lock()
	defer op.mu.Unlock()
	if length, ok := op.replyHeader.Length(); ok {
		return int64(length)
	}
	return -1
}

// Done reports whether the operation reached its terminal state.
func (op *ClientOperation) Done() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state == stateDone
}

// Close marks the operation and its streams closed and releases the session
// slot. It is idempotent and does not re-validate protocol state.
func (op *ClientOperation) Close() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.closeLocked()
	return nil
}

// HeaderLength returns the encoded size of the pending request header block.
func (op *ClientOperation) HeaderLength() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	block, _ := EncodeHeaders(op.requestHeader, false)
	return len(block)
}

func (op *ClientOperation) closeLocked() {
	op.closed = true
	op.inputOpen = false
	op.outputOpen = false
	op.session.SetRequestInactive()
}

func (op *ClientOperation) ensureOpenLocked() error {
	if err := op.session.EnsureOpen(); err != nil {
		return err
	}
	if op.faultMsg != "" {
		return &StateError{op.faultMsg}
	}
	if op.closed {
		return &StateError{"operation has already ended"}
	}
	return nil
}

func (op *ClientOperation) ensureNotDoneLocked() error {
	if op.state == stateDone {
		return &StateError{"operation has completed"}
	}
	return nil
}

// bodySinkLocked returns the input stream as a sink for reply body bytes,
// or a nil interface when no input stream exists yet.
func (op *ClientOperation) bodySinkLocked() BodySink {
	if op.in == nil {
		return nil
	}
	return op.in
}

// bodyCapacityLocked is the number of body bytes one packet can carry next
// to the current request headers, the 3-byte packet prefix and the 3-byte
// body header.
func (op *ClientOperation) bodyCapacityLocked() int {
	block, _ := EncodeHeaders(op.requestHeader, false)
	capacity := op.maxPacketSize - BasePacketLength - len(block)
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// startExchangeLocked sends the initial request and keeps exchanging packets
// while there is request data to flush and the peer answers Continue.
func (op *ClientOperation) startExchangeLocked() error {
	if op.in == nil {
		op.in = newPrivateInputStream(op)
	}
	if op.state == stateDone {
		return nil
	}
	op.state = stateSending

	opcode, finalOpcode := uint8(OpGet), uint8(OpGetFinal)
	if !op.get {
		opcode, finalOpcode = OpPut, OpPutFinal
	}

	op.replyHeader.ResponseCode = ResponseContinue
	more := true
	for more && op.replyHeader.ResponseCode == ResponseContinue {
		var err error
		more, err = op.sendPacketLocked(opcode)
		if err != nil {
			return err
		}
	}

	if op.replyHeader.ResponseCode == ResponseContinue {
		if _, err := op.session.SendRequest(finalOpcode, nil, op.replyHeader, op.bodySinkLocked()); err != nil {
			return wrapTransportErr(finalOpcode, err)
		}
	}
	if op.replyHeader.ResponseCode != ResponseContinue {
		op.state = stateDone
	}
	return nil
}

// continueOperationLocked is invoked by a stream that has no immediately
// available data while the operation is unfinished. inStream selects which
// stream is asking. It reports whether any exchange work was performed.
func (op *ClientOperation) continueOperationLocked(inStream bool) (bool, error) {
	if op.get {
		switch {
		case inStream && op.state != stateDone:
			// pull the next reply packet for the input stream
			op.state = stateSending
			if _, err := op.session.SendRequest(OpGetFinal, nil, op.replyHeader, op.bodySinkLocked()); err != nil {
				return false, wrapTransportErr(OpGetFinal, err)
			}
			if op.replyHeader.ResponseCode != ResponseContinue {
				op.state = stateDone
			}
			return true, nil

		case !inStream && op.state != stateDone:
			// flush additional GET criteria from the output stream
			if op.in == nil {
				op.in = newPrivateInputStream(op)
			}
			op.state = stateSending
			if _, err := op.sendPacketLocked(OpGet); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if !inStream && op.state != stateDone {
		// flush buffered body with another PUT packet
		if op.replyHeader.ResponseCode == responseNone {
			op.replyHeader.ResponseCode = ResponseContinue
		}
		op.state = stateSending
		if _, err := op.sendPacketLocked(OpPut); err != nil {
			return false, err
		}
		return true, nil
	}
	// reading on a PUT has no continuation to perform
	return false, nil
}

// streamClosedLocked finalizes the exchange when one of the streams closes.
func (op *ClientOperation) streamClosedLocked(inStream bool) error {
	if !op.get {
		return op.putStreamClosedLocked(inStream)
	}
	return op.getStreamClosedLocked(inStream)
}

func (op *ClientOperation) putStreamClosedLocked(inStream bool) error {
	if inStream || op.state == stateDone {
		// input closing after the exchange finished is a no-op confirmation
		return nil
	}

	// drain whatever body is still buffered
	more := true
	if op.out != nil && op.out.buffered() <= 0 {
		block, err := EncodeHeaders(op.requestHeader, false)
		if err != nil {
			return err
		}
		if len(block) <= 0 {
			more = false
		}
	}
	if op.replyHeader.ResponseCode == responseNone {
		op.replyHeader.ResponseCode = ResponseContinue
	}
	op.state = stateSending

	for more && op.replyHeader.ResponseCode == ResponseContinue {
		var err error
		more, err = op.sendPacketLocked(OpPut)
		if err != nil {
			op.state = stateDone
			return err
		}
	}

	// after the final PUT exactly one reply is expected
	for op.replyHeader.ResponseCode == ResponseContinue {
		if _, err := op.sendPacketLocked(OpPutFinal); err != nil {
			op.state = stateDone
			return err
		}
	}
	op.state = stateDone
	return nil
}

func (op *ClientOperation) getStreamClosedLocked(inStream bool) error {
	if inStream && op.state != stateDone {
		// finish pulling the reply the caller no longer wants
		if op.replyHeader.ResponseCode == responseNone {
			op.replyHeader.ResponseCode = ResponseContinue
		}
		op.state = stateSending

		for op.replyHeader.ResponseCode == ResponseContinue {
			more, err := op.sendPacketLocked(OpGetFinal)
			if err != nil {
				op.state = stateDone
				return err
			}
			if !more {
				break
			}
		}
		for op.replyHeader.ResponseCode == ResponseContinue {
			if _, err := op.session.SendRequest(OpGetFinal, nil, op.replyHeader, op.bodySinkLocked()); err != nil {
				op.state = stateDone
				return wrapTransportErr(OpGetFinal, err)
			}
		}
		op.state = stateDone
		return nil
	}

	if !inStream && op.state != stateDone {
		// the GET criteria stream closed: flush what remains, then issue
		// the final request; part of the data may already have gone out
		// through continuation sends
		more := true
		if op.out != nil && op.out.buffered() <= 0 {
			more = false
		}
		if op.in == nil {
			op.in = newPrivateInputStream(op)
		}
		op.replyHeader.ResponseCode = ResponseContinue
		op.state = stateSending

		for more && op.replyHeader.ResponseCode == ResponseContinue {
			var err error
			more, err = op.sendPacketLocked(OpGet)
			if err != nil {
				op.state = stateDone
				return err
			}
		}
		if _, err := op.sendPacketLocked(OpGetFinal); err != nil {
			op.state = stateDone
			return err
		}
		if op.replyHeader.ResponseCode != ResponseContinue {
			op.state = stateDone
		}
	}
	return nil
}

// sendPacketLocked assembles and transmits one request packet for opcode,
// fragmenting the header block across packets when it cannot fit, and
// reports whether body data remains buffered after this send.
func (op *ClientOperation) sendPacketLocked(opcode uint8) (bool, error) {
	headerBlock, err := EncodeHeaders(op.requestHeader, true)
	if err != nil {
		return false, err
	}

	bodyLength := -1
	if op.out != nil {
		bodyLength = op.out.buffered()
	}

	if BasePacketLength+len(headerBlock) > op.maxPacketSize {
		// the headers alone overflow the packet: send them in chunks split
		// at header boundaries, each chunk in its own packet
		for start := 0; start != len(headerBlock); {
			end := FindHeaderEnd(headerBlock, start, op.maxPacketSize-BasePacketLength)
			if end == -1 {
				return false, op.failPacketSizeLocked(len(headerBlock))
			}
			more, err := op.session.SendRequest(opcode, headerBlock[start:end], op.replyHeader, op.bodySinkLocked())
			if err != nil {
				return false, wrapTransportErr(opcode, err)
			}
			if !more || op.replyHeader.ResponseCode != ResponseContinue {
				return false, nil
			}
			start = end
		}
		return bodyLength > 0, nil
	}

	out := &op.outBuffer
	out.Reset()
	out.Write(headerBlock)

	morePending := false
	if bodyLength > 0 {
		// room left next to the headers, the packet prefix and the body
		// header framing
		capacity := op.maxPacketSize - len(headerBlock) - BasePacketLength
		if bodyLength > capacity {
			morePending = true
			bodyLength = capacity
		}

		// End-of-Body goes out exactly once, on the chunk that exhausts the
		// buffer after the caller closed the stream, and only on a final
		// opcode
		tag := byte(HeaderBody)
		if op.out.isClosed() && !morePending && !op.endOfBodySent && IsFinal(opcode) {
			tag = HeaderEndOfBody
			op.endOfBodySent = true
		}
		writeBodyHeader(out, tag, bodyLength)
		op.out.drainTo(out, bodyLength)
	}

	if op.outputOpen && bodyLength <= 0 && !op.endOfBodySent {
		// stream open but nothing buffered: an empty body header keeps the
		// exchange alive
		tag := byte(HeaderBody)
		if IsFinal(opcode) {
			tag = HeaderEndOfBody
			op.endOfBodySent = true
		}
		writeBodyHeader(out, tag, 0)
	}

	var packet []byte
	if out.Len() > 0 {
		packet = out.Bytes()
	}
	more, err := op.session.SendRequest(opcode, packet, op.replyHeader, op.bodySinkLocked())
	if err != nil {
		return false, wrapTransportErr(opcode, err)
	}
	if !more {
		return false, nil
	}

	if op.out != nil && op.out.buffered() > 0 {
		return true, nil
	}
	return morePending, nil
}

// failPacketSizeLocked records the fatal header-too-large fault and closes
// the operation and its streams.
func (op *ClientOperation) failPacketSizeLocked(headerLength int) error {
	op.faultMsg = "header larger than can be sent in a packet"
	op.state = stateDone

	if op.in != nil {
		op.in.markClosed()
	}
	if op.out != nil {
		op.out.markClosed()
	}
	op.closeLocked()

	return &ProtocolSizeError{HeaderLength: headerLength, MaxPacketSize: op.maxPacketSize}
}

// writeBodyHeader frames a body chunk: tag byte plus a 2-byte big-endian
// length that counts the 3 framing bytes themselves.
func writeBodyHeader(out *bytes.Buffer, tag byte, payloadLength int) {
	framed := payloadLength + 3
	out.WriteByte(tag)
	out.WriteByte(byte(framed >> 8))
	out.WriteByte(byte(framed))
}

// wrapTransportErr turns a transport failure into a TransportError unless it
// already is one.
func wrapTransportErr(opcode uint8, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: OpcodeName(opcode), Err: err}
}
