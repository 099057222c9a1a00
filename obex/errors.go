package obex

import "fmt"

// StateError reports a call that is not legal in the operation's or
// session's current state, such as opening a second input stream or sending
// headers after the exchange has finished. The state it complains about is
// left unchanged.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string {
	return "obex: " + e.Msg
}

// ProtocolSizeError reports a request header block that cannot be split at
// any header boundary to fit the negotiated packet size. It is fatal to the
// operation that raised it.
type ProtocolSizeError struct {
	HeaderLength  int
	MaxPacketSize int
}

func (e *ProtocolSizeError) Error() string {
	return fmt.Sprintf("obex: header of %d bytes cannot be split to fit packet size %d",
		e.HeaderLength, e.MaxPacketSize)
}

// TransportError wraps a send or receive failure in the underlying session
// transport. The operation that observed it can still be aborted or closed
// but can no longer exchange data.
type TransportError struct {
	Op  string // opcode name of the exchange that failed
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("obex: %s exchange failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolViolationError reports a response the protocol does not allow at
// this point, e.g. a non-OK reply to an ABORT.
type ProtocolViolationError struct {
	Opcode       uint8
	ResponseCode int
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("obex: unexpected response %s (0x%02X) to %s",
		ResponseName(e.ResponseCode), e.ResponseCode, OpcodeName(e.Opcode))
}
