package obex

// BodySink receives object body bytes decoded from reply packets. A
// transport calls WriteBody from inside SendRequest, on the goroutine that
// is driving the exchange, so implementations need no locking of their own.
type BodySink interface {
	WriteBody(p []byte)
}

// SessionTransport is the packet-exchange service a ClientOperation drives.
// It owns the physical connection and the negotiated maximum packet size,
// and completes one synchronous request/reply exchange per call.
//
// SendRequest frames and transmits one request packet with the given opcode
// and encoded header block (which may be nil), then receives the reply:
// it sets reply.ResponseCode, decodes any reply headers into reply, and
// delivers Body/End-of-Body payload bytes to body when it is non-nil. The
// returned bool reports whether the reply code was ResponseContinue, i.e.
// whether the peer expects the exchange to continue.
//
// A transport accepts one in-flight exchange at a time; SetRequestInactive
// releases the slot held by the current operation.
type SessionTransport interface {
	SendRequest(opcode uint8, headers []byte, reply *HeaderSet, body BodySink) (bool, error)
	EnsureOpen() error
	SetRequestInactive()
}
