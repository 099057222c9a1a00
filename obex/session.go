package obex

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/user/goobex/logger"
	"github.com/user/goobex/util"
)

// OBEX protocol version carried in CONNECT packets (1.0 encoded as 0x10).
const obexVersion = 0x10

// MinPacketSize is the smallest maximum-packet-size a peer may advertise;
// values below it are clamped up.
const MinPacketSize = 255

// SETPATH flag bits.
const (
	setPathBackup   = 0x01
	setPathNoCreate = 0x02
)

const logPrefix = "obex"

// ClientSession drives OBEX packets over a byte stream and creates client
// operations bound to it. It implements SessionTransport. One operation may
// be in flight at a time; the slot is released when the operation closes.
//
// The session owns packet framing only. Establishing the underlying stream
// (TCP, RFCOMM, ...) is the caller's business.
type ClientSession struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser

	open            bool
	connected       bool
	requestActive   bool
	maxTxPacketSize int

	connectionID    uint32
	hasConnectionID bool
}

// NewClientSession wraps an established byte stream. The packet size stays
// at the protocol minimum until Connect negotiates a larger one.
func NewClientSession(conn io.ReadWriteCloser) *ClientSession {
	return &ClientSession{
		conn:            conn,
		open:            true,
		maxTxPacketSize: MinPacketSize,
	}
}

// Connect performs the CONNECT exchange: it proposes the largest receive
// packet size the length field can frame, adopts the peer's advertised size
// (clamped to the protocol bounds) and captures a Connection ID header if
// the server assigned one. The reply header set is returned with its
// response code populated.
func (s *ClientSession) Connect(headers *HeaderSet) (*HeaderSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, &StateError{"session is closed"}
	}
	if s.connected {
		return nil, &StateError{"session is already connected"}
	}
	if s.requestActive {
		return nil, &StateError{"another operation is in progress"}
	}

	var headerBlock []byte
	if headers != nil {
		var err error
		headerBlock, err = EncodeHeaders(headers, false)
		if err != nil {
			return nil, err
		}
	}

	payload := make([]byte, 4+len(headerBlock))
	payload[0] = obexVersion
	payload[1] = 0 // flags
	binary.BigEndian.PutUint16(payload[2:4], uint16(MaxPacketLength))
	copy(payload[4:], headerBlock)

	code, data, err := s.exchangeLocked(OpConnect, payload)
	if err != nil {
		return nil, wrapTransportErr(OpConnect, err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("obex: CONNECT reply too short (%d bytes)", len(data))
	}

	reply := NewHeaderSet()
	reply.ResponseCode = code
	if _, err := DecodeHeaders(data[4:], reply); err != nil {
		return nil, err
	}

	if code == ResponseOK {
		maxTx := int(binary.BigEndian.Uint16(data[2:4]))
		if maxTx > MaxPacketLength {
			maxTx = MaxPacketLength
		}
		if maxTx < MinPacketSize {
			maxTx = MinPacketSize
		}
		s.maxTxPacketSize = maxTx
		s.connected = true
		if id, ok := reply.ConnectionID(); ok {
			s.connectionID = id
			s.hasConnectionID = true
		}
		logger.Debug(logPrefix, "connected, max packet size %d", maxTx)
	}
	return reply, nil
}

// Disconnect performs the DISCONNECT exchange and drops the connected state
// on an OK reply.
func (s *ClientSession) Disconnect(headers *HeaderSet) (*HeaderSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, &StateError{"session is closed"}
	}
	if !s.connected {
		return nil, &StateError{"session is not connected"}
	}
	if s.requestActive {
		return nil, &StateError{"another operation is in progress"}
	}

	request := s.buildRequestLocked(headers)
	headerBlock, err := EncodeHeaders(request, false)
	if err != nil {
		return nil, err
	}

	code, data, err := s.exchangeLocked(OpDisconnect, headerBlock)
	if err != nil {
		return nil, wrapTransportErr(OpDisconnect, err)
	}

	reply := NewHeaderSet()
	reply.ResponseCode = code
	if _, err := DecodeHeaders(data, reply); err != nil {
		return nil, err
	}
	if code == ResponseOK {
		s.connected = false
	}
	return reply, nil
}

// SetPath changes the server's current folder. backup moves one level up
// (the name is ignored); an empty name without backup selects the root
// folder. When create is false the server must not create a missing folder.
func (s *ClientSession) SetPath(name string, backup, create bool, headers *HeaderSet) (*HeaderSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, &StateError{"session is closed"}
	}
	if !s.connected {
		return nil, &StateError{"session is not connected"}
	}
	if s.requestActive {
		return nil, &StateError{"another operation is in progress"}
	}

	request := s.buildRequestLocked(headers)
	if !backup {
		request.SetName(name)
	}
	headerBlock, err := EncodeHeaders(request, false)
	if err != nil {
		return nil, err
	}

	var flags byte
	if backup {
		flags |= setPathBackup
	}
	if !create {
		flags |= setPathNoCreate
	}
	payload := make([]byte, 2+len(headerBlock))
	payload[0] = flags
	payload[1] = 0 // constants, reserved
	copy(payload[2:], headerBlock)

	code, data, err := s.exchangeLocked(OpSetPath, payload)
	if err != nil {
		return nil, wrapTransportErr(OpSetPath, err)
	}

	reply := NewHeaderSet()
	reply.ResponseCode = code
	if _, err := DecodeHeaders(data, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Get creates a GET operation carrying the given headers. The session
// accepts one operation at a time; a second call fails until the first
// operation is closed.
func (s *ClientSession) Get(headers *HeaderSet) (*ClientOperation, error) {
	return s.newOperation(headers, true)
}

// Put creates a PUT operation carrying the given headers, under the same
// one-at-a-time rule as Get.
func (s *ClientSession) Put(headers *HeaderSet) (*ClientOperation, error) {
	return s.newOperation(headers, false)
}

func (s *ClientSession) newOperation(headers *HeaderSet, get bool) (*ClientOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, &StateError{"session is closed"}
	}
	if !s.connected {
		return nil, &StateError{"session is not connected"}
	}
	if s.requestActive {
		return nil, &StateError{"another operation is in progress"}
	}

	s.requestActive = true
	return NewClientOperation(s, s.maxTxPacketSize, s.buildRequestLocked(headers), get), nil
}

// buildRequestLocked assembles a request header set carrying the session's
// Connection ID (when assigned) plus the caller's headers.
func (s *ClientSession) buildRequestLocked(headers *HeaderSet) *HeaderSet {
	request := NewHeaderSet()
	if s.hasConnectionID {
		request.SetConnectionID(s.connectionID)
	}
	if headers != nil {
		request.merge(headers)
	}
	return request
}

// SendRequest implements SessionTransport: it frames one request packet,
// transmits it, reads the reply, populates the reply header set and streams
// any body payload into the sink. The bool mirrors a Continue reply.
func (s *ClientSession) SendRequest(opcode uint8, headers []byte, reply *HeaderSet, body BodySink) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return false, &StateError{"session is closed"}
	}
	if packetHeaderLength+len(headers) > s.maxTxPacketSize {
		return false, fmt.Errorf("obex: packet of %d bytes exceeds negotiated max packet size %d",
			packetHeaderLength+len(headers), s.maxTxPacketSize)
	}

	code, data, err := s.exchangeLocked(opcode, headers)
	if err != nil {
		return false, wrapTransportErr(opcode, err)
	}

	reply.ResponseCode = code
	if len(data) > 0 {
		bodyBytes, err := DecodeHeaders(data, reply)
		if err != nil {
			return false, err
		}
		if body != nil && len(bodyBytes) > 0 {
			body.WriteBody(bodyBytes)
		}
	}
	return code == ResponseContinue, nil
}

// exchangeLocked writes one framed packet and reads the matching reply,
// returning the response code and the reply bytes after the 3-byte prefix.
func (s *ClientSession) exchangeLocked(opcode uint8, payload []byte) (int, []byte, error) {
	packetLength := packetHeaderLength + len(payload)
	if packetLength > MaxPacketLength {
		return 0, nil, fmt.Errorf("obex: packet length %d overflows the length field", packetLength)
	}

	packet := make([]byte, packetLength)
	packet[0] = opcode
	binary.BigEndian.PutUint16(packet[1:3], uint16(packetLength))
	copy(packet[3:], payload)

	logger.Trace(logPrefix, "-> %s (%d bytes)\n%s", OpcodeName(opcode), packetLength, util.HexDump(packet))
	if _, err := s.conn.Write(packet); err != nil {
		return 0, nil, err
	}

	var prefix [packetHeaderLength]byte
	if _, err := io.ReadFull(s.conn, prefix[:]); err != nil {
		return 0, nil, err
	}
	code := int(prefix[0])
	replyLength := int(binary.BigEndian.Uint16(prefix[1:3]))
	if replyLength < packetHeaderLength || replyLength > MaxPacketLength {
		return 0, nil, fmt.Errorf("obex: invalid reply length %d", replyLength)
	}

	data := make([]byte, replyLength-packetHeaderLength)
	if _, err := io.ReadFull(s.conn, data); err != nil {
		return 0, nil, err
	}
	logger.Trace(logPrefix, "<- %s (0x%02X, %d bytes)", ResponseName(code), code, replyLength)
	return code, data, nil
}

// EnsureOpen implements SessionTransport.
func (s *ClientSession) EnsureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return &StateError{"session is closed"}
	}
	return nil
}

// SetRequestInactive implements SessionTransport: it releases the
// one-operation-at-a-time slot.
func (s *ClientSession) SetRequestInactive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestActive = false
}

// Connected reports whether a CONNECT exchange has succeeded and no
// DISCONNECT has followed.
func (s *ClientSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// MaxPacketSize returns the negotiated maximum transmit packet size.
func (s *ClientSession) MaxPacketSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxTxPacketSize
}

// Close closes the underlying stream. Idempotent.
func (s *ClientSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.connected = false
	return s.conn.Close()
}
