package obex

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OBEX header identifiers (IrOBEX 1.2, Section 2.1). The upper two bits of
// an identifier encode how its value is carried on the wire:
//
//	0x00  null-terminated UTF-16BE text, 2-byte length prefix
//	0x40  byte sequence, 2-byte length prefix
//	0x80  single byte
//	0xC0  4-byte big-endian quantity
const (
	HeaderCount         = 0xC0
	HeaderName          = 0x01
	HeaderType          = 0x42
	HeaderLength        = 0xC3
	HeaderTimeISO       = 0x44
	HeaderTime4Byte     = 0xC4
	HeaderDescription   = 0x05
	HeaderTarget        = 0x46
	HeaderHTTP          = 0x47
	HeaderBody          = 0x48
	HeaderEndOfBody     = 0x49
	HeaderWho           = 0x4A
	HeaderConnectionID  = 0xCB
	HeaderAppParameter  = 0x4C
	HeaderAuthChallenge = 0x4D
	HeaderAuthResponse  = 0x4E
	HeaderObjectClass   = 0x51
)

// Header encoding classes, selected by the top two identifier bits.
const (
	headerClassMask    = 0xC0
	headerClassUnicode = 0x00
	headerClassBytes   = 0x40
	headerClassByte    = 0x80
	headerClassUint32  = 0xC0
)

// timeISOLayout is the IrOBEX ISO 8601 UTC timestamp form.
const timeISOLayout = "20060102T150405Z"

// HeaderSet is an ordered collection of OBEX header values keyed by
// identifier, plus the response code decoded from the most recent reply.
// Request header sets are built by the caller and consumed as packets are
// sent; reply header sets are populated by the transport's decode step.
type HeaderSet struct {
	// ResponseCode holds the code of the last decoded reply, or -1 if no
	// reply has been received yet.
	ResponseCode int

	// AuthChallenge and AuthResponse carry raw OBEX authentication header
	// blobs. They are appended after the regular headers when encoding.
	AuthChallenge []byte
	AuthResponse  []byte

	order  []uint8
	values map[uint8]interface{}
}

// NewHeaderSet creates an empty header set with no response code.
func NewHeaderSet() *HeaderSet {
	return &HeaderSet{
		ResponseCode: responseNone,
		values:       make(map[uint8]interface{}),
	}
}

// SetHeader stores a header value. The value's Go type must match the
// identifier's encoding class: string for unicode headers, []byte for byte
// sequences, byte for single-byte headers and uint32 for 4-byte quantities.
// HeaderTimeISO additionally accepts time.Time. Body and End-of-Body are
// rejected; body bytes are carried by the operation's streams, not by
// header sets.
func (h *HeaderSet) SetHeader(id uint8, value interface{}) error {
	if id == HeaderBody || id == HeaderEndOfBody {
		return fmt.Errorf("obex: body headers are carried by the operation streams, not header sets")
	}

	switch id & headerClassMask {
	case headerClassUnicode:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("obex: header 0x%02X requires a string value, got %T", id, value)
		}
	case headerClassBytes:
		if id == HeaderTimeISO {
			if _, ok := value.(time.Time); ok {
				break
			}
		}
		b, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("obex: header 0x%02X requires a []byte value, got %T", id, value)
		}
		dup := make([]byte, len(b))
		copy(dup, b)
		value = dup
	case headerClassByte:
		if _, ok := value.(byte); !ok {
			return fmt.Errorf("obex: header 0x%02X requires a byte value, got %T", id, value)
		}
	case headerClassUint32:
		if _, ok := value.(uint32); !ok {
			return fmt.Errorf("obex: header 0x%02X requires a uint32 value, got %T", id, value)
		}
	}

	if _, exists := h.values[id]; !exists {
		h.order = append(h.order, id)
	}
	h.values[id] = value
	return nil
}

// Header returns the stored value for an identifier.
func (h *HeaderSet) Header(id uint8) (interface{}, bool) {
	v, ok := h.values[id]
	return v, ok
}

// DeleteHeader removes a header if present.
func (h *HeaderSet) DeleteHeader(id uint8) {
	if _, ok := h.values[id]; !ok {
		return
	}
	delete(h.values, id)
	for i, existing := range h.order {
		if existing == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// HeaderList returns the stored identifiers in insertion order.
func (h *HeaderSet) HeaderList() []uint8 {
	list := make([]uint8, len(h.order))
	copy(list, h.order)
	return list
}

// Len returns the number of stored headers, excluding auth blobs.
func (h *HeaderSet) Len() int {
	return len(h.order)
}

// Clone returns a deep copy. Byte-sequence values and auth blobs are
// duplicated so the copy never aliases the original.
func (h *HeaderSet) Clone() *HeaderSet {
	c := NewHeaderSet()
	c.ResponseCode = h.ResponseCode
	for _, id := range h.order {
		c.order = append(c.order, id)
		v := h.values[id]
		if b, ok := v.([]byte); ok {
			dup := make([]byte, len(b))
			copy(dup, b)
			v = dup
		}
		c.values[id] = v
	}
	if h.AuthChallenge != nil {
		c.AuthChallenge = make([]byte, len(h.AuthChallenge))
		copy(c.AuthChallenge, h.AuthChallenge)
	}
	if h.AuthResponse != nil {
		c.AuthResponse = make([]byte, len(h.AuthResponse))
		copy(c.AuthResponse, h.AuthResponse)
	}
	return c
}

// merge copies every entry of other into h, overwriting duplicates, and
// carries over any auth blobs.
func (h *HeaderSet) merge(other *HeaderSet) {
	for _, id := range other.order {
		v := other.values[id]
		if b, ok := v.([]byte); ok {
			dup := make([]byte, len(b))
			copy(dup, b)
			v = dup
		}
		if _, exists := h.values[id]; !exists {
			h.order = append(h.order, id)
		}
		h.values[id] = v
	}
	if other.AuthChallenge != nil {
		h.AuthChallenge = make([]byte, len(other.AuthChallenge))
		copy(h.AuthChallenge, other.AuthChallenge)
	}
	if other.AuthResponse != nil {
		h.AuthResponse = make([]byte, len(other.AuthResponse))
		copy(h.AuthResponse, other.AuthResponse)
	}
}

// SetName sets the Name header (object name).
func (h *HeaderSet) SetName(name string) {
	h.SetHeader(HeaderName, name)
}

// Name returns the Name header.
func (h *HeaderSet) Name() (string, bool) {
	v, ok := h.values[HeaderName]
	if !ok {
		return "", false
	}
	return v.(string), true
}

// SetMimeType sets the Type header (MIME type of the object).
func (h *HeaderSet) SetMimeType(mimeType string) {
	// The Type header is a byte sequence on the wire but is always
	// null-terminated ASCII text.
	h.SetHeader(HeaderType, append([]byte(mimeType), 0))
}

// MimeType returns the Type header with any trailing null stripped.
func (h *HeaderSet) MimeType() (string, bool) {
	v, ok := h.values[HeaderType]
	if !ok {
		return "", false
	}
	b := v.([]byte)
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b), true
}

// SetLength sets the Length header (object size in bytes).
func (h *HeaderSet) SetLength(length uint32) {
	h.SetHeader(HeaderLength, length)
}

// Length returns the Length header.
func (h *HeaderSet) Length() (uint32, bool) {
	v, ok := h.values[HeaderLength]
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}

// SetConnectionID sets the Connection ID assigned by the server at CONNECT.
func (h *HeaderSet) SetConnectionID(id uint32) {
	h.SetHeader(HeaderConnectionID, id)
}

// ConnectionID returns the Connection ID header.
func (h *HeaderSet) ConnectionID() (uint32, bool) {
	v, ok := h.values[HeaderConnectionID]
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}

// SetTarget sets the Target header to a 16-byte service UUID.
func (h *HeaderSet) SetTarget(id uuid.UUID) {
	h.SetHeader(HeaderTarget, id[:])
}

// Target returns the Target header as a UUID.
func (h *HeaderSet) Target() (uuid.UUID, bool) {
	return h.uuidHeader(HeaderTarget)
}

// Who returns the Who header as a UUID. Servers echo the matched Target
// here in a directed CONNECT response.
func (h *HeaderSet) Who() (uuid.UUID, bool) {
	return h.uuidHeader(HeaderWho)
}

func (h *HeaderSet) uuidHeader(id uint8) (uuid.UUID, bool) {
	v, ok := h.values[id]
	if !ok {
		return uuid.UUID{}, false
	}
	parsed, err := uuid.FromBytes(v.([]byte))
	if err != nil {
		return uuid.UUID{}, false
	}
	return parsed, true
}
