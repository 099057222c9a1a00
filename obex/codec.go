package obex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"
)

// BasePacketLength is the per-packet overhead reserved before header or body
// content: the 3-byte request prefix (opcode + length) plus a minimal 3-byte
// body header.
const BasePacketLength = 6

// packetHeaderLength is the fixed request/response prefix: one opcode or
// response-code byte followed by the 2-byte big-endian packet length.
const packetHeaderLength = 3

// MaxPacketLength is the largest packet the 2-byte length field can frame.
const MaxPacketLength = 0xFFFE

// EncodeHeaders serializes a header set into a flat header block. Auth
// challenge and response blobs are appended after the regular headers. When
// consume is true each encoded entry is removed from the set, so headers
// already sent in one packet are not resent by the packets that follow.
func EncodeHeaders(h *HeaderSet, consume bool) ([]byte, error) {
	var out bytes.Buffer

	for _, id := range h.HeaderList() {
		value, _ := h.Header(id)
		if err := appendHeader(&out, id, value); err != nil {
			return nil, err
		}
		if consume {
			h.DeleteHeader(id)
		}
	}

	if h.AuthChallenge != nil {
		appendByteSequence(&out, HeaderAuthChallenge, h.AuthChallenge)
		if consume {
			h.AuthChallenge = nil
		}
	}
	if h.AuthResponse != nil {
		appendByteSequence(&out, HeaderAuthResponse, h.AuthResponse)
		if consume {
			h.AuthResponse = nil
		}
	}

	return out.Bytes(), nil
}

func appendHeader(out *bytes.Buffer, id uint8, value interface{}) error {
	switch id & headerClassMask {
	case headerClassUnicode:
		s := value.(string)
		encoded := utf16.Encode([]rune(s))
		payload := make([]byte, 2*len(encoded)+2) // trailing null terminator
		for i, u := range encoded {
			binary.BigEndian.PutUint16(payload[2*i:], u)
		}
		appendByteSequence(out, id, payload)

	case headerClassBytes:
		if t, ok := value.(time.Time); ok {
			appendByteSequence(out, id, []byte(t.UTC().Format(timeISOLayout)))
			return nil
		}
		appendByteSequence(out, id, value.([]byte))

	case headerClassByte:
		out.WriteByte(id)
		out.WriteByte(value.(byte))

	case headerClassUint32:
		var quad [5]byte
		quad[0] = id
		binary.BigEndian.PutUint32(quad[1:], value.(uint32))
		out.Write(quad[:])
	}
	return nil
}

// appendByteSequence writes a length-prefixed header. The 2-byte length
// counts the tag and length bytes themselves, so an empty payload encodes
// as a length of 3.
func appendByteSequence(out *bytes.Buffer, id uint8, payload []byte) {
	out.WriteByte(id)
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(payload)+3))
	out.Write(length[:])
	out.Write(payload)
}

// DecodeHeaders parses a header block into the given set and returns any
// Body or End-of-Body payload bytes it carried, concatenated in order.
// Regular headers overwrite existing entries; auth blobs are captured on
// the set's AuthChallenge/AuthResponse fields.
func DecodeHeaders(block []byte, h *HeaderSet) ([]byte, error) {
	var body []byte
	i := 0

	for i < len(block) {
		id := block[i]

		switch id & headerClassMask {
		case headerClassByte:
			if i+2 > len(block) {
				return nil, fmt.Errorf("obex: header block truncated in 1-byte header 0x%02X", id)
			}
			h.SetHeader(id, block[i+1])
			i += 2

		case headerClassUint32:
			if i+5 > len(block) {
				return nil, fmt.Errorf("obex: header block truncated in 4-byte header 0x%02X", id)
			}
			h.SetHeader(id, binary.BigEndian.Uint32(block[i+1:i+5]))
			i += 5

		default: // unicode text and byte sequences share the length prefix
			if i+3 > len(block) {
				return nil, fmt.Errorf("obex: header block truncated in header 0x%02X length", id)
			}
			length := int(binary.BigEndian.Uint16(block[i+1 : i+3]))
			if length < 3 || i+length > len(block) {
				return nil, fmt.Errorf("obex: bad length %d for header 0x%02X", length, id)
			}
			payload := block[i+3 : i+length]
			if err := decodeSequenceHeader(h, id, payload, &body); err != nil {
				return nil, err
			}
			i += length
		}
	}

	return body, nil
}

func decodeSequenceHeader(h *HeaderSet, id uint8, payload []byte, body *[]byte) error {
	switch id {
	case HeaderBody, HeaderEndOfBody:
		*body = append(*body, payload...)

	case HeaderAuthChallenge:
		h.AuthChallenge = append([]byte(nil), payload...)

	case HeaderAuthResponse:
		h.AuthResponse = append([]byte(nil), payload...)

	case HeaderTimeISO:
		if t, err := time.Parse(timeISOLayout, string(payload)); err == nil {
			h.SetHeader(id, t)
		} else if t, err := time.ParseInLocation("20060102T150405", string(payload), time.Local); err == nil {
			h.SetHeader(id, t)
		} else {
			h.SetHeader(id, append([]byte(nil), payload...))
		}

	default:
		if id&headerClassMask == headerClassUnicode {
			s, err := decodeUnicode(payload)
			if err != nil {
				return fmt.Errorf("obex: header 0x%02X: %v", id, err)
			}
			h.SetHeader(id, s)
			return nil
		}
		h.SetHeader(id, append([]byte(nil), payload...))
	}
	return nil
}

func decodeUnicode(payload []byte) (string, error) {
	if len(payload)%2 != 0 {
		return "", fmt.Errorf("odd UTF-16 payload length %d", len(payload))
	}
	units := make([]uint16, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		units = append(units, binary.BigEndian.Uint16(payload[i:]))
	}
	// strip the null terminator
	if n := len(units); n > 0 && units[n-1] == 0 {
		units = units[:n-1]
	}
	return string(utf16.Decode(units)), nil
}

// FindHeaderEnd returns the end offset of the last complete header that,
// together with its predecessors from start, fits within maxLength bytes.
// It never splits a single header's payload. It returns -1 when even the
// first header at start does not fit, or when the block is malformed.
func FindHeaderEnd(block []byte, start, maxLength int) int {
	fullLength := 0
	i := start

	for i < len(block) {
		id := block[i]
		var headerLength int

		switch id & headerClassMask {
		case headerClassByte:
			headerLength = 2
		case headerClassUint32:
			headerLength = 5
		default:
			if i+3 > len(block) {
				return -1
			}
			headerLength = int(binary.BigEndian.Uint16(block[i+1 : i+3]))
			if headerLength < 3 {
				return -1
			}
		}

		if i+headerLength > len(block) {
			return -1
		}
		if fullLength+headerLength > maxLength {
			break
		}
		fullLength += headerLength
		i += headerLength
	}

	if fullLength == 0 {
		return -1
	}
	return start + fullLength
}
