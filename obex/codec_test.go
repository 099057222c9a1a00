package obex

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeHeadersWireFormat(t *testing.T) {
	h := NewHeaderSet()
	h.SetName("x")
	h.SetLength(256)

	block, err := EncodeHeaders(h, false)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}

	expected := []byte{
		// Name: 1 UTF-16 unit + null terminator, length counts the prefix
		HeaderName, 0x00, 0x07, 0x00, 'x', 0x00, 0x00,
		// Length: 4-byte big-endian quantity
		HeaderLength, 0x00, 0x00, 0x01, 0x00,
	}
	if !bytes.Equal(block, expected) {
		t.Errorf("block = % x, want % x", block, expected)
	}
}

func TestEncodeHeadersConsume(t *testing.T) {
	h := NewHeaderSet()
	h.SetName("a")
	h.AuthChallenge = []byte{1, 2, 3}

	first, err := EncodeHeaders(h, true)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("first encode produced no bytes")
	}
	if h.Len() != 0 || h.AuthChallenge != nil {
		t.Errorf("consume left entries behind (len=%d, chall=%v)", h.Len(), h.AuthChallenge)
	}

	second, err := EncodeHeaders(h, true)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second encode = % x, want empty", second)
	}
}

func TestDecodeHeaders(t *testing.T) {
	h := NewHeaderSet()
	h.SetName("photo.jpg")
	h.SetMimeType("image/jpeg")
	h.SetLength(1234)
	h.SetConnectionID(7)
	block, err := EncodeHeaders(h, false)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}

	// append two body chunks the way a reply packet would carry them
	var withBody bytes.Buffer
	withBody.Write(block)
	appendByteSequence(&withBody, HeaderBody, []byte("hello "))
	appendByteSequence(&withBody, HeaderEndOfBody, []byte("world"))

	decoded := NewHeaderSet()
	body, err := DecodeHeaders(withBody.Bytes(), decoded)
	if err != nil {
		t.Fatalf("DecodeHeaders failed: %v", err)
	}

	if !bytes.Equal(body, []byte("hello world")) {
		t.Errorf("body = %q, want %q", body, "hello world")
	}
	if name, _ := decoded.Name(); name != "photo.jpg" {
		t.Errorf("Name = %q, want %q", name, "photo.jpg")
	}
	if mt, _ := decoded.MimeType(); mt != "image/jpeg" {
		t.Errorf("MimeType = %q, want %q", mt, "image/jpeg")
	}
	if length, _ := decoded.Length(); length != 1234 {
		t.Errorf("Length = %d, want 1234", length)
	}
	if id, _ := decoded.ConnectionID(); id != 7 {
		t.Errorf("ConnectionID = %d, want 7", id)
	}
}

func TestDecodeHeadersTruncated(t *testing.T) {
	tests := []struct {
		name  string
		block []byte
	}{
		{"cut 4-byte value", []byte{HeaderLength, 0x00, 0x00}},
		{"cut length prefix", []byte{HeaderName, 0x00}},
		{"length overruns block", []byte{HeaderTarget, 0x00, 0x10, 0xAA}},
		{"length below minimum", []byte{HeaderTarget, 0x00, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeHeaders(tt.block, NewHeaderSet()); err == nil {
				t.Errorf("DecodeHeaders(% x) succeeded, want error", tt.block)
			}
		})
	}
}

func TestUnicodeRoundTrip(t *testing.T) {
	h := NewHeaderSet()
	h.SetName("fotos från semestern")

	block, err := EncodeHeaders(h, false)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}
	decoded := NewHeaderSet()
	if _, err := DecodeHeaders(block, decoded); err != nil {
		t.Fatalf("DecodeHeaders failed: %v", err)
	}
	if name, _ := decoded.Name(); name != "fotos från semestern" {
		t.Errorf("Name = %q, want %q", name, "fotos från semestern")
	}
}

func TestTimeISORoundTrip(t *testing.T) {
	stamp := time.Date(2011, 6, 14, 9, 30, 15, 0, time.UTC)
	h := NewHeaderSet()
	h.SetHeader(HeaderTimeISO, stamp)

	block, err := EncodeHeaders(h, false)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}
	decoded := NewHeaderSet()
	if _, err := DecodeHeaders(block, decoded); err != nil {
		t.Fatalf("DecodeHeaders failed: %v", err)
	}
	v, ok := decoded.Header(HeaderTimeISO)
	if !ok {
		t.Fatal("Time header missing after round trip")
	}
	got, ok := v.(time.Time)
	if !ok {
		t.Fatalf("Time header type = %T, want time.Time", v)
	}
	if !got.Equal(stamp) {
		t.Errorf("Time = %v, want %v", got, stamp)
	}
}

// headerBlockOfSize builds a header block of n byte-sequence headers with the
// given payload size each.
func headerBlockOfSize(t *testing.T, n, payloadSize int) []byte {
	t.Helper()
	ids := []uint8{HeaderTarget, HeaderHTTP, HeaderWho, HeaderAppParameter, HeaderObjectClass, HeaderTimeISO}
	if n > len(ids) {
		t.Fatalf("headerBlockOfSize supports at most %d headers", len(ids))
	}
	h := NewHeaderSet()
	for i := 0; i < n; i++ {
		payload := bytes.Repeat([]byte{byte(i + 1)}, payloadSize)
		if err := h.SetHeader(ids[i], payload); err != nil {
			t.Fatalf("SetHeader(0x%02X) failed: %v", ids[i], err)
		}
	}
	block, err := EncodeHeaders(h, false)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}
	return block
}

func TestFindHeaderEnd(t *testing.T) {
	// six 103-byte headers, 618 bytes total
	block := headerBlockOfSize(t, 6, 100)

	tests := []struct {
		name      string
		start     int
		maxLength int
		expected  int
	}{
		{"two headers fit", 0, 249, 206},
		{"exactly one header", 0, 103, 103},
		{"first header does not fit", 0, 102, -1},
		{"from an interior boundary", 206, 249, 412},
		{"tail shorter than max", 515, 249, 618},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end := FindHeaderEnd(block, tt.start, tt.maxLength)
			if end != tt.expected {
				t.Errorf("FindHeaderEnd(start=%d, max=%d) = %d, want %d",
					tt.start, tt.maxLength, end, tt.expected)
			}
		})
	}
}

func TestFindHeaderEndMalformed(t *testing.T) {
	// a byte-sequence header claiming a length below the 3-byte minimum
	block := []byte{HeaderTarget, 0x00, 0x01, 0xAA}
	if end := FindHeaderEnd(block, 0, 255); end != -1 {
		t.Errorf("FindHeaderEnd on malformed block = %d, want -1", end)
	}
}

func TestHeaderBlockSplitRoundTrip(t *testing.T) {
	block := headerBlockOfSize(t, 6, 100) // 618 bytes
	maxChunk := 255 - BasePacketLength    // 249 per packet

	var chunks [][]byte
	for start := 0; start != len(block); {
		end := FindHeaderEnd(block, start, maxChunk)
		if end == -1 {
			t.Fatalf("FindHeaderEnd returned -1 at offset %d", start)
		}
		chunks = append(chunks, block[start:end])
		start = end
	}

	if len(chunks) < 3 {
		t.Errorf("chunk count = %d, want at least 3", len(chunks))
	}
	var rejoined []byte
	for _, c := range chunks {
		if len(c) > maxChunk {
			t.Errorf("chunk of %d bytes exceeds max %d", len(c), maxChunk)
		}
		rejoined = append(rejoined, c...)
	}
	if !bytes.Equal(rejoined, block) {
		t.Error("rejoined chunks do not reproduce the original block")
	}
}
