package obex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
)

// serveOBEX runs a minimal OBEX server on conn: it reads framed request
// packets and answers each with whatever the handler returns. The goroutine
// exits when the connection closes.
func serveOBEX(conn net.Conn, handler func(opcode uint8, payload []byte) []byte) {
	go func() {
		defer conn.Close()
		prefix := make([]byte, 3)
		for {
			if _, err := io.ReadFull(conn, prefix); err != nil {
				return
			}
			length := int(binary.BigEndian.Uint16(prefix[1:3]))
			payload := make([]byte, length-3)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			if _, err := conn.Write(handler(prefix[0], payload)); err != nil {
				return
			}
		}
	}()
}

func respPacket(code uint8, payload []byte) []byte {
	p := make([]byte, 3+len(payload))
	p[0] = code
	binary.BigEndian.PutUint16(p[1:3], uint16(len(p)))
	copy(p[3:], payload)
	return p
}

// connectReply frames a CONNECT response advertising maxTx.
func connectReply(code uint8, maxTx uint16, headers []byte) []byte {
	payload := make([]byte, 4+len(headers))
	payload[0] = obexVersion
	payload[1] = 0
	binary.BigEndian.PutUint16(payload[2:4], maxTx)
	copy(payload[4:], headers)
	return respPacket(code, payload)
}

func bodyChunk(tag byte, payload []byte) []byte {
	b := make([]byte, 3+len(payload))
	b[0] = tag
	binary.BigEndian.PutUint16(b[1:3], uint16(len(payload)+3))
	copy(b[3:], payload)
	return b
}

func connectedSession(t *testing.T, maxTx uint16, connectHeaders []byte,
	handler func(opcode uint8, payload []byte) []byte) *ClientSession {
	t.Helper()

	client, server := net.Pipe()
	serveOBEX(server, func(opcode uint8, payload []byte) []byte {
		if opcode == OpConnect {
			return connectReply(ResponseOK, maxTx, connectHeaders)
		}
		return handler(opcode, payload)
	})

	s := NewClientSession(client)
	t.Cleanup(func() { s.Close() })

	reply, err := s.Connect(nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if reply.ResponseCode != ResponseOK {
		t.Fatalf("CONNECT code = 0x%02X, want 0x%02X", reply.ResponseCode, ResponseOK)
	}
	return s
}

func TestSessionConnectNegotiation(t *testing.T) {
	client, server := net.Pipe()
	var proposed uint16
	serveOBEX(server, func(opcode uint8, payload []byte) []byte {
		if opcode != OpConnect {
			return respPacket(ResponseBadRequest, nil)
		}
		proposed = binary.BigEndian.Uint16(payload[2:4])
		return connectReply(ResponseOK, 512, nil)
	})

	s := NewClientSession(client)
	defer s.Close()

	if s.MaxPacketSize() != MinPacketSize {
		t.Errorf("pre-connect packet size = %d, want %d", s.MaxPacketSize(), MinPacketSize)
	}
	if _, err := s.Connect(nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !s.Connected() {
		t.Error("session not connected after OK reply")
	}
	if proposed != uint16(MaxPacketLength) {
		t.Errorf("proposed packet size = %d, want %d", proposed, MaxPacketLength)
	}
	if s.MaxPacketSize() != 512 {
		t.Errorf("negotiated packet size = %d, want 512", s.MaxPacketSize())
	}
}

func TestSessionConnectClampsSmallSize(t *testing.T) {
	s := connectedSession(t, 64, nil, func(uint8, []byte) []byte {
		return respPacket(ResponseBadRequest, nil)
	})
	if s.MaxPacketSize() != MinPacketSize {
		t.Errorf("packet size = %d, want the %d floor", s.MaxPacketSize(), MinPacketSize)
	}
}

func TestSessionConnectionIDEcho(t *testing.T) {
	idHeaders := NewHeaderSet()
	idHeaders.SetConnectionID(7)
	idBlock, _ := EncodeHeaders(idHeaders, false)

	var (
		mu  sync.Mutex
		got *HeaderSet
	)
	s := connectedSession(t, 255, idBlock, func(opcode uint8, payload []byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		got = NewHeaderSet()
		DecodeHeaders(payload, got)
		return respPacket(ResponseOK, nil)
	})

	h := NewHeaderSet()
	h.SetName("note.txt")
	op, err := s.Put(h)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := op.ResponseCode(); err != nil {
		t.Fatalf("ResponseCode failed: %v", err)
	}
	op.Close()

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("server saw no request")
	}
	if id, ok := got.ConnectionID(); !ok || id != 7 {
		t.Errorf("ConnectionID in request = %d (present %v), want 7", id, ok)
	}
	if name, ok := got.Name(); !ok || name != "note.txt" {
		t.Errorf("Name in request = %q, want %q", name, "note.txt")
	}
}

func TestSessionPutObject(t *testing.T) {
	var (
		mu       sync.Mutex
		received []byte
		finished bool
	)
	s := connectedSession(t, 255, nil, func(opcode uint8, payload []byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		body, err := DecodeHeaders(payload, NewHeaderSet())
		if err != nil {
			return respPacket(ResponseBadRequest, nil)
		}
		received = append(received, body...)
		if IsFinal(opcode) {
			finished = true
			return respPacket(ResponseOK, nil)
		}
		return respPacket(ResponseContinue, nil)
	})

	op, err := s.Put(nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	out, err := op.OpenOutputStream()
	if err != nil {
		t.Fatalf("OpenOutputStream failed: %v", err)
	}

	object := make([]byte, 1000)
	for i := range object {
		object[i] = byte(i * 7)
	}
	if _, err := out.Write(object); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	code, err := op.ResponseCode()
	if err != nil {
		t.Fatalf("ResponseCode failed: %v", err)
	}
	if code != ResponseOK {
		t.Errorf("code = 0x%02X, want 0x%02X", code, ResponseOK)
	}
	op.Close()

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("server never saw a final PUT")
	}
	if !bytes.Equal(received, object) {
		t.Errorf("server received %d bytes that do not match the %d written", len(received), len(object))
	}
}

func TestSessionGetObject(t *testing.T) {
	object := make([]byte, 600)
	for i := range object {
		object[i] = byte(i)
	}

	var mu sync.Mutex
	served := 0
	s := connectedSession(t, 255, nil, func(opcode uint8, payload []byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		chunk := object[served:min(served+200, len(object))]
		served += len(chunk)
		if served < len(object) {
			return respPacket(ResponseContinue, bodyChunk(HeaderBody, chunk))
		}
		return respPacket(ResponseOK, bodyChunk(HeaderEndOfBody, chunk))
	})

	h := NewHeaderSet()
	h.SetName("photo.jpg")
	op, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	in, err := op.OpenInputStream()
	if err != nil {
		t.Fatalf("OpenInputStream failed: %v", err)
	}

	got, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, object) {
		t.Errorf("read %d bytes that do not match the %d-byte object", len(got), len(object))
	}

	code, err := op.ResponseCode()
	if err != nil {
		t.Fatalf("ResponseCode failed: %v", err)
	}
	if code != ResponseOK {
		t.Errorf("code = 0x%02X, want 0x%02X", code, ResponseOK)
	}
	op.Close()
}

func TestSessionSetPath(t *testing.T) {
	var (
		mu    sync.Mutex
		flags byte
		name  string
	)
	s := connectedSession(t, 255, nil, func(opcode uint8, payload []byte) []byte {
		if opcode != OpSetPath {
			return respPacket(ResponseBadRequest, nil)
		}
		mu.Lock()
		defer mu.Unlock()
		flags = payload[0]
		decoded := NewHeaderSet()
		DecodeHeaders(payload[2:], decoded)
		name, _ = decoded.Name()
		return respPacket(ResponseOK, nil)
	})

	reply, err := s.SetPath("photos", false, false, nil)
	if err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}
	if reply.ResponseCode != ResponseOK {
		t.Errorf("code = 0x%02X, want 0x%02X", reply.ResponseCode, ResponseOK)
	}

	mu.Lock()
	defer mu.Unlock()
	if flags != setPathNoCreate {
		t.Errorf("flags = 0x%02X, want 0x%02X", flags, setPathNoCreate)
	}
	if name != "photos" {
		t.Errorf("name = %q, want %q", name, "photos")
	}
}

func TestSessionSetPathBackup(t *testing.T) {
	var (
		mu    sync.Mutex
		flags byte
	)
	s := connectedSession(t, 255, nil, func(opcode uint8, payload []byte) []byte {
		mu.Lock()
		defer mu.Unlock()
		flags = payload[0]
		return respPacket(ResponseOK, nil)
	})

	if _, err := s.SetPath("", true, false, nil); err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if flags != setPathBackup|setPathNoCreate {
		t.Errorf("flags = 0x%02X, want 0x%02X", flags, setPathBackup|setPathNoCreate)
	}
}

func TestSessionSecondOperationBlocked(t *testing.T) {
	s := connectedSession(t, 255, nil, func(uint8, []byte) []byte {
		return respPacket(ResponseOK, nil)
	})

	first, err := s.Get(nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	_, err = s.Put(nil)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Errorf("second operation = %v, want StateError", err)
	}

	first.Close()
	second, err := s.Put(nil)
	if err != nil {
		t.Fatalf("Put after Close failed: %v", err)
	}
	second.Close()
}

func TestSessionDisconnect(t *testing.T) {
	s := connectedSession(t, 255, nil, func(opcode uint8, payload []byte) []byte {
		return respPacket(ResponseOK, nil)
	})

	reply, err := s.Disconnect(nil)
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if reply.ResponseCode != ResponseOK {
		t.Errorf("code = 0x%02X, want 0x%02X", reply.ResponseCode, ResponseOK)
	}
	if s.Connected() {
		t.Error("session still connected after DISCONNECT")
	}

	_, err = s.Get(nil)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Errorf("Get after disconnect = %v, want StateError", err)
	}
}
