package obex

// OBEX request opcodes (IrOBEX 1.2, Section 3.3). The high bit marks the
// final packet of a request; CONNECT, DISCONNECT, SETPATH and ABORT always
// carry it.
const (
	OpConnect    = 0x80
	OpDisconnect = 0x81
	OpPut        = 0x02
	OpPutFinal   = 0x82
	OpGet        = 0x03
	OpGetFinal   = 0x83
	OpSetPath    = 0x85
	OpAbort      = 0xFF
)

// OpFinalBit is set on the last packet of a multi-packet request.
const OpFinalBit = 0x80

// OpcodeNames maps opcodes to human-readable names (useful for debugging)
var OpcodeNames = map[uint8]string{
	OpConnect:    "CONNECT",
	OpDisconnect: "DISCONNECT",
	OpPut:        "PUT",
	OpPutFinal:   "PUT (final)",
	OpGet:        "GET",
	OpGetFinal:   "GET (final)",
	OpSetPath:    "SETPATH",
	OpAbort:      "ABORT",
}

// OpcodeName returns a printable name for an opcode.
func OpcodeName(opcode uint8) string {
	if name, ok := OpcodeNames[opcode]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsFinal reports whether the opcode has the final bit set.
func IsFinal(opcode uint8) bool {
	return opcode&OpFinalBit != 0
}
