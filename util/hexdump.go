package util

import (
	"fmt"
	"strings"
)

// hexDumpWidth is the number of bytes rendered per line.
const hexDumpWidth = 16

// HexDump formats binary data as lines of offset-prefixed hex bytes, for
// wire-level trace logging.
func HexDump(data []byte) string {
	var b strings.Builder
	for offset := 0; offset < len(data); offset += hexDumpWidth {
		end := offset + hexDumpWidth
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(&b, "%04x: ", offset)
		for i, octet := range data[offset:end] {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%02x", octet)
		}
		if end < len(data) {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
