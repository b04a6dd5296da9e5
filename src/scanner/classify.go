package scanner

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"rtrader-bridge/src/protocol"
)

const (
	KindEmpty       = "empty"
	KindVendorFrame = "vendor-frame"
	KindJSON        = "json"
	KindHTTP        = "http"
	KindFIX         = "fix"
	KindText        = "text"
	KindBinary      = "binary"
)

// Classify guesses the protocol of a response from its first bytes.
func Classify(data []byte) (kind, description string) {
	if len(data) == 0 {
		return KindEmpty, "no data"
	}

	if f, err := protocol.Decode(data); err == nil && !f.Truncated &&
		f.Type == protocol.MessageTypeBB && int(f.DeclaredLength) == len(data)-protocol.LengthPrefixSize {
		return KindVendorFrame, f.Summary()
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return KindJSON, printable(trimmed, 100)
	}
	if bytes.HasPrefix(data, []byte("HTTP/")) {
		line, _, _ := bytes.Cut(data, []byte("\r\n"))
		return KindHTTP, string(line)
	}
	if bytes.HasPrefix(data, []byte("8=FIX")) {
		return KindFIX, printable(data, 100)
	}
	if isText(data) {
		return KindText, printable(data, 100)
	}

	desc := fmt.Sprintf("header byte 0x%02x", data[0])
	if len(data) >= 4 {
		desc = fmt.Sprintf("first 4 bytes %x (u32 be %d), %s", data[:4], binary.BigEndian.Uint32(data[:4]), desc)
	}
	return KindBinary, desc
}

// -----------------------------------------------------------------------------

func isText(b []byte) bool {
	for _, c := range b {
		if c == '\r' || c == '\n' || c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// printable keeps printable ASCII, replacing the rest with '.'.
func printable(b []byte, limit int) string {
	if len(b) > limit {
		b = b[:limit]
	}
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c <= 0x7e {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
