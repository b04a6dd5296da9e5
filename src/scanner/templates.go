package scanner

import (
	"encoding/binary"
	"encoding/json"

	"rtrader-bridge/src/protocol"
)

const (
	FamilyJSON      = "json"
	FamilyBinary    = "binary"
	FamilyHTTP      = "http"
	FamilyBroadcast = "broadcast"
	FamilyKeepAlive = "keepalive"
)

// Template is one probe message. A family sends its templates in order on
// fresh connections until one gets an answer.
type Template struct {
	Name    string
	Payload []byte
}

// -----------------------------------------------------------------------------

func JSONTemplates() []Template {
	msgs := []struct {
		name string
		body map[string]interface{}
	}{
		{"jsonrpc ping", map[string]interface{}{"jsonrpc": "2.0", "method": "ping", "id": 1}},
		{"jsonrpc getInfo", map[string]interface{}{"jsonrpc": "2.0", "method": "getInfo", "id": 2}},
		{"jsonrpc subscribe", map[string]interface{}{"jsonrpc": "2.0", "method": "subscribe", "params": map[string]string{"symbol": "MNQ"}, "id": 3}},
		{"type ping", map[string]interface{}{"type": "ping"}},
		{"cmd subscribe", map[string]interface{}{"cmd": "subscribe", "symbol": "MNQ"}},
		{"action getQuote", map[string]interface{}{"action": "getQuote", "symbol": "MNQ"}},
		{"request marketData", map[string]interface{}{"request": "marketData", "symbol": "MNQ"}},
		{"msg login", map[string]interface{}{"msg": "login", "user": "plugin"}},
		{"msg subscribe", map[string]interface{}{"msg": "subscribe", "contract": "MNQ"}},
		{"command GET_POSITIONS", map[string]interface{}{"command": "GET_POSITIONS"}},
	}

	out := make([]Template, 0, len(msgs))
	for _, m := range msgs {
		b, _ := json.Marshal(m.body)
		out = append(out, Template{Name: m.name, Payload: append(b, '\n')})
	}
	return out
}

// -----------------------------------------------------------------------------

func BinaryTemplates() []Template {
	ping := []byte("PING")
	return []Template{
		{"fix logon", []byte("8=FIX.4.4\x019=40\x0135=A\x0149=CLIENT\x0156=RTRADER\x0110=000\x01")},
		{"u32 be length", append(binary.BigEndian.AppendUint32(nil, 4), ping...)},
		{"u32 le length", append(binary.LittleEndian.AppendUint32(nil, 4), ping...)},
		{"u16 be length", append(binary.BigEndian.AppendUint16(nil, 4), ping...)},
		{"PING", []byte("PING\r\n")},
		{"HELLO", []byte("HELLO\r\n")},
		{"CONNECT", []byte("CONNECT\r\n")},
		{"LOGIN", []byte("LOGIN\r\n")},
		{"marker 01", append([]byte{0x01, 0x00, 0x00, 0x00}, ping...)},
		{"marker fffe", append([]byte{0xff, 0xfe}, ping...)},
		{"vendor ping", protocol.PingFrame()},
	}
}

// -----------------------------------------------------------------------------

func HTTPTemplates() []Template {
	paths := []string{"/", "/api", "/api/positions", "/api/quotes/MNQ", "/plugin", "/rithmic"}
	out := make([]Template, 0, len(paths))
	for _, p := range paths {
		out = append(out, Template{
			Name:    "GET " + p,
			Payload: []byte("GET " + p + " HTTP/1.1\r\nHost: localhost\r\n\r\n"),
		})
	}
	return out
}
