package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------
// Wire layout
//
//	Frame := Length(u32) | MessageType(u16) | FieldCount(u32) | Field{FieldCount}
//	Field := Tag(u16) | PayloadLength(u32) | Payload
//
// All integers are big-endian. Length counts every byte after itself.
// -----------------------------------------------------------------------------

const (
	LengthPrefixSize = 4
	HeaderSize       = 10
	FieldHeaderSize  = 6

	// MessageTypeBB is the only message type seen in captures ("BB").
	MessageTypeBB uint16 = 0x4242

	// QualifierRequest trails the template name of client requests.
	QualifierRequest byte = 'c'
)

var (
	ErrShortHeader   = errors.New("buffer shorter than frame header")
	ErrPartialFrame  = errors.New("partial frame")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// -----------------------------------------------------------------------------

// Tag identifies how a field payload is interpreted.
type Tag uint16

const (
	TagBare     Tag = 0x0000
	TagTemplate Tag = 0x2710
	TagNumeric  Tag = 0x7FF0
	TagOpaque   Tag = 0x7FFE
	TagString   Tag = 0x7FFF
)

func (t Tag) String() string {
	return fmt.Sprintf("0x%04x", uint16(t))
}

// ParseTag accepts "0x7fff", "32767" or any other strconv base-0 form.
func ParseTag(s string) (Tag, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid tag %q: %w", s, err)
	}
	return Tag(v), nil
}

// -----------------------------------------------------------------------------

// Kind is the decoded representation of a payload. The wire format has no
// discriminant for it, so it is inferred from the bytes on decode.
type Kind int

const (
	KindText Kind = iota
	KindUint32
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindUint32:
		return "uint32"
	default:
		return "bytes"
	}
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "", "text":
		return KindText, nil
	case "uint32":
		return KindUint32, nil
	case "bytes":
		return KindBytes, nil
	}
	return 0, fmt.Errorf("unknown value kind %q", s)
}

// -----------------------------------------------------------------------------

type Value struct {
	Kind  Kind
	Text  string
	Uint  uint32
	Bytes []byte
}

func Text(s string) Value    { return Value{Kind: KindText, Text: s} }
func Uint32(n uint32) Value  { return Value{Kind: KindUint32, Uint: n} }
func Bytes(b []byte) Value   { return Value{Kind: KindBytes, Bytes: b} }
func (v Value) IsText() bool { return v.Kind == KindText }

func (v Value) payload() []byte {
	switch v.Kind {
	case KindText:
		return []byte(v.Text)
	case KindUint32:
		return binary.BigEndian.AppendUint32(nil, v.Uint)
	default:
		return v.Bytes
	}
}

// String renders text as-is, integers in decimal and raw bytes as hex.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindUint32:
		return strconv.FormatUint(uint64(v.Uint), 10)
	default:
		return hex.EncodeToString(v.Bytes)
	}
}

// -----------------------------------------------------------------------------

type Field struct {
	Tag   Tag
	Value Value
	// Qualifier is the trailing byte of a text TagTemplate payload. It is
	// always written, so build request templates with TemplateField.
	Qualifier byte
}

func TextField(tag Tag, s string) Field {
	return Field{Tag: tag, Value: Text(s)}
}

// TemplateField builds the login-sequence template name field.
func TemplateField(name string) Field {
	return Field{Tag: TagTemplate, Value: Text(name), Qualifier: QualifierRequest}
}

// Payload returns the bytes the field carries on the wire. Text template
// names get their qualifier byte appended, zero included; raw template
// payloads are sent unchanged.
func (f Field) Payload() []byte {
	p := f.Value.payload()
	if f.Tag == TagTemplate && f.Value.Kind == KindText {
		p = append(append([]byte(nil), p...), f.Qualifier)
	}
	return p
}

func (f Field) EncodedLen() int {
	return FieldHeaderSize + len(f.Payload())
}

func (f Field) String() string {
	if f.Value.Kind == KindText {
		return fmt.Sprintf("%s:%q", f.Tag, f.Value.Text)
	}
	return fmt.Sprintf("%s:%s", f.Tag, f.Value)
}

// -----------------------------------------------------------------------------

type Frame struct {
	Type           uint16
	DeclaredLength uint32
	DeclaredFields uint32
	Fields         []Field
	// Truncated is set when decoding stopped before the declared end.
	Truncated bool
}

// -----------------------------------------------------------------------------

// Decode parses one frame. It only fails when buf cannot hold the header;
// any later shortfall stops decoding and returns the fields read so far.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: have %d of %d bytes", ErrShortHeader, len(buf), HeaderSize)
	}

	f := &Frame{
		DeclaredLength: binary.BigEndian.Uint32(buf[0:4]),
		Type:           binary.BigEndian.Uint16(buf[4:6]),
		DeclaredFields: binary.BigEndian.Uint32(buf[6:10]),
	}

	end := len(buf)
	declaredEnd := uint64(f.DeclaredLength) + LengthPrefixSize
	if declaredEnd < uint64(end) {
		end = int(declaredEnd)
	} else if declaredEnd > uint64(end) {
		f.Truncated = true
	}

	off := HeaderSize
	for uint32(len(f.Fields)) < f.DeclaredFields {
		if off+FieldHeaderSize > end {
			f.Truncated = true
			break
		}
		tag := Tag(binary.BigEndian.Uint16(buf[off:]))
		n := binary.BigEndian.Uint32(buf[off+2:])
		off += FieldHeaderSize

		if uint64(n) > uint64(end-off) {
			f.Truncated = true
			break
		}
		payload := make([]byte, n)
		copy(payload, buf[off:off+int(n)])
		off += int(n)

		f.Fields = append(f.Fields, decodeField(tag, payload))
	}

	return f, nil
}

// -----------------------------------------------------------------------------

// DecodeHex decodes a hex dump; whitespace between bytes is ignored.
func DecodeHex(s string) (*Frame, error) {
	raw, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return Decode(raw)
}

// -----------------------------------------------------------------------------

func decodeField(tag Tag, payload []byte) Field {
	switch tag {
	case TagNumeric, TagOpaque:
		switch {
		case isPrintable(payload):
			return Field{Tag: tag, Value: Text(string(payload))}
		case len(payload) == 4:
			return Field{Tag: tag, Value: Uint32(binary.BigEndian.Uint32(payload))}
		default:
			return Field{Tag: tag, Value: Bytes(payload)}
		}

	case TagString, TagBare:
		if isASCII(payload) {
			return Field{Tag: tag, Value: Text(string(payload))}
		}
		return Field{Tag: tag, Value: Bytes(payload)}

	case TagTemplate:
		if len(payload) == 0 {
			return Field{Tag: tag, Value: Bytes(payload)}
		}
		name, q := payload[:len(payload)-1], payload[len(payload)-1]
		if !isASCII(payload) {
			return Field{Tag: tag, Value: Bytes(payload)}
		}
		return Field{Tag: tag, Value: Text(string(name)), Qualifier: q}
	}

	return Field{Tag: tag, Value: Bytes(payload)}
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// Encode builds a complete frame, computing the length prefix.
func Encode(msgType uint16, fields []Field) []byte {
	size := HeaderSize
	for _, f := range fields {
		size += f.EncodedLen()
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(size-LengthPrefixSize))
	buf = binary.BigEndian.AppendUint16(buf, msgType)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(fields)))
	for _, f := range fields {
		p := f.Payload()
		buf = binary.BigEndian.AppendUint16(buf, uint16(f.Tag))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p)))
		buf = append(buf, p...)
	}
	return buf
}

// -----------------------------------------------------------------------------

// Bytes re-encodes the frame from its fields.
func (f *Frame) Bytes() []byte {
	return Encode(f.Type, f.Fields)
}

// -----------------------------------------------------------------------------

// Field returns the first field carrying tag.
func (f *Frame) Field(tag Tag) (Field, bool) {
	for _, fld := range f.Fields {
		if fld.Tag == tag {
			return fld, true
		}
	}
	return Field{}, false
}

// -----------------------------------------------------------------------------

func (f *Frame) Texts() []string {
	var out []string
	for _, fld := range f.Fields {
		if fld.Value.Kind == KindText {
			out = append(out, fld.Value.Text)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// Template returns the name carried by the TagTemplate field, if any.
func (f *Frame) Template() string {
	if fld, ok := f.Field(TagTemplate); ok && fld.Value.Kind == KindText {
		return fld.Value.Text
	}
	return ""
}

// -----------------------------------------------------------------------------

// IsUnknownRequest reports the server's reply to requests it does not route.
func (f *Frame) IsUnknownRequest() bool {
	for _, t := range f.Texts() {
		if strings.Contains(t, UnknownRequestText) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

func (f *Frame) Summary() string {
	parts := make([]string, 0, len(f.Fields))
	for _, fld := range f.Fields {
		parts = append(parts, fld.String())
	}
	s := fmt.Sprintf("type=0x%04x fields=%d/%d [%s]", f.Type, len(f.Fields), f.DeclaredFields, strings.Join(parts, " "))
	if f.Truncated {
		s += " (truncated)"
	}
	return s
}
