package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// fieldJSON is the API/websocket shape of a field.
type fieldJSON struct {
	Tag       string          `json:"tag"`
	Kind      string          `json:"kind"`
	Value     json.RawMessage `json:"value"`
	Qualifier string          `json:"qualifier,omitempty"`
}

// -----------------------------------------------------------------------------

func (f Field) MarshalJSON() ([]byte, error) {
	var val interface{}
	switch f.Value.Kind {
	case KindText:
		val = f.Value.Text
	case KindUint32:
		val = f.Value.Uint
	default:
		val = hex.EncodeToString(f.Value.Bytes)
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}

	out := fieldJSON{Tag: f.Tag.String(), Kind: f.Value.Kind.String(), Value: raw}
	if f.Tag == TagTemplate && f.Value.Kind == KindText {
		out.Qualifier = string([]byte{f.Qualifier})
	}
	return json.Marshal(out)
}

// -----------------------------------------------------------------------------

func (f *Field) UnmarshalJSON(data []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	tag, err := ParseTag(in.Tag)
	if err != nil {
		return err
	}
	kind, err := parseKind(in.Kind)
	if err != nil {
		return err
	}

	var v Value
	switch kind {
	case KindText:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return fmt.Errorf("field %s: text value: %w", tag, err)
		}
		v = Text(s)
	case KindUint32:
		var n uint32
		if err := json.Unmarshal(in.Value, &n); err != nil {
			return fmt.Errorf("field %s: uint32 value: %w", tag, err)
		}
		v = Uint32(n)
	case KindBytes:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return fmt.Errorf("field %s: bytes value: %w", tag, err)
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("field %s: bytes value: %w", tag, err)
		}
		v = Bytes(b)
	}

	*f = Field{Tag: tag, Value: v}
	if tag == TagTemplate && kind == KindText {
		f.Qualifier = QualifierRequest
		if len(in.Qualifier) == 1 {
			f.Qualifier = in.Qualifier[0]
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

type frameJSON struct {
	Type           string  `json:"type"`
	DeclaredLength uint32  `json:"declared_length"`
	DeclaredFields uint32  `json:"declared_fields"`
	Truncated      bool    `json:"truncated"`
	Fields         []Field `json:"fields"`
}

func (f *Frame) MarshalJSON() ([]byte, error) {
	fields := f.Fields
	if fields == nil {
		fields = []Field{}
	}
	return json.Marshal(frameJSON{
		Type:           fmt.Sprintf("0x%04x", f.Type),
		DeclaredLength: f.DeclaredLength,
		DeclaredFields: f.DeclaredFields,
		Truncated:      f.Truncated,
		Fields:         fields,
	})
}
