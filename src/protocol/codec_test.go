package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// -----------------------------------------------------------------------------

func TestDecodePingSample(t *testing.T) {
	f, err := DecodeHex(SamplePingHex)
	require.NoError(t, err)

	assert.Equal(t, MessageTypeBB, f.Type)
	assert.False(t, f.Truncated)
	require.Len(t, f.Fields, 1)

	last := f.Fields[len(f.Fields)-1]
	assert.Equal(t, TagBare, last.Tag)
	assert.Equal(t, KindText, last.Value.Kind)
	assert.Equal(t, "ping", last.Value.Text)
}

func TestDecodeUnknownRequestSample(t *testing.T) {
	f, err := DecodeHex(SampleUnknownRequestHex)
	require.NoError(t, err)

	require.Len(t, f.Fields, 3)
	assert.Equal(t, []string{"14", "unknown request", "ping"}, f.Texts())
	assert.Equal(t, TagOpaque, f.Fields[0].Tag)
	assert.Equal(t, TagString, f.Fields[2].Tag)
	assert.True(t, f.IsUnknownRequest())
}

func TestDecodeLoginSample(t *testing.T) {
	f, err := DecodeHex(SampleLoginAgentRepository)
	require.NoError(t, err)

	assert.Equal(t, MessageTypeBB, f.Type)
	require.Len(t, f.Fields, 4)

	tmpl, ok := f.Field(TagTemplate)
	require.True(t, ok)
	assert.Equal(t, "login_agent_repository", tmpl.Value.Text)
	assert.Equal(t, byte('c'), tmpl.Qualifier)
	assert.Equal(t, TemplateLoginAgentRepository, f.Template())

	assert.Equal(t, "1756357587", f.Fields[1].Value.Text)
	assert.Equal(t, "143000", f.Fields[2].Value.Text)
	assert.Equal(t, "mrv_lb", f.Fields[3].Value.Text)
	assert.False(t, f.IsUnknownRequest())
}

// -----------------------------------------------------------------------------

func TestSamplesReencodeExactly(t *testing.T) {
	for _, sample := range []string{SamplePingHex, SampleUnknownRequestHex, SampleLoginAgentRepository} {
		raw := mustHex(t, sample)
		f, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, f.Bytes(), sample)
		assert.Equal(t, uint32(len(raw)-LengthPrefixSize), f.DeclaredLength)
	}
}

func TestBuildersMatchCaptures(t *testing.T) {
	assert.Equal(t, mustHex(t, SamplePingHex), PingFrame())

	ts := time.Unix(1756357587, 0)
	assert.Equal(t, mustHex(t, SampleLoginAgentRepository), LoginAgentRepositoryFrame(ts, "143000", "mrv_lb"))
	assert.Equal(t, mustHex(t, SampleLoginAgentRepository), LoginAgentRepositoryFrame(ts, "143000", ""))
}

// -----------------------------------------------------------------------------

func TestDecodeTruncated(t *testing.T) {
	raw := mustHex(t, SampleLoginAgentRepository)

	f, err := Decode(raw[:60])
	require.NoError(t, err)
	assert.True(t, f.Truncated)
	require.Len(t, f.Fields, 2)
	assert.Equal(t, "login_agent_repository", f.Fields[0].Value.Text)
	assert.Equal(t, "1756357587", f.Fields[1].Value.Text)

	// Cut inside a field header.
	f, err = Decode(raw[:12])
	require.NoError(t, err)
	assert.True(t, f.Truncated)
	assert.Empty(t, f.Fields)
}

func TestDecodeFieldCountLargerThanFields(t *testing.T) {
	raw := mustHex(t, SamplePingHex)
	binary.BigEndian.PutUint32(raw[6:], 5)

	f, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, f.Truncated)
	require.Len(t, f.Fields, 1)
	assert.Equal(t, "ping", f.Fields[0].Value.Text)
}

func TestDecodeShortHeader(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 1, 0x42})
	assert.ErrorIs(t, err, ErrShortHeader)

	_, err = DecodeHex("zz")
	assert.Error(t, err)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	raw := append(mustHex(t, SamplePingHex), 0xde, 0xad)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.False(t, f.Truncated)
	assert.Equal(t, raw[:len(raw)-2], f.Bytes())
}

func TestDecodeHexWhitespace(t *testing.T) {
	f, err := DecodeHex("00000010 4242 00000001\n0000 00000004 70696e67")
	require.NoError(t, err)
	assert.Equal(t, []string{"ping"}, f.Texts())
}

// -----------------------------------------------------------------------------

func TestDecodeRules(t *testing.T) {
	tests := []struct {
		name    string
		tag     Tag
		payload []byte
		want    Value
	}{
		{"numeric printable", TagNumeric, []byte("143000"), Text("143000")},
		{"numeric uint32", TagNumeric, []byte{0, 0, 0x01, 0x00}, Uint32(256)},
		{"opaque raw", TagOpaque, []byte{0x01, 0x02, 0x03}, Bytes([]byte{0x01, 0x02, 0x03})},
		{"string", TagString, []byte("hello"), Text("hello")},
		{"string non ascii", TagString, []byte{0xff, 0xfe}, Bytes([]byte{0xff, 0xfe})},
		{"bare", TagBare, []byte("mrv_lb"), Text("mrv_lb")},
		{"unknown tag", Tag(0x1234), []byte("abc"), Bytes([]byte("abc"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeField(tt.tag, tt.payload)
			assert.Equal(t, tt.tag, got.Tag)
			assert.Equal(t, tt.want, got.Value)
		})
	}
}

// -----------------------------------------------------------------------------

func TestEncodeDecodeRoundTrip(t *testing.T) {
	fields := []Field{
		TemplateField("login_agent_repository"),
		TextField(TagString, "hello"),
		{Tag: TagNumeric, Value: Uint32(1)},
		{Tag: TagOpaque, Value: Bytes([]byte{0, 1, 2, 3, 0xff})},
		{Tag: Tag(0x1234), Value: Bytes([]byte("raw"))},
		TextField(TagBare, "mrv_lb"),
	}

	raw := Encode(MessageTypeBB, fields)
	f, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, MessageTypeBB, f.Type)
	assert.False(t, f.Truncated)
	assert.Equal(t, fields, f.Fields)
}

func TestRoundTripAmbiguousPayload(t *testing.T) {
	// 0x41424344 is "ABCD" on the wire and comes back as text.
	in := Field{Tag: TagNumeric, Value: Uint32(0x41424344)}
	f, err := Decode(Encode(MessageTypeBB, []Field{in}))
	require.NoError(t, err)

	require.Len(t, f.Fields, 1)
	assert.Equal(t, Text("ABCD"), f.Fields[0].Value)
	assert.Equal(t, in.Payload(), f.Fields[0].Payload())
}

func TestRoundTripRandomPayloads(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tags := []Tag{TagBare, TagTemplate, TagNumeric, TagOpaque, TagString, Tag(0x0101)}

	for i := 0; i < 200; i++ {
		n := rng.Intn(6)
		fields := make([]Field, n)
		for j := range fields {
			p := make([]byte, rng.Intn(20))
			rng.Read(p)
			fields[j] = Field{Tag: tags[rng.Intn(len(tags))], Value: Bytes(p)}
		}

		raw := Encode(0x0102, fields)
		f, err := Decode(raw)
		require.NoError(t, err)
		require.Len(t, f.Fields, n)
		for j := range fields {
			assert.Equal(t, fields[j].Tag, f.Fields[j].Tag)
			assert.Equal(t, fields[j].Payload(), f.Fields[j].Payload())
		}
		assert.Equal(t, raw, f.Bytes())
	}
}

func TestTemplateZeroQualifierKept(t *testing.T) {
	payload := append([]byte("login_agent_repository"), 0x00)
	raw := Encode(MessageTypeBB, []Field{{Tag: TagTemplate, Value: Bytes(payload)}})

	f, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, f.Fields, 1)
	assert.Equal(t, "login_agent_repository", f.Fields[0].Value.Text)
	assert.Equal(t, byte(0), f.Fields[0].Qualifier)
	assert.Equal(t, raw, f.Bytes())

	data, err := json.Marshal(f.Fields[0])
	require.NoError(t, err)
	var back Field
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, f.Fields[0], back)
}

// -----------------------------------------------------------------------------

func TestEncodeLengthPrefix(t *testing.T) {
	cases := [][]Field{
		nil,
		{TextField(TagBare, "ping")},
		{TemplateField("x"), {Tag: TagNumeric, Value: Uint32(7)}, TextField(TagString, "a longer string value")},
	}
	for _, fields := range cases {
		raw := Encode(MessageTypeBB, fields)
		assert.Equal(t, uint32(len(raw)-4), binary.BigEndian.Uint32(raw[:4]))
		assert.Equal(t, uint32(len(fields)), binary.BigEndian.Uint32(raw[6:10]))
	}
}

// -----------------------------------------------------------------------------

func TestFieldJSON(t *testing.T) {
	fields := []Field{
		TemplateField("login_agent_repository"),
		{Tag: TagNumeric, Value: Uint32(9)},
		{Tag: TagOpaque, Value: Bytes([]byte{0xca, 0xfe})},
		TextField(TagString, "ping"),
	}

	data, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tag":"0x2710"`)
	assert.Contains(t, string(data), `"qualifier":"c"`)
	assert.Contains(t, string(data), `"value":"cafe"`)

	var back []Field
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, fields, back)
}

func TestFrameJSON(t *testing.T) {
	f, err := DecodeHex(SamplePingHex)
	require.NoError(t, err)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"0x4242","declared_length":16,"declared_fields":1,"truncated":false,
		"fields":[{"tag":"0x0000","kind":"text","value":"ping"}]}`, string(data))
}

func TestFieldJSONRejectsBadInput(t *testing.T) {
	var f Field
	assert.Error(t, json.Unmarshal([]byte(`{"tag":"nope","kind":"text","value":"x"}`), &f))
	assert.Error(t, json.Unmarshal([]byte(`{"tag":"0x7fff","kind":"float","value":1}`), &f))
	assert.Error(t, json.Unmarshal([]byte(`{"tag":"0x7fff","kind":"bytes","value":"zz"}`), &f))
}
