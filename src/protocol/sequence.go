package protocol

import (
	"net"
	"regexp"
	"strconv"
	"time"
)

// Frames captured between the front-end and the load-balancer gateway.
const (
	SamplePingHex              = "0000001042420000000100000000000470696e67"
	SampleUnknownRequestHex    = "0000002d4242000000037ffe0000000231347ffe0000000f756e6b6e6f776e20726571756573747fff0000000470696e67"
	SampleLoginAgentRepository = "0000004b4242000000042710000000176c6f67696e5f6167656e745f7265706f7369746f7279637ff00000000a313735363335373538377ff0000000063134333030300000000000066d72765f6c62"
)

const (
	PingText                     = "ping"
	UnknownRequestText           = "unknown request"
	TemplateLoginAgentRepository = "login_agent_repository"
	DefaultRepository            = "mrv_lb"
)

// -----------------------------------------------------------------------------

// PingFrame is the first frame the front-end sends after connecting.
func PingFrame() []byte {
	return Encode(MessageTypeBB, []Field{TextField(TagBare, PingText)})
}

// -----------------------------------------------------------------------------

// LoginAgentRepositoryFrame asks the load balancer which gateway to use.
func LoginAgentRepositoryFrame(ts time.Time, session, repository string) []byte {
	if repository == "" {
		repository = DefaultRepository
	}
	return Encode(MessageTypeBB, []Field{
		TemplateField(TemplateLoginAgentRepository),
		TextField(TagNumeric, strconv.FormatInt(ts.Unix(), 10)),
		TextField(TagNumeric, session),
		TextField(TagBare, repository),
	})
}

// -----------------------------------------------------------------------------

type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

var ipv4Pattern = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})(?::(\d{1,5}))?`)

// -----------------------------------------------------------------------------

// ExtractEndpoints pulls the redirect targets out of a gateway reply. A
// host is either written as "ip:port" in one field or followed by a field
// holding the port. Hosts without a port are reported with Port 0.
func (f *Frame) ExtractEndpoints() []Endpoint {
	var out []Endpoint
	seen := make(map[Endpoint]bool)
	add := func(e Endpoint) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}

	for i, fld := range f.Fields {
		text := fieldText(fld)
		for _, m := range ipv4Pattern.FindAllStringSubmatch(text, -1) {
			if net.ParseIP(m[1]) == nil {
				continue
			}
			if port, ok := parsePort(m[2]); ok {
				add(Endpoint{Host: m[1], Port: port})
				continue
			}
			port := 0
			if i+1 < len(f.Fields) {
				if p, ok := fieldPort(f.Fields[i+1]); ok {
					port = p
				}
			}
			add(Endpoint{Host: m[1], Port: port})
		}
	}
	return out
}

// fieldText gives the printable view of a field, keeping only ASCII bytes
// of opaque payloads.
func fieldText(fld Field) string {
	switch fld.Value.Kind {
	case KindText:
		return fld.Value.Text
	case KindBytes:
		b := make([]byte, 0, len(fld.Value.Bytes))
		for _, c := range fld.Value.Bytes {
			if c >= 0x20 && c <= 0x7e {
				b = append(b, c)
			} else {
				b = append(b, ' ')
			}
		}
		return string(b)
	}
	return ""
}

func fieldPort(fld Field) (int, bool) {
	switch fld.Value.Kind {
	case KindText:
		return parsePort(fld.Value.Text)
	case KindUint32:
		if fld.Value.Uint > 0 && fld.Value.Uint <= 65535 {
			return int(fld.Value.Uint), true
		}
	}
	return 0, false
}

func parsePort(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, false
	}
	return p, true
}
