package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/plugin"
	"rtrader-bridge/src/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// -----------------------------------------------------------------------------

func TestAnalyzePrintsLoginSequence(t *testing.T) {
	out, err := run(t, "analyze")
	require.NoError(t, err)

	assert.Contains(t, out, "unknown request")
	assert.Contains(t, out, "template login_agent_repository")
	assert.Contains(t, out, "mrv_lb")
	assert.Contains(t, out, "tcp port 64100")
}

func TestDecodeJSON(t *testing.T) {
	out, err := run(t, "decode", "--json", protocol.SamplePingHex)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &frame))
	assert.Equal(t, "0x4242", frame["type"])
}

func TestDecodeReportsBadFrames(t *testing.T) {
	_, err := run(t, "decode", protocol.SamplePingHex, "4242")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "analyze")
	assert.Error(t, err)
}

func TestCredentialsTemplateAndCheck(t *testing.T) {
	out, err := run(t, "credentials", "template")
	require.NoError(t, err)
	assert.Contains(t, out, "direct:")

	path := filepath.Join(t.TempDir(), "creds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`direct:
  user: alice
  password: secret
  system_name: Rithmic Test
  fcm_id: FCM
  ib_id: IB
`), 0o600))

	out, err = run(t, "credentials", "check", "--file", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "credentials complete")
}

func TestPluginOrderRejectsBadFlags(t *testing.T) {
	cases := map[string][]string{
		"bad side":       {"--symbol", "MNQZ24", "--side", "hold"},
		"bad price":      {"--symbol", "MNQZ24", "--side", "buy", "--limit", "abc"},
		"stop no target": {"--symbol", "MNQZ24", "--side", "buy", "--limit", "100", "--stop", "99"},
		"bracket no lmt": {"--symbol", "MNQZ24", "--side", "buy", "--stop", "99", "--target", "101"},
		"missing symbol": {"--side", "buy"},
	}
	for name, flags := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, append([]string{"plugin", "order"}, flags...)...)
			assert.Error(t, err)
		})
	}
}

func TestPrintDOM(t *testing.T) {
	var msg plugin.DepthMessage
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"MNQ","bids":[[100.25,1],[100,2]],"asks":[[100.5,3],[100.75,4]]}`), &msg))
	book := plugin.NewBook(nil, "CME", 0, logger.NewNopLogger())
	require.NoError(t, book.ApplyDepth(msg))
	snap, ok := book.Get("MNQ")
	require.True(t, ok)

	var out bytes.Buffer
	printDOM(&out, snap, 1)
	s := out.String()
	assert.Regexp(t, `ask +100\.5 \| +3\n`, s)
	assert.Regexp(t, `bid +100\.25 \| +1\n`, s)
	assert.NotContains(t, s, "100.75")
	assert.Less(t, strings.Index(s, "ask"), strings.Index(s, "bid"))
}
