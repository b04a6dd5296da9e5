package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rtrader-bridge/src/helpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTemplateRoundTrips(t *testing.T) {
	data, err := Template()
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, "# R|Trader Pro bridge credentials"))
	assert.Contains(t, text, "# Local plugin connection")
	assert.Contains(t, text, "fcm_id: FCM_CODE")

	var c Credentials
	require.NoError(t, yaml.Unmarshal(data, &c))
	assert.Equal(t, "YOUR_USERNAME", c.Direct.User)
	assert.Equal(t, 8100, c.Direct.MDPort)
	assert.Equal(t, DefaultPluginPort, c.Plugin.Port)
	assert.NoError(t, c.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("direct:\n  user: alice\n"), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Direct.User)
	assert.Equal(t, EnvTest, c.Direct.Environment)
	assert.Equal(t, "127.0.0.1", c.Plugin.Host)

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, "configuration", helpers.Kind(err))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RITHMIC_USER", "trader")
	t.Setenv("RITHMIC_PASSWORD", "hunter2")
	t.Setenv("RITHMIC_SYSTEM", "Rithmic Paper Trading")
	t.Setenv("RITHMIC_FCM", "Ironbeam")
	t.Setenv("RITHMIC_IB", "Ironbeam")
	t.Setenv("RITHMIC_ENV", "live")
	t.Setenv("RTRADER_API_KEY", "secret-key")
	t.Setenv("RTRADER_PORT", "3012")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "trader", c.Direct.User)
	assert.Equal(t, EnvLive, c.Direct.Environment)
	assert.Equal(t, 3012, c.Plugin.Port)
	assert.NoError(t, c.Validate())

	s := c.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "secret-key")
	assert.Contains(t, s, "user=trader")

	// Redacted leaves the original untouched.
	assert.Equal(t, mask, c.Redacted().Direct.Password)
	assert.Equal(t, "hunter2", c.Direct.Password)
}

func TestFromEnvBadPort(t *testing.T) {
	t.Setenv("RTRADER_PORT", "70000")
	_, err := FromEnv()
	assert.Equal(t, "validation", helpers.Kind(err))
}

func TestValidate(t *testing.T) {
	var c Credentials
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user, password, system_name, fcm_id, ib_id")

	c.Direct = Direct{User: "u", Password: "p", SystemName: "s", FCMID: "f", IBID: "i", Environment: "PROD"}
	assert.ErrorContains(t, c.Validate(), "environment must be")

	assert.Equal(t, Credentials{}, Credentials{}.Redacted())
}
