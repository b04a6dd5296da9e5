package credentials

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"rtrader-bridge/src/helpers"

	"gopkg.in/yaml.v3"
)

const (
	EnvTest = "TEST"
	EnvLive = "LIVE"

	DefaultPluginPort = 3010
	mask              = "****"

	templateHeader = "# R|Trader Pro bridge credentials. Keep this file out of version control.\n\n"
)

// Direct holds what a broker issues for a direct gateway login.
type Direct struct {
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	SystemName  string `yaml:"system_name"`
	FCMID       string `yaml:"fcm_id"`
	IBID        string `yaml:"ib_id"`
	Environment string `yaml:"environment"`
	GatewayHost string `yaml:"gateway_host"`
	GatewayPort int    `yaml:"gateway_port"`
	MDHost      string `yaml:"md_host"`
	MDPort      int    `yaml:"md_port"`
}

// Plugin describes a connection to the locally running front-end.
type Plugin struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Trusted            bool   `yaml:"trusted"`
	APIKey             string `yaml:"api_key"`
	UseExistingSession bool   `yaml:"use_existing_session"`
}

type Credentials struct {
	Direct Direct `yaml:"direct"`
	Plugin Plugin `yaml:"plugin"`
}

// -----------------------------------------------------------------------------

// Template renders a credentials file with placeholder values.
func Template() ([]byte, error) {
	tmpl := Credentials{
		Direct: Direct{
			User:        "YOUR_USERNAME",
			Password:    "YOUR_PASSWORD",
			SystemName:  "SYSTEM_NAME",
			FCMID:       "FCM_CODE",
			IBID:        "IB_CODE",
			Environment: EnvTest,
			GatewayHost: "gateway.rithmic.com",
			GatewayPort: 8000,
			MDHost:      "md.rithmic.com",
			MDPort:      8100,
		},
		Plugin: Plugin{
			Host:               "127.0.0.1",
			Port:               DefaultPluginPort,
			Trusted:            true,
			APIKey:             "CHECK_RTRADER_SETTINGS_FOR_THIS",
			UseExistingSession: true,
		},
	}

	var doc yaml.Node
	if err := doc.Encode(tmpl); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		switch doc.Content[i].Value {
		case "direct":
			doc.Content[i].HeadComment = "# Direct gateway login. System name, FCM and IB codes come from your broker.\n# Environment is TEST or LIVE."
		case "plugin":
			doc.Content[i].HeadComment = "# Local plugin connection to the running front-end."
		}
	}
	body, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, err
	}
	return append([]byte(templateHeader), body...), nil
}

// -----------------------------------------------------------------------------

// LoadFile reads a credentials YAML file written from Template.
func LoadFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, helpers.NewConfigurationError("read credentials "+path, err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, helpers.NewConfigurationError("parse credentials "+path, err)
	}
	c.applyDefaults()
	return &c, nil
}

// -----------------------------------------------------------------------------

// FromEnv loads credentials from RITHMIC_* and RTRADER_* variables.
func FromEnv() (*Credentials, error) {
	c := &Credentials{
		Direct: Direct{
			User:        os.Getenv("RITHMIC_USER"),
			Password:    os.Getenv("RITHMIC_PASSWORD"),
			SystemName:  os.Getenv("RITHMIC_SYSTEM"),
			FCMID:       os.Getenv("RITHMIC_FCM"),
			IBID:        os.Getenv("RITHMIC_IB"),
			Environment: strings.ToUpper(os.Getenv("RITHMIC_ENV")),
		},
		Plugin: Plugin{
			APIKey: os.Getenv("RTRADER_API_KEY"),
		},
	}

	if raw := os.Getenv("RTRADER_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return nil, helpers.NewValidationError(fmt.Sprintf("RTRADER_PORT %q is not a valid port", raw))
		}
		c.Plugin.Port = port
	}
	c.applyDefaults()
	return c, nil
}

func (c *Credentials) applyDefaults() {
	if c.Direct.Environment == "" {
		c.Direct.Environment = EnvTest
	}
	if c.Plugin.Host == "" {
		c.Plugin.Host = "127.0.0.1"
	}
	if c.Plugin.Port == 0 {
		c.Plugin.Port = DefaultPluginPort
	}
}

// -----------------------------------------------------------------------------

// Redacted returns a copy safe for logging.
func (c Credentials) Redacted() Credentials {
	if c.Direct.Password != "" {
		c.Direct.Password = mask
	}
	if c.Plugin.APIKey != "" {
		c.Plugin.APIKey = mask
	}
	return c
}

func (c Credentials) String() string {
	r := c.Redacted()
	return fmt.Sprintf("user=%s password=%s system=%s fcm=%s ib=%s env=%s plugin=%s:%d api_key=%s",
		r.Direct.User, r.Direct.Password, r.Direct.SystemName, r.Direct.FCMID, r.Direct.IBID,
		r.Direct.Environment, r.Plugin.Host, r.Plugin.Port, r.Plugin.APIKey)
}

// -----------------------------------------------------------------------------

// Validate checks the fields a direct gateway login cannot do without.
func (c Credentials) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"user", c.Direct.User},
		{"password", c.Direct.Password},
		{"system_name", c.Direct.SystemName},
		{"fcm_id", c.Direct.FCMID},
		{"ib_id", c.Direct.IBID},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return helpers.NewValidationError("missing credentials: " + strings.Join(missing, ", "))
	}

	switch c.Direct.Environment {
	case EnvTest, EnvLive:
	default:
		return helpers.NewValidationError(fmt.Sprintf("environment must be %s or %s, got %q", EnvTest, EnvLive, c.Direct.Environment))
	}
	return nil
}
