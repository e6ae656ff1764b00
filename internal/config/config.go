package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/softphone-bridge/internal/engine"
	"github.com/sweeney/softphone-bridge/internal/locator"
	"github.com/sweeney/softphone-bridge/internal/signal"
)

type Config struct {
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	Widget    WidgetConfig    `yaml:"widget" toml:"widget"`
	Browser   BrowserConfig   `yaml:"browser" toml:"browser"`
	MQTT      MQTTConfig      `yaml:"mqtt" toml:"mqtt"`
	Timing    TimingConfig    `yaml:"timing" toml:"timing"`
	Phrases   signal.Phrases  `yaml:"phrases" toml:"phrases"`
	Selectors SelectorsConfig `yaml:"selectors" toml:"selectors"`
	Suppress  SuppressConfig  `yaml:"suppress" toml:"suppress"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// BackendConfig locates the key provisioning endpoint and the line to
// register.
type BackendConfig struct {
	Endpoint string        `yaml:"endpoint" toml:"endpoint"`
	APIToken string        `yaml:"api_token" toml:"api_token"`
	Tenant   string        `yaml:"tenant" toml:"tenant"`
	Line     string        `yaml:"line" toml:"line"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

type WidgetConfig struct {
	Scripts    []string `yaml:"scripts" toml:"scripts"`
	Bootstrap  string   `yaml:"bootstrap" toml:"bootstrap"`
	Style      string   `yaml:"style" toml:"style"`
	Locale     string   `yaml:"locale" toml:"locale"`
	Visible    bool     `yaml:"visible" toml:"visible"`
	Position   string   `yaml:"position" toml:"position"`
	AutoAnswer bool     `yaml:"auto_answer" toml:"auto_answer"`
}

type BrowserConfig struct {
	ControlURL  string        `yaml:"control_url" toml:"control_url"`
	Bin         string        `yaml:"bin" toml:"bin"`
	Headless    bool          `yaml:"headless" toml:"headless"`
	URL         string        `yaml:"url" toml:"url"`
	LoadTimeout time.Duration `yaml:"load_timeout" toml:"load_timeout"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
}

type TimingConfig struct {
	Cooldown          time.Duration `yaml:"cooldown" toml:"cooldown"`
	Debounce          time.Duration `yaml:"debounce" toml:"debounce"`
	FirstAttempt      time.Duration `yaml:"first_attempt" toml:"first_attempt"`
	AttemptInterval   time.Duration `yaml:"attempt_interval" toml:"attempt_interval"`
	MaxAttempts       int           `yaml:"max_attempts" toml:"max_attempts"`
	Refresh           time.Duration `yaml:"refresh" toml:"refresh"`
	RefreshMargin     time.Duration `yaml:"refresh_margin" toml:"refresh_margin"`
	ReadyFallback     time.Duration `yaml:"ready_fallback" toml:"ready_fallback"`
	BootstrapTimeout  time.Duration `yaml:"bootstrap_timeout" toml:"bootstrap_timeout"`
	BootstrapInterval time.Duration `yaml:"bootstrap_interval" toml:"bootstrap_interval"`
}

type SelectorsConfig struct {
	Answer []locator.Strategy `yaml:"answer" toml:"answer"`
	Hangup []locator.Strategy `yaml:"hangup" toml:"hangup"`
}

type SuppressConfig struct {
	Fragments []string `yaml:"fragments" toml:"fragments"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a Config carrying the engine's reference timings and
// built-in heuristics.
func Default() *Config {
	s := engine.DefaultSettings()
	return &Config{
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
		},
		Widget: WidgetConfig{
			Bootstrap:  s.Widget.BootstrapFunc,
			Style:      s.Widget.Style,
			Locale:     s.Widget.Locale,
			Visible:    s.Widget.Visible,
			Position:   s.Widget.Position,
			AutoAnswer: s.AutoAnswer,
		},
		Browser: BrowserConfig{
			Headless:    true,
			LoadTimeout: 30 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "softphone-bridge",
			TopicPrefix: "softphone",
		},
		Timing: TimingConfig{
			Cooldown:          s.Cooldown,
			Debounce:          s.Debounce,
			FirstAttempt:      s.FirstAttemptDelay,
			AttemptInterval:   s.AttemptInterval,
			MaxAttempts:       s.MaxAttempts,
			Refresh:           s.RefreshInterval,
			RefreshMargin:     s.RefreshMargin,
			ReadyFallback:     s.ReadyFallback,
			BootstrapTimeout:  s.BootstrapTimeout,
			BootstrapInterval: s.BootstrapPoll,
		},
		Phrases: s.Phrases,
		Selectors: SelectorsConfig{
			Answer: s.Answer,
			Hangup: s.Hangup,
		},
		Suppress: SuppressConfig{
			Fragments: append([]string(nil), s.Fragments...),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path as TOML when it ends in .toml and as YAML otherwise.
// Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv lets secrets stay out of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SOFTPHONE_API_TOKEN"); v != "" {
		c.Backend.APIToken = v
	}
	if v := os.Getenv("SOFTPHONE_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

func (c *Config) validate() error {
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint is required")
	}
	if u, err := url.Parse(c.Backend.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.endpoint must be an absolute URL, got %q", c.Backend.Endpoint)
	}
	if c.Backend.Tenant == "" {
		return fmt.Errorf("backend.tenant is required")
	}
	if c.Backend.Line == "" {
		return fmt.Errorf("backend.line is required")
	}
	if len(c.Widget.Scripts) == 0 {
		return fmt.Errorf("widget.scripts must list at least one script")
	}
	if c.Widget.Bootstrap == "" {
		return fmt.Errorf("widget.bootstrap is required")
	}
	if c.Browser.ControlURL == "" && c.Browser.URL == "" {
		return fmt.Errorf("browser.url is required when browser.control_url is not set")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required")
	}
	if c.Timing.MaxAttempts < 1 {
		return fmt.Errorf("timing.max_attempts must be at least 1, got %d", c.Timing.MaxAttempts)
	}
	for name, d := range map[string]time.Duration{
		"timing.cooldown":         c.Timing.Cooldown,
		"timing.debounce":         c.Timing.Debounce,
		"timing.first_attempt":    c.Timing.FirstAttempt,
		"timing.attempt_interval": c.Timing.AttemptInterval,
		"timing.ready_fallback":   c.Timing.ReadyFallback,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.Timing.BootstrapInterval <= 0 {
		return fmt.Errorf("timing.bootstrap_interval must be positive, got %s", c.Timing.BootstrapInterval)
	}
	if len(c.Selectors.Answer) == 0 {
		return fmt.Errorf("selectors.answer must define at least one strategy")
	}
	if len(c.Selectors.Hangup) == 0 {
		return fmt.Errorf("selectors.hangup must define at least one strategy")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// Settings converts c to engine settings.
func (c *Config) Settings() engine.Settings {
	return engine.Settings{
		Tenant: c.Backend.Tenant,
		Line:   c.Backend.Line,
		Widget: engine.Widget{
			Scripts:       c.Widget.Scripts,
			BootstrapFunc: c.Widget.Bootstrap,
			Style:         c.Widget.Style,
			Locale:        c.Widget.Locale,
			Visible:       c.Widget.Visible,
			Position:      c.Widget.Position,
		},
		AutoAnswer:        c.Widget.AutoAnswer,
		Cooldown:          c.Timing.Cooldown,
		Debounce:          c.Timing.Debounce,
		FirstAttemptDelay: c.Timing.FirstAttempt,
		AttemptInterval:   c.Timing.AttemptInterval,
		MaxAttempts:       c.Timing.MaxAttempts,
		RefreshInterval:   c.Timing.Refresh,
		RefreshMargin:     c.Timing.RefreshMargin,
		ReadyFallback:     c.Timing.ReadyFallback,
		BootstrapTimeout:  c.Timing.BootstrapTimeout,
		BootstrapPoll:     c.Timing.BootstrapInterval,
		Fragments:         c.Suppress.Fragments,
		Answer:            c.Selectors.Answer,
		Hangup:            c.Selectors.Hangup,
		Phrases:           c.Phrases,
	}
}
