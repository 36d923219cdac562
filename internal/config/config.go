// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lostwheel-gateway/internal/auth"
	"lostwheel-gateway/internal/device"
	"lostwheel-gateway/internal/registry"
)

type Config struct {
	Server struct {
		ControlPort int `mapstructure:"control_port"`
		UIPort      int `mapstructure:"ui_port"`
	} `mapstructure:"server"`
	Acquisition Acquisition `mapstructure:"acquisition"`
	Devices     struct {
		Match string `mapstructure:"match"`
	} `mapstructure:"devices"`
	// Sessions assigned at startup; may be empty.
	Sessions []SessionEntry `mapstructure:"sessions"`
	Anomaly  struct {
		Rules           map[string]Rule `mapstructure:"rules"`
		ClockRegression bool            `mapstructure:"clock_regression"`
	} `mapstructure:"anomaly"`
	Auth auth.Config `mapstructure:"auth"`
	MQTT MQTT        `mapstructure:"mqtt"`
	Log  struct {
		Level   string `mapstructure:"level"`
		NoColor bool   `mapstructure:"no_color"`
	} `mapstructure:"log"`
}

type Acquisition struct {
	BasePath         string        `mapstructure:"base_path"`
	BaudRate         int           `mapstructure:"baud_rate"`
	WindowSize       int           `mapstructure:"window_size"`
	CapacityFactor   int           `mapstructure:"capacity_factor"`
	BinPeriod        int           `mapstructure:"bin_period"`
	BinsCapacity     int           `mapstructure:"bins_capacity"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

// SessionEntry assigns a session id to a port; the serial number is looked
// up through discovery unless given.
type SessionEntry struct {
	ID           string `mapstructure:"id"`
	Port         string `mapstructure:"port"`
	SerialNumber string `mapstructure:"serial_number"`
}

type Rule struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

type MQTT struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Load reads config.yaml from path, then WHEEL_* environment overrides.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("wheel")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.control_port", 8080)
	v.SetDefault("server.ui_port", 8081)
	v.SetDefault("acquisition.base_path", "./recordings")
	v.SetDefault("acquisition.baud_rate", device.BaudRate)
	v.SetDefault("acquisition.window_size", 300)
	v.SetDefault("acquisition.capacity_factor", 5)
	v.SetDefault("acquisition.bin_period", 60)
	v.SetDefault("acquisition.bins_capacity", 120)
	v.SetDefault("acquisition.read_timeout", 100*time.Millisecond)
	v.SetDefault("devices.match", device.DefaultMatch)
	v.SetDefault("anomaly.clock_regression", true)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_expiration", 60)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "lostwheel-gateway")
	v.SetDefault("mqtt.topic_prefix", "lostwheel")
	v.SetDefault("mqtt.timeout", 2*time.Second)
	v.SetDefault("log.level", "info")
}

// Validate checks values that would make sessions unusable.
func (c *Config) Validate() error {
	a := c.Acquisition
	switch {
	case a.WindowSize < 1:
		return fmt.Errorf("acquisition.window_size must be positive, got %d", a.WindowSize)
	case a.CapacityFactor < 1:
		return fmt.Errorf("acquisition.capacity_factor must be positive, got %d", a.CapacityFactor)
	case a.BinPeriod < 1:
		return fmt.Errorf("acquisition.bin_period must be positive, got %d", a.BinPeriod)
	case a.BinsCapacity < 1:
		return fmt.Errorf("acquisition.bins_capacity must be positive, got %d", a.BinsCapacity)
	case a.ReadTimeout <= 0:
		return fmt.Errorf("acquisition.read_timeout must be positive, got %s", a.ReadTimeout)
	case a.BaudRate != device.BaudRate:
		return fmt.Errorf("acquisition.baud_rate is fixed at %d, got %d", device.BaudRate, a.BaudRate)
	}
	for name, r := range c.Anomaly.Rules {
		if r.Min > r.Max {
			return fmt.Errorf("anomaly rule %s: min %v above max %v", name, r.Min, r.Max)
		}
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		return errors.New("auth enabled without jwt_secret or api_keys")
	}
	return nil
}

// Assignments resolves the configured sessions; lookup supplies the serial
// number of a port when the entry does not carry one.
func (c *Config) Assignments(lookup func(port string) (device.Device, error)) ([]registry.Assignment, error) {
	out := make([]registry.Assignment, 0, len(c.Sessions))
	for _, e := range c.Sessions {
		dev := device.Device{Locator: e.Port, SerialNumber: e.SerialNumber}
		if dev.SerialNumber == "" {
			found, err := lookup(e.Port)
			if err != nil {
				return nil, fmt.Errorf("session %s: %w", e.ID, err)
			}
			dev = found
		}
		out = append(out, registry.Assignment{ID: e.ID, Device: dev})
	}
	return out, nil
}
