package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/omarafosh/NFC-Card-Germany/internal/api/http"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
)

const (
	DRIVER_MEMORY   = "memory"
	DRIVER_POSTGRES = "postgres"

	TRANSPORT_PCSC = "pcsc"
	TRANSPORT_HID  = "hid"
)

type Config struct {
	Log       LogConfig
	Signature SignatureConfig
	Terminal  TerminalConfig
	Hardware  HardwareConfig
	Remote    RemoteConfig
	Sync      SyncConfig
	Heartbeat HeartbeatConfig
	Http      http.Config
}

type SignatureConfig struct {
	Secret string `mapstructure:"secret" json:"-"`
}

type TerminalConfig struct {
	Dir string `mapstructure:"dir"`
}

type HardwareConfig struct {
	Transport    string        `mapstructure:"transport"`
	VendorID     uint16        `mapstructure:"vendor_id"`
	ProductID    uint16        `mapstructure:"product_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	AccessBlock  int           `mapstructure:"access_block"`

	NewCardWindow time.Duration `mapstructure:"new_card_window"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type RemoteConfig struct {
	Driver        string `mapstructure:"driver"`
	URL           string `mapstructure:"url" json:"-"`
	Schema        string `mapstructure:"schema"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type SyncConfig struct {
	ScanAttempts    int           `mapstructure:"scan_attempts"`
	ScanBaseDelay   time.Duration `mapstructure:"scan_base_delay"`
	UpdateAttempts  int           `mapstructure:"update_attempts"`
	UpdateBaseDelay time.Duration `mapstructure:"update_base_delay"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

type HeartbeatConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ConfigurationError marks failures the operator has to fix before the
// bridge can start.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

var (
	errUnknownDriver    = errors.New("unknown driver")
	errUnknownTransport = errors.New("unknown transport")
	errMissingURL       = errors.New("database url is required for the postgres driver")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)
	v.SetDefault("terminal.dir", ".")
	v.SetDefault("hardware.transport", TRANSPORT_PCSC)
	v.SetDefault("hardware.access_block", 4)
	v.SetDefault("hardware.new_card_window", 50*time.Millisecond)
	v.SetDefault("hardware.verify_timeout", 800*time.Millisecond)
	v.SetDefault("hardware.write_timeout", 5*time.Second)
	v.SetDefault("remote.driver", DRIVER_POSTGRES)
	v.SetDefault("remote.schema", "public")
	v.SetDefault("remote.max_conns", 4)
	v.SetDefault("remote.min_conns", 1)
	v.SetDefault("sync.scan_attempts", 3)
	v.SetDefault("sync.scan_base_delay", time.Second)
	v.SetDefault("sync.update_attempts", 2)
	v.SetDefault("sync.update_base_delay", 500*time.Millisecond)
	v.SetDefault("sync.call_timeout", 10*time.Second)
	v.SetDefault("heartbeat.interval", 10*time.Second)
	v.SetDefault("heartbeat.shutdown_timeout", 5*time.Second)
	v.SetDefault("http.enabled", false)
	v.SetDefault("http.address", "127.0.0.1:8765")
	v.SetDefault("http.token_expiry", 24*time.Hour)
}

// LoadConfig reads application.yaml from path, or from the usual locations
// when path is empty. A missing file is not an error; everything can come
// from the environment.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("application")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/nfc-bridge")
	}
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("signature.secret", "NFC_SIGNATURE_SECRET")
	_ = v.BindEnv("remote.url", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, &ConfigurationError{Field: "config", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &ConfigurationError{Field: "config", Err: err}
	}
	return cfg, nil
}

// Validate checks what every command needs before touching hardware or the
// database.
func (c Config) Validate() error {
	if _, err := signature.New(c.Signature.Secret); err != nil {
		return &ConfigurationError{Field: "signature.secret", Err: err}
	}
	switch strings.ToLower(c.Hardware.Transport) {
	case TRANSPORT_PCSC, TRANSPORT_HID:
	default:
		return &ConfigurationError{Field: "hardware.transport", Err: fmt.Errorf("%w: %q", errUnknownTransport, c.Hardware.Transport)}
	}
	if err := c.Http.Validate(); err != nil {
		return &ConfigurationError{Field: "http.address", Err: err}
	}
	return c.Remote.validate()
}

func (r RemoteConfig) validate() error {
	switch strings.ToLower(r.Driver) {
	case DRIVER_MEMORY:
		return nil
	case DRIVER_POSTGRES:
		if r.URL == "" {
			return &ConfigurationError{Field: "remote.url", Err: errMissingURL}
		}
		return nil
	default:
		return &ConfigurationError{Field: "remote.driver", Err: fmt.Errorf("%w: %q", errUnknownDriver, r.Driver)}
	}
}

func logConfig(cfg Config) {
	if strings.ToUpper(cfg.Log.Level) != LOG_LEVEL_DEBUG {
		return
	}
	configJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err == nil {
		fmt.Println("Config loaded:")
		fmt.Println(string(configJSON))
	}
}
