package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway daemon.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Logger     LoggerConfig      `mapstructure:"logger"`
	Interfaces []InterfaceConfig `mapstructure:"interfaces"`
	Role       RoleConfig        `mapstructure:"role"`

	// Profile pins the resource profile instead of auto-detecting it from
	// the host board. Empty means auto-detect via ProfileForBoardInfo.
	Profile string `mapstructure:"profile"`
}

// ServerConfig contains the gateway's own HTTP status/control API settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	LogDir string `mapstructure:"log_dir"`
}

// InterfaceConfig describes one bound transport Interface: either an RTU
// serial line or a TCP socket, in either CLIENT or SERVER role.
type InterfaceConfig struct {
	Name string `mapstructure:"name"`
	Mode string `mapstructure:"mode"` // "rtu" or "tcp"
	Role string `mapstructure:"role"` // "client" or "server"

	// RTU fields
	Device       string `mapstructure:"device"`        // e.g. /dev/ttyUSB0
	BaudRate     int    `mapstructure:"baud_rate"`
	DataBits     int    `mapstructure:"data_bits"`
	Parity       string `mapstructure:"parity"` // "N", "E", "O"
	StopBits     int    `mapstructure:"stop_bits"`
	DEPin        int    `mapstructure:"de_pin"`         // GPIO line for RS-485 driver enable, -1 if unused
	SilenceUs    int64  `mapstructure:"silence_us"`     // inter-frame silence override, 0 = derive from baud rate

	// TCP fields
	ListenAddr       string `mapstructure:"listen_addr"`       // server: host:port to accept on
	RemoteAddr       string `mapstructure:"remote_addr"`       // client: host:port to dial
	TxnSafetyTimeout int    `mapstructure:"txn_safety_timeout_ms"`

	// Client-role fields
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`

	// Server-role fields
	SlaveID              int  `mapstructure:"slave_id"`
	RejectUndefined      bool `mapstructure:"reject_undefined"`
	ReqMutexTimeoutMs    int  `mapstructure:"req_mutex_timeout_ms"` // -1 = block, 0 = try-lock, >0 = wait that many ms
	WordStoreCapacity    int  `mapstructure:"word_store_capacity"`
}

// RoleConfig selects which application role(s) the gateway runs.
type RoleConfig struct {
	Mode string `mapstructure:"mode"` // "client", "server", or "bridge"

	// Bridge-only: names of the two InterfaceConfig entries it joins.
	BridgeClientInterface string `mapstructure:"bridge_client_interface"`
	BridgeServerInterface string `mapstructure:"bridge_server_interface"`

	// Client-only: cron expression for scheduled polling, empty disables polling.
	PollSchedule string `mapstructure:"poll_schedule"`

	// Client-only: what the scheduled poll reads. PollFC must be one of
	// the four read function codes; defaults to holding-register read.
	PollSlaveID int    `mapstructure:"poll_slave_id"`
	PollFC      string `mapstructure:"poll_fc"`
	PollAddress int    `mapstructure:"poll_address"`
	PollCount   int    `mapstructure:"poll_count"`

	// Server-only: path to a YAML word-map file loaded at Server Begin().
	WordMapPath string `mapstructure:"word_map_path"`
}

// Load reads configuration from file and environment variables once; it
// does not watch the file for later changes (see Watch).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults
	}

	v.SetEnvPrefix("MODBUSGW")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Watch invokes onChange every time the config file is rewritten on disk,
// passing the freshly reloaded Config. It returns immediately; the watch
// runs for the lifetime of the process.
func Watch(configPath string, onChange func(*Config)) error {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("MODBUSGW")
	v.AutomaticEnv()

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_dir", "./logs")

	v.SetDefault("role.mode", "server")
	v.SetDefault("role.poll_fc", "read_holding_registers")
	v.SetDefault("role.poll_count", 1)
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".modbusgw")
}
