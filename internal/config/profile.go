package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/edgeflow/modbus/internal/hal"
)

// Profile represents a build/runtime profile for the gateway daemon,
// scaling resource limits to the hosting board.
type Profile string

const (
	// ProfileMinimal - Pi Zero, BeagleBone (512MB RAM): a single RTU
	// interface, no concurrent bridging.
	ProfileMinimal Profile = "minimal"

	// ProfileStandard - Pi 3/4, Orange Pi (1GB RAM): a handful of
	// interfaces, bridge role enabled.
	ProfileStandard Profile = "standard"

	// ProfileFull - Pi 4/5, Jetson Nano (2GB+ RAM): many interfaces,
	// with the highest caps (64 interfaces, 256 pending requests).
	ProfileFull Profile = "full"
)

// ProfileConfig holds profile-specific resource limits.
type ProfileConfig struct {
	Name        Profile `mapstructure:"name"`
	Description string  `mapstructure:"description"`

	MaxMemory          int64 `mapstructure:"max_memory"`           // Max resident memory in MB
	MaxGoroutines      int   `mapstructure:"max_goroutines"`       // Max concurrent goroutines
	MaxInterfaces      int   `mapstructure:"max_interfaces"`       // Max bound transport Interfaces
	MaxPendingRequests int   `mapstructure:"max_pending_requests"` // Max outstanding Client requests across all interfaces

	Modules  ModulesConfig  `mapstructure:"modules"`
	Features FeaturesConfig `mapstructure:"features"`
}

// ModulesConfig toggles optional hardware/runtime surfaces for a profile.
type ModulesConfig struct {
	GPIO bool `mapstructure:"gpio"` // RS-485 DE-pin drive via internal/hal
}

// FeaturesConfig toggles optional daemon-level behaviors. cmd/gateway reads
// only APIAuth; Metrics, DebugMode and ResourceMonitor are carried in the
// profile but not consulted, and /metrics is always served.
type FeaturesConfig struct {
	APIAuth         bool `mapstructure:"api_auth"`         // Enable JWT auth on the status/control API
	Metrics         bool `mapstructure:"metrics"`          // Expose /metrics
	DebugMode       bool `mapstructure:"debug_mode"`       // Verbose logging
	ResourceMonitor bool `mapstructure:"resource_monitor"` // Periodic health.go system checks
}

// GetDefaultProfiles returns the default profile configurations.
func GetDefaultProfiles() map[Profile]*ProfileConfig {
	return map[Profile]*ProfileConfig{
		ProfileMinimal: {
			Name:               ProfileMinimal,
			Description:        "Minimal profile for Pi Zero, BeagleBone (512MB RAM)",
			MaxMemory:          50,
			MaxGoroutines:      50,
			MaxInterfaces:      1,
			MaxPendingRequests: 4,
			Modules: ModulesConfig{
				GPIO: true,
			},
			Features: FeaturesConfig{
				APIAuth:         false,
				Metrics:         false,
				DebugMode:       false,
				ResourceMonitor: true,
			},
		},
		ProfileStandard: {
			Name:               ProfileStandard,
			Description:        "Standard profile for Pi 3/4, Orange Pi (1GB RAM)",
			MaxMemory:          200,
			MaxGoroutines:      200,
			MaxInterfaces:      8,
			MaxPendingRequests: 32,
			Modules: ModulesConfig{
				GPIO: true,
			},
			Features: FeaturesConfig{
				APIAuth:         true,
				Metrics:         true,
				DebugMode:       false,
				ResourceMonitor: true,
			},
		},
		ProfileFull: {
			Name:               ProfileFull,
			Description:        "Full profile for Pi 4/5, Jetson Nano (2GB+ RAM)",
			MaxMemory:          400,
			MaxGoroutines:      1000,
			MaxInterfaces:      64,
			MaxPendingRequests: 256,
			Modules: ModulesConfig{
				GPIO: true,
			},
			Features: FeaturesConfig{
				APIAuth:         true,
				Metrics:         true,
				DebugMode:       true,
				ResourceMonitor: true,
			},
		},
	}
}

// LoadProfile loads a profile configuration, overriding defaults with
// any configs/profile-<name>.yaml found on disk.
func LoadProfile(profileName string) (*ProfileConfig, error) {
	profile := Profile(profileName)

	defaults := GetDefaultProfiles()
	defaultConfig, exists := defaults[profile]
	if !exists {
		return nil, fmt.Errorf("unknown profile: %s", profileName)
	}

	v := viper.New()
	v.SetConfigName(fmt.Sprintf("profile-%s", profileName))
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(getConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read profile config: %w", err)
		}
		return defaultConfig, nil
	}

	var cfg ProfileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile config: %w", err)
	}

	mergeProfileConfig(&cfg, defaultConfig)

	return &cfg, nil
}

// DetectProfile automatically picks the best profile for the current system.
func DetectProfile() Profile {
	var memInfo runtime.MemStats
	runtime.ReadMemStats(&memInfo)

	totalMem := memInfo.Sys / 1024 / 1024 // MB

	isARM := runtime.GOARCH == "arm" || runtime.GOARCH == "arm64"

	if !isARM {
		return ProfileFull
	}

	if totalMem < 256 {
		return ProfileMinimal
	} else if totalMem < 1024 {
		return ProfileStandard
	}

	return ProfileFull
}

// ProfileForBoardInfo maps a detected board to the profile sized for it.
// It defers to internal/hal for the actual board identification (cpuinfo
// and device-tree model matching) rather than re-deriving it here; boards
// hal can't identify (info.Model == BoardUnknown — BeagleBone, Orange Pi,
// Jetson, or a non-ARM host) fall back to DetectProfile's memory-based
// heuristic.
func ProfileForBoardInfo(info *hal.BoardInfo) Profile {
	switch info.Model {
	case hal.BoardRPiZero, hal.BoardRPiZeroW, hal.BoardRPiZero2W:
		return ProfileMinimal
	case hal.BoardRPi1, hal.BoardRPi2, hal.BoardRPi3, hal.BoardRPi3Plus:
		return ProfileStandard
	case hal.BoardRPi4, hal.BoardRPi5, hal.BoardRPiCM3, hal.BoardRPiCM4:
		return ProfileFull
	default:
		return DetectProfile()
	}
}

func mergeProfileConfig(cfg *ProfileConfig, defaults *ProfileConfig) {
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Description == "" {
		cfg.Description = defaults.Description
	}
	if cfg.MaxMemory == 0 {
		cfg.MaxMemory = defaults.MaxMemory
	}
	if cfg.MaxGoroutines == 0 {
		cfg.MaxGoroutines = defaults.MaxGoroutines
	}
	if cfg.MaxInterfaces == 0 {
		cfg.MaxInterfaces = defaults.MaxInterfaces
	}
	if cfg.MaxPendingRequests == 0 {
		cfg.MaxPendingRequests = defaults.MaxPendingRequests
	}
}

// SaveProfileConfig saves a profile configuration to file.
func SaveProfileConfig(profileName string, cfg *ProfileConfig) error {
	configPath := filepath.Join(getConfigDir(), fmt.Sprintf("profile-%s.yaml", profileName))

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("name", cfg.Name)
	v.Set("description", cfg.Description)
	v.Set("max_memory", cfg.MaxMemory)
	v.Set("max_goroutines", cfg.MaxGoroutines)
	v.Set("max_interfaces", cfg.MaxInterfaces)
	v.Set("max_pending_requests", cfg.MaxPendingRequests)
	v.Set("modules", cfg.Modules)
	v.Set("features", cfg.Features)

	return v.WriteConfigAs(configPath)
}

// ValidateProfile validates a profile configuration.
func ValidateProfile(cfg *ProfileConfig) error {
	if cfg.MaxMemory < 10 {
		return fmt.Errorf("max_memory must be at least 10MB")
	}
	if cfg.MaxGoroutines < 10 {
		return fmt.Errorf("max_goroutines must be at least 10")
	}
	if cfg.MaxInterfaces < 1 {
		return fmt.Errorf("max_interfaces must be at least 1")
	}
	if cfg.MaxPendingRequests < 1 {
		return fmt.Errorf("max_pending_requests must be at least 1")
	}
	return nil
}
