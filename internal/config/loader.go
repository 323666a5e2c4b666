package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"vexgate/internal/types"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
	logger     types.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(configPath string, logger types.Logger) *Loader {
	return &Loader{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from file or environment
func (l *Loader) LoadConfig() (*types.GatewayConfig, error) {
	// Setup viper
	if l.configPath != "" {
		viper.SetConfigFile(l.configPath)
	} else {
		// Look for config in standard locations
		viper.SetConfigName("vexgate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/vexgate/")
		viper.AddConfigPath("$HOME/.vexgate")
	}

	// Enable environment variables
	viper.SetEnvPrefix("VEXGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			l.logger.Warn("No config file found, using defaults and environment")
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		l.logger.Info("Loaded configuration", "file", viper.ConfigFileUsed())
	}

	// Unmarshal configuration
	var cfg types.GatewayConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromBytes loads configuration from byte array (for testing)
func LoadFromBytes(data []byte, format string) (*types.GatewayConfig, error) {
	viper.SetConfigType(format)

	// Set defaults
	setDefaults()

	// Read from bytes
	if err := viper.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Unmarshal configuration
	var cfg types.GatewayConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
