package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Application settings
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// OPC-UA endpoint configuration
	OPCUA OPCUAConfig `mapstructure:"opcua"`

	// Embedded MQTT broker configuration
	Broker BrokerConfig `mapstructure:"broker"`

	// HTTP server (WebSocket + status) configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// Simulation defaults
	Simulation SimulationConfig `mapstructure:"simulation"`

	// Catalog file locations
	Catalog CatalogConfig `mapstructure:"catalog"`
}

// OPCUAConfig holds the OPC-UA endpoint configuration
type OPCUAConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// BrokerConfig holds the embedded MQTT broker configuration
type BrokerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// HTTPConfig holds the WebSocket/status server configuration
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SimulationConfig holds simulation kernel defaults
type SimulationConfig struct {
	IntervalMs       float64 `mapstructure:"interval_ms"`
	TimeAcceleration float64 `mapstructure:"time_acceleration"`
	AutoStart        bool    `mapstructure:"auto_start"`
	Seed             int64   `mapstructure:"seed"`
}

// CatalogConfig holds the information-model catalog file paths
type CatalogConfig struct {
	TypesPath  string `mapstructure:"types_path"`
	AssetsPath string `mapstructure:"assets_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		// Set defaults
		AppName:   "ipsim",
		LogLevel:  "info",
		LogFormat: "text",
		OPCUA: OPCUAConfig{
			Host:     "0.0.0.0",
			Port:     4840,
			CertFile: "pki/server.crt",
			KeyFile:  "pki/server.key",
		},
		Broker: BrokerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    1883,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Simulation: SimulationConfig{
			IntervalMs:       1000.0,
			TimeAcceleration: 1.0,
			AutoStart:        false,
		},
		Catalog: CatalogConfig{
			TypesPath:  "config/types.yaml",
			AssetsPath: "config/assets.json",
		},
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Add config paths
	if configPath != "" {
		if filepath.IsAbs(configPath) {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(filepath.Dir(configPath))
			viper.SetConfigName(filepath.Base(configPath[:len(configPath)-len(filepath.Ext(configPath))]))
		}
	}

	// Add common config paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/ipsim")

	// Environment variable support
	viper.SetEnvPrefix("IPSIM")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found is acceptable, we'll use defaults and env vars
	}

	// Unmarshal into struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}

	// Override with environment variables
	if port := os.Getenv("IPSIM_OPCUA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.OPCUA.Port = p
		}
	}
	if port := os.Getenv("IPSIM_BROKER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Broker.Port = p
		}
	}
	if port := os.Getenv("IPSIM_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	return config, nil
}
