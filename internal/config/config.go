package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Feed      FeedConfig
	Redis     RedisConfig
	WebSocket WebSocketConfig
	NATS      NATSConfig
	Windows   WindowConfig
	Display   DisplayConfig
	API       APIConfig
	Metrics   MetricsConfig
}

type FeedConfig struct {
	Source             string
	ReconnectDelaySecs int
}

type RedisConfig struct {
	URL                string
	Channel            string
	CatalogRefreshSecs int
}

type WebSocketConfig struct {
	URL string
}

type NATSConfig struct {
	URL     string
	Subject string
}

type WindowConfig struct {
	BBOSecs             int
	TradeSecs           int
	PnlSecs             int
	SweepIntervalMillis int
}

type DisplayConfig struct {
	TradeTail     int
	PositionLimit int
	StreamBuffer  int
}

type APIConfig struct {
	BindAddress string
	CORSOrigins []string
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

func Load() (*Config, error) {
	cfg := &Config{
		Feed: FeedConfig{
			Source:             getEnv("MARKETBOARD__FEED__SOURCE", "redis"),
			ReconnectDelaySecs: getEnvInt("MARKETBOARD__FEED__RECONNECT_DELAY_SECS", 5),
		},
		Redis: RedisConfig{
			URL:                getEnv("MARKETBOARD__REDIS__URL", "redis://localhost:6379/0"),
			Channel:            getEnv("MARKETBOARD__REDIS__CHANNEL", "market_data"),
			CatalogRefreshSecs: getEnvInt("MARKETBOARD__REDIS__CATALOG_REFRESH_SECS", 60),
		},
		WebSocket: WebSocketConfig{
			URL: getEnv("MARKETBOARD__WEBSOCKET__URL", "ws://localhost:9001/stream"),
		},
		NATS: NATSConfig{
			URL:     getEnv("MARKETBOARD__NATS__URL", "nats://localhost:4222"),
			Subject: getEnv("MARKETBOARD__NATS__SUBJECT", "market.data"),
		},
		Windows: WindowConfig{
			BBOSecs:             getEnvInt("MARKETBOARD__WINDOWS__BBO_SECS", 300),
			TradeSecs:           getEnvInt("MARKETBOARD__WINDOWS__TRADE_SECS", 300),
			PnlSecs:             getEnvInt("MARKETBOARD__WINDOWS__PNL_SECS", 1800),
			SweepIntervalMillis: getEnvInt("MARKETBOARD__WINDOWS__SWEEP_INTERVAL_MILLIS", 100),
		},
		Display: DisplayConfig{
			TradeTail:     getEnvInt("MARKETBOARD__DISPLAY__TRADE_TAIL", 10),
			PositionLimit: getEnvInt("MARKETBOARD__DISPLAY__POSITION_LIMIT", 50),
			StreamBuffer:  getEnvInt("MARKETBOARD__DISPLAY__STREAM_BUFFER", 512),
		},
		API: APIConfig{
			BindAddress: getEnv("MARKETBOARD__API__BIND_ADDRESS", "0.0.0.0:8080"),
			CORSOrigins: getEnvSlice("MARKETBOARD__API__CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("MARKETBOARD__METRICS__ENABLED", true),
			Namespace: getEnv("MARKETBOARD__METRICS__NAMESPACE", "marketboard"),
		},
	}

	// Load TOML config file if it exists
	tomlPath := "config/default.toml"
	if _, err := os.Stat(tomlPath); err == nil {
		data, err := os.ReadFile(tomlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var tomlConfig struct {
			Feed      map[string]interface{} `toml:"feed"`
			Redis     map[string]interface{} `toml:"redis"`
			WebSocket map[string]interface{} `toml:"websocket"`
			NATS      map[string]interface{} `toml:"nats"`
			Windows   map[string]interface{} `toml:"windows"`
			Display   map[string]interface{} `toml:"display"`
			API       map[string]interface{} `toml:"api"`
			Metrics   map[string]interface{} `toml:"metrics"`
		}

		if err := toml.Unmarshal(data, &tomlConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Override with TOML values
		if v, ok := tomlConfig.Feed["source"].(string); ok {
			cfg.Feed.Source = v
		}
		if v, ok := tomlConfig.Feed["reconnect_delay_secs"].(int64); ok {
			cfg.Feed.ReconnectDelaySecs = int(v)
		}
		if v, ok := tomlConfig.Redis["url"].(string); ok {
			cfg.Redis.URL = v
		}
		if v, ok := tomlConfig.Redis["channel"].(string); ok {
			cfg.Redis.Channel = v
		}
		if v, ok := tomlConfig.Redis["catalog_refresh_secs"].(int64); ok {
			cfg.Redis.CatalogRefreshSecs = int(v)
		}
		if v, ok := tomlConfig.WebSocket["url"].(string); ok {
			cfg.WebSocket.URL = v
		}
		if v, ok := tomlConfig.NATS["url"].(string); ok {
			cfg.NATS.URL = v
		}
		if v, ok := tomlConfig.NATS["subject"].(string); ok {
			cfg.NATS.Subject = v
		}
		if v, ok := tomlConfig.Windows["bbo_secs"].(int64); ok {
			cfg.Windows.BBOSecs = int(v)
		}
		if v, ok := tomlConfig.Windows["trade_secs"].(int64); ok {
			cfg.Windows.TradeSecs = int(v)
		}
		if v, ok := tomlConfig.Windows["pnl_secs"].(int64); ok {
			cfg.Windows.PnlSecs = int(v)
		}
		if v, ok := tomlConfig.Windows["sweep_interval_millis"].(int64); ok {
			cfg.Windows.SweepIntervalMillis = int(v)
		}
		if v, ok := tomlConfig.Display["trade_tail"].(int64); ok {
			cfg.Display.TradeTail = int(v)
		}
		if v, ok := tomlConfig.Display["position_limit"].(int64); ok {
			cfg.Display.PositionLimit = int(v)
		}
		if v, ok := tomlConfig.Display["stream_buffer"].(int64); ok {
			cfg.Display.StreamBuffer = int(v)
		}
		if v, ok := tomlConfig.API["bind_address"].(string); ok {
			cfg.API.BindAddress = v
		}
		if v, ok := tomlConfig.API["cors_origins"].([]interface{}); ok {
			origins := make([]string, 0, len(v))
			for _, o := range v {
				if s, ok := o.(string); ok {
					origins = append(origins, s)
				}
			}
			cfg.API.CORSOrigins = origins
		}
		if v, ok := tomlConfig.Metrics["enabled"].(bool); ok {
			cfg.Metrics.Enabled = v
		}
		if v, ok := tomlConfig.Metrics["namespace"].(string); ok {
			cfg.Metrics.Namespace = v
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Feed.Source {
	case "redis", "websocket", "nats":
	default:
		return fmt.Errorf("feed source must be redis, websocket or nats, got %q", c.Feed.Source)
	}
	if c.Windows.BBOSecs <= 0 || c.Windows.TradeSecs <= 0 || c.Windows.PnlSecs <= 0 {
		return fmt.Errorf("window durations must be positive")
	}
	if c.Windows.SweepIntervalMillis <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
