package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/maltedev/size-stock-monitor/internal/ratelimit"
)

const EnvPrefix = "STOCKMON"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MonitorConfig controls pacing of the polling loop. Cycle bounds are in seconds.
type MonitorConfig struct {
	CheckIntervalMin int           `mapstructure:"check_interval_min"`
	CheckIntervalMax int           `mapstructure:"check_interval_max"`
	ProductDelayMin  time.Duration `mapstructure:"product_delay_min"`
	ProductDelayMax  time.Duration `mapstructure:"product_delay_max"`
	CheckTimeout     time.Duration `mapstructure:"check_timeout"`
	ReconnectOnFatal bool          `mapstructure:"reconnect_on_fatal"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
}

func (m MonitorConfig) CycleDelay() ratelimit.Jitter {
	return ratelimit.NewJitter(time.Duration(m.CheckIntervalMin)*time.Second, time.Duration(m.CheckIntervalMax)*time.Second)
}

func (m MonitorConfig) ProductDelay() ratelimit.Jitter {
	return ratelimit.NewJitter(m.ProductDelayMin, m.ProductDelayMax)
}

type BrowserConfig struct {
	Headless           bool          `mapstructure:"headless"`
	Timeout            time.Duration `mapstructure:"timeout"`
	WaitTimeout        time.Duration `mapstructure:"wait_timeout"`
	ViewportWidth      int           `mapstructure:"viewport_width"`
	ViewportHeight     int           `mapstructure:"viewport_height"`
	Locale             string        `mapstructure:"locale"`
	TimezoneID         string        `mapstructure:"timezone"`
	ProxyServer        string        `mapstructure:"proxy_server"`
	UserAgents         []string      `mapstructure:"user_agents"`
	NavigationDelayMin time.Duration `mapstructure:"navigation_delay_min"`
	NavigationDelayMax time.Duration `mapstructure:"navigation_delay_max"`
	ScreenshotDir      string        `mapstructure:"screenshot_dir"`
	ScreenshotMaxWidth int           `mapstructure:"screenshot_max_width"`
}

type NotifyConfig struct {
	Discord DiscordConfig `mapstructure:"discord"`
	Stream  StreamConfig  `mapstructure:"stream"`
}

type DiscordConfig struct {
	Token             string  `mapstructure:"token"`
	BaseURL           string  `mapstructure:"base_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StreamConfig publishes alerts to a Redis stream in addition to (or instead of) Discord.
type StreamConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Name    string `mapstructure:"name"`
	MaxLen  int64  `mapstructure:"max_len"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig enables the optional Postgres check log.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.yaml (optional), STOCKMON_* environment variables and the
// legacy DISCORD_TOKEN / CHECK_INTERVAL_MIN / CHECK_INTERVAL_MAX variables.
func Load() (*Config, error) {
	return load(viper.New())
}

// LoadFile is Load with an explicit config file that must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/stock-monitor/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "https://localhost:*"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("monitor.check_interval_min", 60)
	v.SetDefault("monitor.check_interval_max", 180)
	v.SetDefault("monitor.product_delay_min", "2s")
	v.SetDefault("monitor.product_delay_max", "5s")
	v.SetDefault("monitor.check_timeout", "90s")
	v.SetDefault("monitor.reconnect_on_fatal", false)
	v.SetDefault("monitor.reconnect_delay", "5m")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "30s")
	v.SetDefault("browser.wait_timeout", "10s")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "Europe/Berlin")
	v.SetDefault("browser.proxy_server", "")
	v.SetDefault("browser.user_agents", []string{})
	v.SetDefault("browser.navigation_delay_min", "1s")
	v.SetDefault("browser.navigation_delay_max", "3s")
	v.SetDefault("browser.screenshot_dir", "screenshots")
	v.SetDefault("browser.screenshot_max_width", 1024)

	v.SetDefault("notify.discord.token", "")
	v.SetDefault("notify.discord.base_url", "https://discord.com/api/v10")
	v.SetDefault("notify.discord.requests_per_second", 5.0)
	v.SetDefault("notify.discord.burst", 5)
	v.SetDefault("notify.stream.enabled", false)
	v.SetDefault("notify.stream.name", "stream:stock_alerts")
	v.SetDefault("notify.stream.max_len", 10000)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "stock_monitor")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"notify.discord.token":       "DISCORD_TOKEN",
		"monitor.check_interval_min": "CHECK_INTERVAL_MIN",
		"monitor.check_interval_max": "CHECK_INTERVAL_MAX",
	}
	for key, legacy := range bindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Monitor.CheckIntervalMin < 1 {
		return fmt.Errorf("monitor.check_interval_min must be at least 1 second")
	}
	if c.Monitor.CheckIntervalMin > c.Monitor.CheckIntervalMax {
		return fmt.Errorf("monitor.check_interval_min cannot be greater than monitor.check_interval_max")
	}
	if c.Monitor.ProductDelayMin > c.Monitor.ProductDelayMax {
		return fmt.Errorf("monitor.product_delay_min cannot be greater than monitor.product_delay_max")
	}
	if c.Monitor.CheckTimeout <= 0 {
		return fmt.Errorf("monitor.check_timeout must be positive")
	}
	if c.Browser.NavigationDelayMin > c.Browser.NavigationDelayMax {
		return fmt.Errorf("browser.navigation_delay_min cannot be greater than browser.navigation_delay_max")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text', got: %s", c.Logging.Format)
	}

	if c.Notify.Stream.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when notify.stream.enabled is set")
	}

	return nil
}

// HasNotifier reports whether any delivery backend is configured.
func (c *Config) HasNotifier() bool {
	return c.Notify.Discord.Token != "" || c.Notify.Stream.Enabled
}
