package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Overpass  OverpassConfig  `mapstructure:"overpass"`
	Fleet     FleetConfig     `mapstructure:"fleet"`
	Scene     SceneConfig     `mapstructure:"scene"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	// BodyLimit caps request bodies in bytes; area payloads carry footprints.
	BodyLimit int `mapstructure:"body_limit"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type OverpassConfig struct {
	URL string `mapstructure:"url"`
	// Timeout is the HTTP timeout in seconds.
	Timeout int `mapstructure:"timeout"`
	// CacheTTL is how long road responses are cached, in seconds. Zero disables caching.
	CacheTTL int `mapstructure:"cache_ttl"`
	// CachePath is the sqlite file used by the CLI.
	CachePath string `mapstructure:"cache_path"`
}

type FleetConfig struct {
	APIBase string `mapstructure:"api_base"`
	Token   string `mapstructure:"token"`
}

type SceneConfig struct {
	Scale         float64 `mapstructure:"scale"`
	RoadElevation float64 `mapstructure:"road_elevation"`
	Workers       int     `mapstructure:"workers"`
	GroundTexture string  `mapstructure:"ground_texture"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: MAP3D_OVERPASS_URL → overpass.url
	v.SetEnvPrefix("MAP3D")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.body_limit", 16*1024*1024)
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "map3d")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "map3d")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout", 30)
	v.SetDefault("overpass.cache_ttl", 3600)
	v.SetDefault("overpass.cache_path", "map3d-cache.db")
	v.SetDefault("fleet.api_base", "http://localhost:3000/api")
	v.SetDefault("fleet.token", "")
	v.SetDefault("scene.scale", 111320.0)
	v.SetDefault("scene.road_elevation", 0.1)
	v.SetDefault("scene.workers", 8)
	v.SetDefault("scene.ground_texture", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	}
	if c.Overpass.URL == "" {
		errs = append(errs, "overpass.url is required")
	}
	if c.Overpass.Timeout <= 0 {
		errs = append(errs, "overpass.timeout must be positive")
	}
	if c.Overpass.CacheTTL < 0 {
		errs = append(errs, "overpass.cache_ttl must not be negative")
	}
	if c.Fleet.APIBase == "" {
		errs = append(errs, "fleet.api_base is required")
	}
	if c.Scene.Scale <= 0 {
		errs = append(errs, fmt.Sprintf("scene.scale must be positive, got %g", c.Scene.Scale))
	}
	if c.Scene.RoadElevation < 0 {
		errs = append(errs, "scene.road_elevation must not be negative")
	}
	if c.Scene.Workers <= 0 {
		errs = append(errs, "scene.workers must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
