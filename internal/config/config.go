package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/eternallink/arlink/internal/gesture"
)

// FileName is the config file looked up in the config directory.
const FileName = "arlink.cfg.json"

// APIConfig holds the REST collaborator settings.
type APIConfig struct {
	BaseURL string        `json:"baseUrl" mapstructure:"baseUrl"`
	Token   string        `json:"token" mapstructure:"token"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// CacheConfig holds the local video cache settings.
type CacheConfig struct {
	Type        string `json:"type" mapstructure:"type"` // memory, sqlite or postgres
	SQLitePath  string `json:"sqlitePath" mapstructure:"sqlitePath"`
	PostgresDSN string `json:"postgresDsn" mapstructure:"postgresDsn"`
}

// PlaybackConfig holds hologram playback settings.
type PlaybackConfig struct {
	MaxRuntimeAttempts int    `json:"maxRuntimeAttempts" mapstructure:"maxRuntimeAttempts"`
	DebugLogSize       int    `json:"debugLogSize" mapstructure:"debugLogSize"`
	BlobListenAddr     string `json:"blobListenAddr" mapstructure:"blobListenAddr"`
}

// RuntimeConfig holds the embedded AR runtime bridge settings.
type RuntimeConfig struct {
	URL         string        `json:"url" mapstructure:"url"`
	LoadTimeout time.Duration `json:"loadTimeout" mapstructure:"loadTimeout"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// InfluxConfig holds the optional InfluxDB telemetry sink settings.
type InfluxConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Token   string `json:"token" mapstructure:"token"`
	Org     string `json:"org" mapstructure:"org"`
	Bucket  string `json:"bucket" mapstructure:"bucket"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// LoadDefaults sets default values only, for runs without a config file.
func LoadDefaults() {
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./arlinklogs")

	viper.SetDefault("api.baseUrl", "http://localhost:3080/api")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("cache.type", "sqlite")
	viper.SetDefault("cache.sqlitePath", "./arlink-cache.db")
	viper.SetDefault("cache.postgresDsn", "")

	d := gesture.DefaultThresholds()
	viper.SetDefault("gesture.extended", d.Extended)
	viper.SetDefault("gesture.folded", d.Folded)
	viper.SetDefault("gesture.thumbMargin", d.ThumbMargin)
	viper.SetDefault("gesture.clapDistance", d.ClapDistance)

	viper.SetDefault("playback.maxRuntimeAttempts", 2)
	viper.SetDefault("playback.debugLogSize", 200)
	viper.SetDefault("playback.blobListenAddr", "127.0.0.1:0")

	viper.SetDefault("runtime.url", "")
	viper.SetDefault("runtime.loadTimeout", "20s")

	viper.SetDefault("poll.interval", "5s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "arlink")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "eternallink")
	viper.SetDefault("influx.bucket", "arlink")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetAPIConfig returns the REST client settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		BaseURL: viper.GetString("api.baseUrl"),
		Token:   viper.GetString("api.token"),
		Timeout: viper.GetDuration("api.timeout"),
	}
}

// GetCacheConfig returns the video cache settings.
func GetCacheConfig() CacheConfig {
	return CacheConfig{
		Type:        viper.GetString("cache.type"),
		SQLitePath:  viper.GetString("cache.sqlitePath"),
		PostgresDSN: viper.GetString("cache.postgresDsn"),
	}
}

// GetGestureConfig returns the classifier thresholds.
func GetGestureConfig() gesture.Thresholds {
	return gesture.Thresholds{
		Extended:     viper.GetFloat64("gesture.extended"),
		Folded:       viper.GetFloat64("gesture.folded"),
		ThumbMargin:  viper.GetFloat64("gesture.thumbMargin"),
		ClapDistance: viper.GetFloat64("gesture.clapDistance"),
	}
}

// GetPlaybackConfig returns the playback settings.
func GetPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		MaxRuntimeAttempts: viper.GetInt("playback.maxRuntimeAttempts"),
		DebugLogSize:       viper.GetInt("playback.debugLogSize"),
		BlobListenAddr:     viper.GetString("playback.blobListenAddr"),
	}
}

// GetRuntimeConfig returns the AR runtime bridge settings.
func GetRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		URL:         viper.GetString("runtime.url"),
		LoadTimeout: viper.GetDuration("runtime.loadTimeout"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL:     viper.GetString("influx.url"),
		Token:   viper.GetString("influx.token"),
		Org:     viper.GetString("influx.org"),
		Bucket:  viper.GetString("influx.bucket"),
	}
}
