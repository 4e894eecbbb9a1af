package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		Interactions string `mapstructure:"interactions"`
	} `mapstructure:"topics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig holds every ranking knob. The weight table is monotone by
// intent strength (purchase > cart > wishlist > view = search); a change
// to any knob only takes effect on the next full rebuild.
type EngineConfig struct {
	Weights       WeightConfig        `mapstructure:"weights"`
	Vectorizer    VectorizerConfig    `mapstructure:"vectorizer"`
	Content       ContentConfig       `mapstructure:"content"`
	Collaborative CollaborativeConfig `mapstructure:"collaborative"`
	Trending      TrendingConfig      `mapstructure:"trending"`
	Hybrid        HybridConfig        `mapstructure:"hybrid"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Rebuild       RebuildConfig       `mapstructure:"rebuild"`
}

type WeightConfig struct {
	View     float64 `mapstructure:"view"`
	Cart     float64 `mapstructure:"cart"`
	Wishlist float64 `mapstructure:"wishlist"`
	Purchase float64 `mapstructure:"purchase"`
	Search   float64 `mapstructure:"search"`
}

// Of returns the weight for an interaction kind, defaulting to the view
// weight for kinds the table does not know.
func (w *WeightConfig) Of(kind string) float64 {
	switch kind {
	case "purchase":
		return w.Purchase
	case "cart":
		return w.Cart
	case "wishlist":
		return w.Wishlist
	case "search":
		return w.Search
	default:
		return w.View
	}
}

type VectorizerConfig struct {
	VocabularySize int `mapstructure:"vocabulary_size"`
	MinTermLength  int `mapstructure:"min_term_length"`
}

type ContentConfig struct {
	TopK int `mapstructure:"top_k"`
}

type CollaborativeConfig struct {
	Lookback        time.Duration `mapstructure:"lookback"`
	MinInteractions int           `mapstructure:"min_interactions"`
	MaxNeighbors    int           `mapstructure:"max_neighbors"`
	ProfileKinds    []string      `mapstructure:"profile_kinds"`
}

type TrendingConfig struct {
	HalfLife      time.Duration `mapstructure:"half_life"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
	MaxWindow     time.Duration `mapstructure:"max_window"`
}

type HybridConfig struct {
	RecentItems        int `mapstructure:"recent_items"`
	NeighborsPerRecent int `mapstructure:"neighbors_per_recent"`
}

type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type RebuildConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	CatalogInterval time.Duration `mapstructure:"catalog_interval"`
	FailureAlert    int           `mapstructure:"failure_alert"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.url", "localhost:6379")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", "5s")

	// Kafka defaults
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topics.interactions", "interaction-events")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Interaction weight defaults
	viper.SetDefault("engine.weights.view", 1.0)
	viper.SetDefault("engine.weights.search", 1.0)
	viper.SetDefault("engine.weights.wishlist", 2.0)
	viper.SetDefault("engine.weights.cart", 3.0)
	viper.SetDefault("engine.weights.purchase", 5.0)

	// Vectorizer defaults
	viper.SetDefault("engine.vectorizer.vocabulary_size", 20000)
	viper.SetDefault("engine.vectorizer.min_term_length", 2)

	// Content index defaults
	viper.SetDefault("engine.content.top_k", 20)

	// Collaborative defaults
	viper.SetDefault("engine.collaborative.lookback", "2160h") // 90 days
	viper.SetDefault("engine.collaborative.min_interactions", 2)
	viper.SetDefault("engine.collaborative.max_neighbors", 50)
	viper.SetDefault("engine.collaborative.profile_kinds", []string{"purchase", "cart", "wishlist"})

	// Trending defaults
	viper.SetDefault("engine.trending.half_life", "24h")
	viper.SetDefault("engine.trending.default_window", "168h") // 7 days
	viper.SetDefault("engine.trending.max_window", "720h")     // 30 days

	// Hybrid defaults
	viper.SetDefault("engine.hybrid.recent_items", 5)
	viper.SetDefault("engine.hybrid.neighbors_per_recent", 5)

	// Cache defaults
	viper.SetDefault("engine.cache.enabled", true)
	viper.SetDefault("engine.cache.result_ttl", "15m")
	viper.SetDefault("engine.cache.key_prefix", "rec")

	// Rebuild defaults
	viper.SetDefault("engine.rebuild.interval", "1h")
	viper.SetDefault("engine.rebuild.catalog_interval", "5m")
	viper.SetDefault("engine.rebuild.failure_alert", 3)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
