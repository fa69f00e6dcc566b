package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Values come from defaults,
// an optional YAML file (POLITIKCRED_CONFIG) and POLITIKCRED_* environment
// variables, in increasing precedence.
type Config struct {
	Server   Server
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Pipeline Pipeline
	Matching Matching
	Scoring  Scoring
	OpenAI   OpenAI
	Sources  []Source
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	AdminToken    string
	TriggerSecret string
	TriggerIssuer string
}

type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SeenTTL      time.Duration
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Pipeline struct {
	Workers    int
	StaleAfter time.Duration
	RunTimeout time.Duration
}

type Matching struct {
	MinConfidence float64
	Lookback      time.Duration
	Lookahead     time.Duration
	UseOpenAI     bool
}

type Scoring struct {
	HalfLife        time.Duration
	AutomatedWeight float64
	Steepness       float64
}

type OpenAI struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Source configures one external action feed.
type Source struct {
	ID            string        `mapstructure:"id"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.trigger_secret", "")
	v.SetDefault("server.trigger_issuer", "politikcred-scheduler")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.seen_ttl", 30*24*time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "politikcred.pipeline")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.stale_after", 6*time.Hour)
	v.SetDefault("pipeline.run_timeout", 2*time.Hour)

	v.SetDefault("matching.min_confidence", 0.35)
	v.SetDefault("matching.lookback", 90*24*time.Hour)
	v.SetDefault("matching.lookahead", 5*365*24*time.Hour)
	v.SetDefault("matching.use_openai", false)

	v.SetDefault("scoring.half_life", 365*24*time.Hour)
	v.SetDefault("scoring.automated_weight", 0.5)
	v.SetDefault("scoring.steepness", 1.0)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 30*time.Second)
	v.SetDefault("openai.cache_ttl", 7*24*time.Hour)
}

// FromEnv builds the configuration so main stays lean.
func FromEnv() (Config, error) {
	return Load(viper.New())
}

// Load reads configuration through the given viper instance.
func Load(v *viper.Viper) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("POLITIKCRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Server: Server{
			Addr:          v.GetString("server.addr"),
			LogLevel:      v.GetString("server.log_level"),
			AdminToken:    v.GetString("server.admin_token"),
			TriggerSecret: v.GetString("server.trigger_secret"),
			TriggerIssuer: v.GetString("server.trigger_issuer"),
		},
		Database: Database{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
			SeenTTL:      v.GetDuration("redis.seen_ttl"),
		},
		Kafka: Kafka{
			Brokers: splitList(v.GetStringSlice("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Pipeline: Pipeline{
			Workers:    v.GetInt("pipeline.workers"),
			StaleAfter: v.GetDuration("pipeline.stale_after"),
			RunTimeout: v.GetDuration("pipeline.run_timeout"),
		},
		Matching: Matching{
			MinConfidence: v.GetFloat64("matching.min_confidence"),
			Lookback:      v.GetDuration("matching.lookback"),
			Lookahead:     v.GetDuration("matching.lookahead"),
			UseOpenAI:     v.GetBool("matching.use_openai"),
		},
		Scoring: Scoring{
			HalfLife:        v.GetDuration("scoring.half_life"),
			AutomatedWeight: v.GetFloat64("scoring.automated_weight"),
			Steepness:       v.GetFloat64("scoring.steepness"),
		},
		OpenAI: OpenAI{
			APIKey:   v.GetString("openai.api_key"),
			BaseURL:  v.GetString("openai.base_url"),
			Model:    v.GetString("openai.model"),
			Timeout:  v.GetDuration("openai.timeout"),
			CacheTTL: v.GetDuration("openai.cache_ttl"),
		},
	}
	if err := v.UnmarshalKey("sources", &cfg.Sources); err != nil {
		return Config{}, fmt.Errorf("decode sources: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Matching.MinConfidence < 0 || c.Matching.MinConfidence > 1 {
		return fmt.Errorf("matching.min_confidence must be within [0,1], got %v", c.Matching.MinConfidence)
	}
	if c.Scoring.HalfLife < 0 {
		return fmt.Errorf("scoring.half_life must not be negative")
	}
	if c.Scoring.Steepness <= 0 {
		return fmt.Errorf("scoring.steepness must be positive")
	}
	if c.Scoring.AutomatedWeight < 0 || c.Scoring.AutomatedWeight > 1 {
		return fmt.Errorf("scoring.automated_weight must be within [0,1]")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		id := strings.ToLower(strings.TrimSpace(s.ID))
		if id == "" {
			return fmt.Errorf("source without id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[id] = struct{}{}
		if s.BaseURL == "" {
			return fmt.Errorf("source %q has no base_url", s.ID)
		}
	}
	return nil
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
