package core

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/quka-ai/ragstream/app/core/srv"
	"github.com/quka-ai/ragstream/pkg/r2r"
	"github.com/quka-ai/ragstream/pkg/types"
)

const (
	DEFAULT_ADDR            = ":8080"
	DEFAULT_TOKEN_DELAY     = 30 * time.Millisecond
	DEFAULT_CHAT_PER_MINUTE = 60
	DEFAULT_CLIENT_ENDPOINT = "http://localhost:8080"
)

func MustLoadBaseConfig(path string) CoreConfig {
	if path == "" {
		return LoadBaseConfigFromENV()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	conf, err := ParseConfig(raw)
	if err != nil {
		panic(err)
	}
	return conf
}

func ParseConfig(raw []byte) (CoreConfig, error) {
	conf := CoreConfig{}
	if err := toml.Unmarshal(raw, &conf); err != nil {
		return conf, err
	}
	conf.Normalize()
	return conf, nil
}

func LoadBaseConfigFromENV() CoreConfig {
	var c CoreConfig
	c.FromENV()
	c.Normalize()
	return c
}

type CoreConfig struct {
	Addr string `toml:"addr"`
	Log  Log    `toml:"log"`

	R2R    R2RConfig    `toml:"r2r"`
	AI     srv.AIConfig `toml:"ai"`
	Stream StreamConfig `toml:"stream"`
	Prompt Prompt       `toml:"prompt"`

	Limit     RateLimitConfig `toml:"limit"`
	Redis     RedisConfig     `toml:"redis"`
	Semaphore SemaphoreConfig `toml:"semaphore"`

	Client ClientConfig `toml:"client"`
}

type R2RConfig struct {
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	Timeout         Duration `toml:"timeout"`
	Model           string   `toml:"model"`
	Temperature     float64  `toml:"temperature"`
	SearchLimit     int      `toml:"search_limit"`
	UseHybridSearch *bool    `toml:"use_hybrid_search"`
}

func (c R2RConfig) ClientConfig() r2r.Config {
	return r2r.Config{
		BaseURL:         c.BaseURL,
		APIKey:          c.APIKey,
		Timeout:         c.Timeout.Duration,
		Model:           c.Model,
		Temperature:     c.Temperature,
		UseHybridSearch: c.UseHybridSearch == nil || *c.UseHybridSearch,
	}
}

type StreamConfig struct {
	// TokenDelay paces the word frames of a pre-generated answer, 0 disables it
	TokenDelay *Duration `toml:"token_delay"`
	// CountTokens estimates usage with tiktoken when the backend reports none
	CountTokens bool `toml:"count_tokens"`
	// Streaming relays the fallback generation as it arrives
	Streaming *bool `toml:"streaming"`
}

func (c StreamConfig) Delay() time.Duration {
	if c.TokenDelay == nil {
		return DEFAULT_TOKEN_DELAY
	}
	return c.TokenDelay.Duration
}

func (c StreamConfig) StreamingEnabled() bool {
	return c.Streaming == nil || *c.Streaming
}

// Prompt overrides the system prompt of the search and generation tier. The
// ${context} placeholder receives the numbered passages.
type Prompt struct {
	Fallback string `toml:"fallback"`
}

type RateLimitConfig struct {
	ChatPerMinute int `toml:"chat_per_minute"`
}

type SemaphoreConfig struct {
	ChatMaxConcurrency int      `toml:"chat_max_concurrency"`
	Timeout            Duration `toml:"timeout"`
}

type ClientConfig struct {
	Endpoint string `toml:"endpoint"`
	Mode     string `toml:"mode"`
}

// Duration reads toml strings such as "30ms" or "1m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Normalize fills every unset value with its default.
func (c *CoreConfig) Normalize() {
	if c.Addr == "" {
		c.Addr = DEFAULT_ADDR
	}
	if c.R2R.Timeout.Duration <= 0 {
		c.R2R.Timeout.Duration = r2r.DEFAULT_TIMEOUT
	}
	if c.R2R.Model == "" {
		c.R2R.Model = r2r.DEFAULT_MODEL
	}
	if c.R2R.Temperature <= 0 {
		c.R2R.Temperature = r2r.DEFAULT_TEMPERATURE
	}
	if c.R2R.SearchLimit <= 0 {
		c.R2R.SearchLimit = r2r.DEFAULT_SEARCH_LIMIT
	}
	if c.AI.Temperature <= 0 {
		c.AI.Temperature = srv.DEFAULT_AI_TEMPERATURE
	}
	if c.Limit.ChatPerMinute <= 0 {
		c.Limit.ChatPerMinute = DEFAULT_CHAT_PER_MINUTE
	}
	if c.Semaphore.ChatMaxConcurrency <= 0 {
		c.Semaphore.ChatMaxConcurrency = DEFAULT_CHAT_MAX_CONCURRENCY
	}
	if c.Semaphore.Timeout.Duration <= 0 {
		c.Semaphore.Timeout.Duration = DEFAULT_SEMAPHORE_TIMEOUT
	}
	if c.Client.Endpoint == "" {
		c.Client.Endpoint = DEFAULT_CLIENT_ENDPOINT
	}
	if c.Client.Mode == "" {
		c.Client.Mode = string(types.SEARCH_MODE_RAG)
	}
}

func (c *CoreConfig) FromENV() {
	c.Addr = os.Getenv("RAGSTREAM_API_SERVICE_ADDRESS")
	c.Log.FromENV()
	c.R2R.FromENV()
	c.AI.Provider = os.Getenv("RAGSTREAM_AI_PROVIDER")
	c.AI.Token = os.Getenv("RAGSTREAM_AI_TOKEN")
	c.AI.BaseURL = os.Getenv("RAGSTREAM_AI_BASE_URL")
	c.AI.ChatModel = os.Getenv("RAGSTREAM_AI_CHAT_MODEL")
	if v, err := strconv.ParseFloat(os.Getenv("RAGSTREAM_AI_TEMPERATURE"), 32); err == nil {
		c.AI.Temperature = float32(v)
	}
	if v, err := time.ParseDuration(os.Getenv("RAGSTREAM_STREAM_TOKEN_DELAY")); err == nil {
		c.Stream.TokenDelay = &Duration{Duration: v}
	}
	c.Stream.CountTokens = os.Getenv("RAGSTREAM_STREAM_COUNT_TOKENS") == "true"
	if v, err := strconv.Atoi(os.Getenv("RAGSTREAM_LIMIT_CHAT_PER_MINUTE")); err == nil {
		c.Limit.ChatPerMinute = v
	}
	c.Redis.FromENV()
	if v, err := strconv.Atoi(os.Getenv("RAGSTREAM_SEMAPHORE_CHAT_MAX_CONCURRENCY")); err == nil {
		c.Semaphore.ChatMaxConcurrency = v
	}
	c.Client.Endpoint = os.Getenv("RAGSTREAM_CLIENT_ENDPOINT")
	c.Client.Mode = os.Getenv("RAGSTREAM_CLIENT_MODE")
}

func (c *R2RConfig) FromENV() {
	c.BaseURL = os.Getenv("RAGSTREAM_R2R_BASE_URL")
	c.APIKey = os.Getenv("RAGSTREAM_R2R_API_KEY")
	c.Model = os.Getenv("RAGSTREAM_R2R_MODEL")
	if v, err := time.ParseDuration(os.Getenv("RAGSTREAM_R2R_TIMEOUT")); err == nil {
		c.Timeout.Duration = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("RAGSTREAM_R2R_TEMPERATURE"), 64); err == nil {
		c.Temperature = v
	}
	if v, err := strconv.Atoi(os.Getenv("RAGSTREAM_R2R_SEARCH_LIMIT")); err == nil {
		c.SearchLimit = v
	}
	if v, err := strconv.ParseBool(os.Getenv("RAGSTREAM_R2R_USE_HYBRID_SEARCH")); err == nil {
		c.UseHybridSearch = &v
	}
}

type RedisConfig struct {
	// 单机模式配置, empty Addr disables redis
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`

	// 集群模式配置
	Cluster      bool     `toml:"cluster"`
	ClusterAddrs []string `toml:"cluster_addrs"`

	PoolSize    int `toml:"pool_size"`
	DialTimeout int `toml:"dial_timeout"` // seconds
}

func (r *RedisConfig) Enabled() bool {
	return r.Addr != "" || (r.Cluster && len(r.ClusterAddrs) > 0)
}

func (r *RedisConfig) FromENV() {
	r.Addr = os.Getenv("RAGSTREAM_REDIS_ADDR")
	r.Password = os.Getenv("RAGSTREAM_REDIS_PASSWORD")
	if dbStr := os.Getenv("RAGSTREAM_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			r.DB = db
		}
	}
}

type Log struct {
	Level string `toml:"level"`
	Path  string `toml:"path"`
}

func (l *Log) FromENV() {
	l.Level = os.Getenv("RAGSTREAM_API_LOG_LEVEL")
	l.Path = os.Getenv("RAGSTREAM_API_LOG_PATH")
}

func (l *Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
