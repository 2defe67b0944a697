package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the threadscout configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Source    SourceConfig    `yaml:"source"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Budget    BudgetConfig    `yaml:"budget"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	// RequestTimeoutSec bounds one API request; must stay below WriteTimeoutSec
	// so a timed-out pipeline still gets its 504 onto the wire.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// DatabaseConfig holds the durable cache store connection.
// Empty Addrs runs the cache in local-only mode.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// SourceConfig holds content-search client settings.
type SourceConfig struct {
	BaseURL          string `yaml:"base_url"`
	UserAgent        string `yaml:"user_agent"`
	Pages            int    `yaml:"pages"`
	PageSize         int    `yaml:"page_size"`
	PerQueryLimit    int    `yaml:"per_query_limit"`
	TimeoutSec       int    `yaml:"timeout_sec"`
	MaxAttempts      int    `yaml:"max_attempts"`
	BaseDelayMs      int    `yaml:"base_delay_ms"`
	RateLimitDelayMs int    `yaml:"rate_limit_delay_ms"`
	DetailsTopK      int    `yaml:"details_top_k"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	MaxAttempts      int    `yaml:"max_attempts"`
	TimeoutSec       int    `yaml:"timeout_sec"`
	BaseDelayMs      int    `yaml:"base_delay_ms"`
	RateLimitDelayMs int    `yaml:"rate_limit_delay_ms"`
	CacheTTLHours    int    `yaml:"cache_ttl_hours"`
}

// LLMConfig holds chat-completion provider settings.
type LLMConfig struct {
	Provider         string  `yaml:"provider"`
	APIKey           string  `yaml:"api_key"`
	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	Temperature      float32 `yaml:"temperature"`
	TimeoutSec       int     `yaml:"timeout_sec"`
	MaxAttempts      int     `yaml:"max_attempts"`
	BaseDelayMs      int     `yaml:"base_delay_ms"`
	RateLimitDelayMs int     `yaml:"rate_limit_delay_ms"`
}

// PipelineConfig holds ranking and scoring knobs.
type PipelineConfig struct {
	HeuristicCap     int     `yaml:"heuristic_cap"`
	BatchSize        int     `yaml:"batch_size"`
	SemanticFailOpen bool    `yaml:"semantic_fail_open"`
	WorkerPoolSize   int     `yaml:"worker_pool_size"`
	// Pointers so an explicit 0 survives defaulting.
	MinRelevance  *float64 `yaml:"min_relevance"`
	FallbackScore *float64 `yaml:"fallback_score"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTLMin           int `yaml:"ttl_min"`
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	KeyMaxLen        int `yaml:"key_max_len"`
}

// RateLimitConfig holds inbound throttle settings.
type RateLimitConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms"`
	// TrustedProxies lists peer IPs or CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// BudgetConfig holds model token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
//
//nolint:gocyclo // flat list of defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 90
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.RequestTimeoutSec <= 0 {
		// Leave headroom under the write deadline for the error response.
		c.HTTP.RequestTimeoutSec = max(c.HTTP.WriteTimeoutSec-10, c.HTTP.WriteTimeoutSec/2)
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://www.reddit.com"
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = "threadscout/1.0"
	}
	if c.Source.Pages <= 0 {
		c.Source.Pages = 2
	}
	if c.Source.PageSize <= 0 {
		c.Source.PageSize = 100
	}
	if c.Source.PerQueryLimit <= 0 {
		c.Source.PerQueryLimit = 25
	}
	if c.Source.TimeoutSec <= 0 {
		c.Source.TimeoutSec = 10
	}
	if c.Source.MaxAttempts <= 0 {
		c.Source.MaxAttempts = 3
	}
	if c.Source.BaseDelayMs <= 0 {
		c.Source.BaseDelayMs = 1000
	}
	if c.Source.RateLimitDelayMs <= 0 {
		c.Source.RateLimitDelayMs = 5000
	}
	if c.Source.DetailsTopK <= 0 {
		c.Source.DetailsTopK = 5
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.MaxConcurrent <= 0 {
		c.Embedding.MaxConcurrent = 2
	}
	if c.Embedding.MaxAttempts <= 0 {
		c.Embedding.MaxAttempts = 4
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.BaseDelayMs <= 0 {
		c.Embedding.BaseDelayMs = 3000
	}
	if c.Embedding.RateLimitDelayMs <= 0 {
		c.Embedding.RateLimitDelayMs = 10000
	}
	if c.Embedding.CacheTTLHours <= 0 {
		c.Embedding.CacheTTLHours = 24
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 30
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = 3
	}
	if c.LLM.BaseDelayMs <= 0 {
		c.LLM.BaseDelayMs = 1000
	}
	if c.LLM.RateLimitDelayMs <= 0 {
		c.LLM.RateLimitDelayMs = 5000
	}

	if c.Pipeline.HeuristicCap <= 0 {
		c.Pipeline.HeuristicCap = 30
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 10
	}
	if c.Pipeline.MinRelevance == nil {
		c.Pipeline.MinRelevance = float64Ptr(6)
	}
	if c.Pipeline.FallbackScore == nil {
		c.Pipeline.FallbackScore = float64Ptr(5)
	}
	if c.Pipeline.WorkerPoolSize <= 0 {
		c.Pipeline.WorkerPoolSize = 16
	}

	if c.Cache.TTLMin <= 0 {
		c.Cache.TTLMin = 60
	}
	if c.Cache.SweepIntervalSec <= 0 {
		c.Cache.SweepIntervalSec = 300
	}
	if c.Cache.KeyMaxLen <= 0 {
		c.Cache.KeyMaxLen = 200
	}

	if c.RateLimit.MinIntervalMs <= 0 {
		c.RateLimit.MinIntervalMs = 2000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis", "valkey":
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	switch c.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf("budget.action must be \"warn\" or \"reject\", got %q", c.Budget.Action)
	}
	if v := c.Pipeline.MinRelevance; v != nil && (*v < 0 || *v > 10) {
		return fmt.Errorf("pipeline.min_relevance must be within 0-10, got %v", *v)
	}
	if v := c.Pipeline.FallbackScore; v != nil && (*v < 0 || *v > 10) {
		return fmt.Errorf("pipeline.fallback_score must be within 0-10, got %v", *v)
	}
	if c.Cache.KeyMaxLen < minKeyMaxLen {
		return fmt.Errorf("cache.key_max_len must be at least %d, got %d", minKeyMaxLen, c.Cache.KeyMaxLen)
	}
	if c.HTTP.RequestTimeoutSec >= c.HTTP.WriteTimeoutSec {
		return fmt.Errorf("http.request_timeout_sec (%d) must be below write_timeout_sec (%d)",
			c.HTTP.RequestTimeoutSec, c.HTTP.WriteTimeoutSec)
	}
	if _, err := c.TrustedProxies(); err != nil {
		return err
	}
	return nil
}

// minKeyMaxLen mirrors cache.MinKeyMaxLen.
const minKeyMaxLen = 32

// TrustedProxies parses rate_limit.trusted_proxies. Bare addresses become
// single-host prefixes; empty entries (an unset env var) are skipped.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.RateLimit.TrustedProxies))
	for _, raw := range c.RateLimit.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.trusted_proxies: invalid entry %q", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// AuthEnabled reports whether at least one API key is configured.
func (c *Config) AuthEnabled() bool {
	for _, k := range c.Auth.APIKeys {
		if k != "" {
			return true
		}
	}
	return false
}

// MinRelevance returns the output threshold.
func (c *Config) MinRelevance() float64 { return derefFloat(c.Pipeline.MinRelevance, 6) }

// FallbackScore returns the score given to posts of a failed batch.
func (c *Config) FallbackScore() float64 { return derefFloat(c.Pipeline.FallbackScore, 5) }

// RequestTimeout returns the per-request deadline of the API.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.RequestTimeoutSec) * time.Second
}

func float64Ptr(v float64) *float64 { return &v }

func derefFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// CacheTTL returns the response cache TTL.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTLMin) * time.Minute }

// SweepInterval returns the local cache sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepIntervalSec) * time.Second
}

// MinRequestInterval returns the inbound per-identity minimum interval.
func (c *Config) MinRequestInterval() time.Duration {
	return time.Duration(c.RateLimit.MinIntervalMs) * time.Millisecond
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
