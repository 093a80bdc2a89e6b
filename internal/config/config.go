// Package config loads and validates factengine's configuration: the
// cache, circuit breaker, executor, SQL validator and LLM sections that
// every core package takes as a constructor argument.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CacheConfig controls the content-addressed response cache.
type CacheConfig struct {
	Prefix       string `yaml:"prefix" validate:"required"`
	MinTokens    int    `yaml:"min_tokens" validate:"gte=0"`
	MaxSizeBytes int64  `yaml:"max_size_bytes" validate:"gt=0"`
	TTLSeconds   int    `yaml:"ttl_seconds" validate:"gt=0"`
	HitTargetMs  int    `yaml:"hit_target_ms" validate:"gt=0"`
	MissTargetMs int    `yaml:"miss_target_ms" validate:"gt=0"`
}

// CircuitBreakerConfig controls the cache's failure-isolation gate.
type CircuitBreakerConfig struct {
	FailureThreshold     int     `yaml:"failure_threshold" validate:"gt=0"`
	SuccessThreshold     int     `yaml:"success_threshold" validate:"gt=0"`
	TimeoutSeconds       int     `yaml:"timeout_seconds" validate:"gt=0"`
	RollingWindowSeconds int     `yaml:"rolling_window_seconds" validate:"gt=0"`
	RecoveryFactor       float64 `yaml:"recovery_factor" validate:"gte=0,lte=1"`
}

// ExecutorConfig controls the tool executor's rate limiter and timeouts.
type ExecutorConfig struct {
	MaxCallsPerMinute     int `yaml:"max_calls_per_minute" validate:"gt=0"`
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" validate:"gt=0"`
}

// SQLValidatorConfig controls the read-only SQL gate.
type SQLValidatorConfig struct {
	MaxStatementLength  int `yaml:"max_statement_length" validate:"gt=0"`
	MaxNestedSelects    int `yaml:"max_nested_selects" validate:"gt=0"`
	ValidationCacheSize int `yaml:"validation_cache_size" validate:"gt=0"`
}

// LLMConfig controls the conversational driver's model client.
type LLMConfig struct {
	Provider       string        `yaml:"provider" validate:"required,oneof=anthropic bedrock"`
	Model          string        `yaml:"model" validate:"required"`
	MaxTokens      int           `yaml:"max_tokens" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0"`
	SystemPrompt   string        `yaml:"system_prompt"`
	AWSRegion      string        `yaml:"aws_region"` // used only when Provider == "bedrock"
}

// DatabaseConfig controls the SQLite connector backing the SQL tool.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"required"`
	Format string `yaml:"format" validate:"required,oneof=json console"`
}

// AdminConfig controls the admin HTTP surface (health + metrics).
type AdminConfig struct {
	Port string `yaml:"port" validate:"required"`
}

// Config is the root configuration for factengine.
type Config struct {
	Cache          CacheConfig          `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Executor       ExecutorConfig       `yaml:"executor"`
	SQLValidator   SQLValidatorConfig   `yaml:"sql_validator"`
	LLM            LLMConfig            `yaml:"llm"`
	Database       DatabaseConfig       `yaml:"database"`
	Logging        LoggingConfig        `yaml:"logging"`
	Admin          AdminConfig          `yaml:"admin"`
}

// rawConfig mirrors Config but keeps the LLM section's RequestTimeout as a string, since
// YAML has no native duration type and yaml.v3 won't round-trip
// time.Duration through its default scalar unmarshaler.
type rawConfig struct {
	Cache          CacheConfig          `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Executor       ExecutorConfig       `yaml:"executor"`
	SQLValidator   SQLValidatorConfig   `yaml:"sql_validator"`
	LLM            struct {
		Provider       string `yaml:"provider"`
		Model          string `yaml:"model"`
		MaxTokens      int    `yaml:"max_tokens"`
		RequestTimeout string `yaml:"request_timeout"`
		MaxRetries     int    `yaml:"max_retries"`
		SystemPrompt   string `yaml:"system_prompt"`
		AWSRegion      string `yaml:"aws_region"`
	} `yaml:"llm"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Admin    AdminConfig    `yaml:"admin"`
}

const defaultSystemPrompt = "You are a helpful assistant with access to a cached, read-only SQL query tool. " +
	"Answer questions using the available tools when they can provide authoritative data."

// Default returns the configuration's zero-input baseline: the values a
// fresh deployment gets before any YAML file or environment variable is
// applied.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Prefix:       "fact_v1",
			MinTokens:    50,
			MaxSizeBytes: 10 * 1024 * 1024,
			TTLSeconds:   3600,
			HitTargetMs:  30,
			MissTargetMs: 120,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:     5,
			SuccessThreshold:     3,
			TimeoutSeconds:       60,
			RollingWindowSeconds: 300,
			RecoveryFactor:       0.5,
		},
		Executor: ExecutorConfig{
			MaxCallsPerMinute:     60,
			DefaultTimeoutSeconds: 30,
		},
		SQLValidator: SQLValidatorConfig{
			MaxStatementLength:  5000,
			MaxNestedSelects:    5,
			ValidationCacheSize: 1000,
		},
		LLM: LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-3-haiku-20240307",
			MaxTokens:      4096,
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			SystemPrompt:   defaultSystemPrompt,
			AWSRegion:      "us-east-1",
		},
		Database: DatabaseConfig{
			Path: "data/fact.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Admin: AdminConfig{
			Port: "8090",
		},
	}
}

// Load reads configuration from path, merges it over the defaults,
// applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	raw := rawConfig{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := mergeRaw(cfg, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeRaw overlays non-zero fields decoded from YAML onto cfg, which
// already holds the defaults.
func mergeRaw(cfg *Config, raw *rawConfig) error {
	mergeCache(&cfg.Cache, &raw.Cache)
	mergeCircuitBreaker(&cfg.CircuitBreaker, &raw.CircuitBreaker)
	mergeExecutor(&cfg.Executor, &raw.Executor)
	mergeSQLValidator(&cfg.SQLValidator, &raw.SQLValidator)

	if raw.LLM.Provider != "" {
		cfg.LLM.Provider = raw.LLM.Provider
	}
	if raw.LLM.Model != "" {
		cfg.LLM.Model = raw.LLM.Model
	}
	if raw.LLM.MaxTokens != 0 {
		cfg.LLM.MaxTokens = raw.LLM.MaxTokens
	}
	if raw.LLM.RequestTimeout != "" {
		d, err := time.ParseDuration(raw.LLM.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid llm.request_timeout %q: %w", raw.LLM.RequestTimeout, err)
		}
		cfg.LLM.RequestTimeout = d
	}
	if raw.LLM.MaxRetries != 0 {
		cfg.LLM.MaxRetries = raw.LLM.MaxRetries
	}
	if raw.LLM.SystemPrompt != "" {
		cfg.LLM.SystemPrompt = raw.LLM.SystemPrompt
	}
	if raw.LLM.AWSRegion != "" {
		cfg.LLM.AWSRegion = raw.LLM.AWSRegion
	}

	if raw.Database.Path != "" {
		cfg.Database.Path = raw.Database.Path
	}
	if raw.Logging.Level != "" {
		cfg.Logging.Level = raw.Logging.Level
	}
	if raw.Logging.Format != "" {
		cfg.Logging.Format = raw.Logging.Format
	}
	if raw.Admin.Port != "" {
		cfg.Admin.Port = raw.Admin.Port
	}
	return nil
}

func mergeCache(dst *CacheConfig, src *CacheConfig) {
	if src.Prefix != "" {
		dst.Prefix = src.Prefix
	}
	if src.MinTokens != 0 {
		dst.MinTokens = src.MinTokens
	}
	if src.MaxSizeBytes != 0 {
		dst.MaxSizeBytes = src.MaxSizeBytes
	}
	if src.TTLSeconds != 0 {
		dst.TTLSeconds = src.TTLSeconds
	}
	if src.HitTargetMs != 0 {
		dst.HitTargetMs = src.HitTargetMs
	}
	if src.MissTargetMs != 0 {
		dst.MissTargetMs = src.MissTargetMs
	}
}

func mergeCircuitBreaker(dst *CircuitBreakerConfig, src *CircuitBreakerConfig) {
	if src.FailureThreshold != 0 {
		dst.FailureThreshold = src.FailureThreshold
	}
	if src.SuccessThreshold != 0 {
		dst.SuccessThreshold = src.SuccessThreshold
	}
	if src.TimeoutSeconds != 0 {
		dst.TimeoutSeconds = src.TimeoutSeconds
	}
	if src.RollingWindowSeconds != 0 {
		dst.RollingWindowSeconds = src.RollingWindowSeconds
	}
	if src.RecoveryFactor != 0 {
		dst.RecoveryFactor = src.RecoveryFactor
	}
}

func mergeExecutor(dst *ExecutorConfig, src *ExecutorConfig) {
	if src.MaxCallsPerMinute != 0 {
		dst.MaxCallsPerMinute = src.MaxCallsPerMinute
	}
	if src.DefaultTimeoutSeconds != 0 {
		dst.DefaultTimeoutSeconds = src.DefaultTimeoutSeconds
	}
}

func mergeSQLValidator(dst *SQLValidatorConfig, src *SQLValidatorConfig) {
	if src.MaxStatementLength != 0 {
		dst.MaxStatementLength = src.MaxStatementLength
	}
	if src.MaxNestedSelects != 0 {
		dst.MaxNestedSelects = src.MaxNestedSelects
	}
	if src.ValidationCacheSize != 0 {
		dst.ValidationCacheSize = src.ValidationCacheSize
	}
}

// loadFromEnv maps FACT_* environment variables onto config fields. Each
// entry is applied only if the variable is set, so an absent environment
// never clobbers a value already loaded from YAML or the defaults.
func loadFromEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("FACT_LLM_PROVIDER"); ok {
		cfg.LLM.Provider = v
	}
	if v, ok := os.LookupEnv("FACT_LLM_MODEL"); ok {
		cfg.LLM.Model = v
	}
	if v, ok := os.LookupEnv("FACT_LLM_AWS_REGION"); ok {
		cfg.LLM.AWSRegion = v
	}
	if v, ok := os.LookupEnv("FACT_LLM_MAX_TOKENS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FACT_LLM_MAX_TOKENS %q: %w", v, err)
		}
		cfg.LLM.MaxTokens = n
	}
	if v, ok := os.LookupEnv("FACT_DATABASE_PATH"); ok {
		cfg.Database.Path = v
	}
	if v, ok := os.LookupEnv("FACT_ADMIN_PORT"); ok {
		cfg.Admin.Port = v
	}
	if v, ok := os.LookupEnv("FACT_LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv("FACT_LOG_FORMAT"); ok {
		cfg.Logging.Format = v
	}
	if v, ok := os.LookupEnv("FACT_CACHE_MIN_TOKENS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FACT_CACHE_MIN_TOKENS %q: %w", v, err)
		}
		cfg.Cache.MinTokens = n
	}
	if v, ok := os.LookupEnv("FACT_CACHE_TTL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FACT_CACHE_TTL_SECONDS %q: %w", v, err)
		}
		cfg.Cache.TTLSeconds = n
	}
	if v, ok := os.LookupEnv("FACT_EXECUTOR_MAX_CALLS_PER_MINUTE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FACT_EXECUTOR_MAX_CALLS_PER_MINUTE %q: %w", v, err)
		}
		cfg.Executor.MaxCallsPerMinute = n
	}
	return nil
}

var structValidator = validator.New()

// validate checks structural constraints with go-playground/validator tags
// and turns the first failing field into a config-key-specific message. It
// runs no checks beyond those the tags express.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return mapValidationError(cfg, err)
	}
	return nil
}

// mapValidationError turns validator's field errors into the specific,
// human-readable messages factengine's operators expect, since the raw
// validator.ValidationErrors text references Go field names rather than
// config keys.
func mapValidationError(cfg *Config, err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Namespace() {
	case "Config.LLM.Provider":
		if fe.Tag() == "oneof" {
			return fmt.Errorf("unsupported LLM provider %q: must be one of anthropic, bedrock", cfg.LLM.Provider)
		}
		return fmt.Errorf("LLM provider is required")
	case "Config.LLM.Model":
		return fmt.Errorf("LLM model is required")
	case "Config.Cache.MinTokens":
		return fmt.Errorf("cache min_tokens must be non-negative, got %d", cfg.Cache.MinTokens)
	case "Config.CircuitBreaker.RecoveryFactor":
		return fmt.Errorf("circuit_breaker recovery_factor must be between 0.0 and 1.0, got %v", cfg.CircuitBreaker.RecoveryFactor)
	case "Config.Executor.MaxCallsPerMinute":
		return fmt.Errorf("executor max_calls_per_minute must be greater than 0, got %d", cfg.Executor.MaxCallsPerMinute)
	case "Config.SQLValidator.MaxStatementLength":
		return fmt.Errorf("sql_validator max_statement_length must be greater than 0, got %d", cfg.SQLValidator.MaxStatementLength)
	default:
		return fmt.Errorf("invalid configuration: %s failed %q validation", fe.Namespace(), fe.Tag())
	}
}

// Watcher reloads configuration whenever the backing file changes on
// disk, notifying subscribers on a channel.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan *Config
}

// NewWatcher starts watching path for changes. Callers must call Close
// when done.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start config watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}
	w := &Watcher{
		path:    path,
		watcher: fw,
		updates: make(chan *Config, 1),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for event := range w.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		cfg, err := Load(w.path)
		if err != nil {
			continue
		}
		select {
		case w.updates <- cfg:
		default:
		}
	}
}

// Updates returns the channel of successfully reloaded configurations.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
