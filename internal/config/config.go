package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/morningbrief/api/internal/model"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

// loadEnvFile loads .env.local from the working directory or its parent.
// Variables already present in the environment win.
func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}
	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Speech    SpeechConfig
	R2        R2Config
	Content   ContentConfig
	Pipeline  PipelineConfig
	Cleanup   CleanupConfig
	Triggers  TriggersConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Path string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	BriefingsPerHour int
	TriggersPerMin   int
}

type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type SpeechProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Format  string
}

type SpeechConfig struct {
	Primary  SpeechProviderConfig
	Fallback SpeechProviderConfig
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	SignedURLTTL    time.Duration
}

type ContentConfig struct {
	APIKey          string
	Sources         map[model.ContentType][]string
	TTL             map[model.ContentType]time.Duration
	MaxRetention    time.Duration
	RefreshCooldown time.Duration
	RefreshSpec     string
	FetchTimeout    time.Duration
	DefaultRegions  []string
	DefaultLeagues  []string
	DefaultSymbols  []string
	DefaultWeather  []string
}

type PipelineConfig struct {
	TickSpec           string
	BatchSize          int
	Workers            int
	LeaseDuration      time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	WordsPerMinute     int
	MinWords           int
	MinScriptChars     int
	LeadTime           time.Duration
	GracePeriod        time.Duration
	UrgentWindow       time.Duration
	EstimatedDuration  time.Duration
	ScriptTimeout      time.Duration
	SpeechTimeout      time.Duration
	SegmentConcurrency int
	SegmentRetries     int
	SegmentBackoff     time.Duration
}

type CleanupConfig struct {
	RetentionDays int
	FastInterval  time.Duration
	DeepInterval  time.Duration
	Spec          string
}

type TriggersConfig struct {
	Token string
}

func Load() (*Config, error) {
	loadEnvFile()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("LLM_API_KEY")
	readSecret("SPEECH_PRIMARY_API_KEY")
	readSecret("SPEECH_FALLBACK_API_KEY")
	readSecret("CONTENT_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("TRIGGER_TOKEN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.log_format", "LOG_FORMAT")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("database.path", "DATABASE_PATH")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("speech.primary.name", "SPEECH_PRIMARY_NAME")
	_ = viper.BindEnv("speech.primary.base_url", "SPEECH_PRIMARY_URL")
	_ = viper.BindEnv("speech.primary.api_key", "SPEECH_PRIMARY_API_KEY")
	_ = viper.BindEnv("speech.fallback.name", "SPEECH_FALLBACK_NAME")
	_ = viper.BindEnv("speech.fallback.base_url", "SPEECH_FALLBACK_URL")
	_ = viper.BindEnv("speech.fallback.api_key", "SPEECH_FALLBACK_API_KEY")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("content.api_key", "CONTENT_API_KEY")
	_ = viper.BindEnv("pipeline.workers", "PIPELINE_WORKERS")
	_ = viper.BindEnv("triggers.token", "TRIGGER_TOKEN")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.log_format", "text")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.path", "data/briefings.db")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("ratelimit.briefings_per_hour", 30)
	viper.SetDefault("ratelimit.triggers_per_min", 60)

	// LLM defaults (OpenAI-compatible chat completions)
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")
	viper.SetDefault("llm.max_tokens", 2048)

	// Speech defaults
	viper.SetDefault("speech.primary.name", "primary")
	viper.SetDefault("speech.primary.format", "mp3")
	viper.SetDefault("speech.fallback.name", "fallback")
	viper.SetDefault("speech.fallback.format", "mp3")

	viper.SetDefault("r2.signed_url_ttl", "1h")

	// Content defaults
	viper.SetDefault("content.ttl.stocks", "15m")
	viper.SetDefault("content.ttl.sports", "30m")
	viper.SetDefault("content.ttl.weather", "1h")
	viper.SetDefault("content.ttl.news", "3h")
	viper.SetDefault("content.max_retention", "48h")
	viper.SetDefault("content.refresh_cooldown", "10m")
	viper.SetDefault("content.refresh_spec", "*/15 * * * *")
	viper.SetDefault("content.fetch_timeout", "15s")
	viper.SetDefault("content.default_regions", []string{"us"})
	viper.SetDefault("content.default_leagues", []string{})
	viper.SetDefault("content.default_symbols", []string{})
	viper.SetDefault("content.default_weather", []string{})

	// Pipeline defaults
	viper.SetDefault("pipeline.tick_spec", "* * * * *")
	viper.SetDefault("pipeline.batch_size", 10)
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.lease_duration", "15m")
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.backoff_base", "30s")
	viper.SetDefault("pipeline.backoff_max", "10m")
	viper.SetDefault("pipeline.words_per_minute", 150)
	viper.SetDefault("pipeline.min_words", 150)
	viper.SetDefault("pipeline.min_script_chars", 800)
	viper.SetDefault("pipeline.lead_time", "2h")
	viper.SetDefault("pipeline.grace_period", "30m")
	viper.SetDefault("pipeline.urgent_window", "45m")
	viper.SetDefault("pipeline.estimated_duration", "3m")
	viper.SetDefault("pipeline.script_timeout", "60s")
	viper.SetDefault("pipeline.speech_timeout", "90s")
	viper.SetDefault("pipeline.segment_concurrency", 3)
	viper.SetDefault("pipeline.segment_retries", 3)
	viper.SetDefault("pipeline.segment_backoff", "2s")

	// Cleanup defaults
	viper.SetDefault("cleanup.retention_days", 7)
	viper.SetDefault("cleanup.fast_interval", "1h")
	viper.SetDefault("cleanup.deep_interval", "24h")
	viper.SetDefault("cleanup.spec", "17 * * * *")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			LogFormat: viper.GetString("server.log_format"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("database.path"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			BriefingsPerHour: viper.GetInt("ratelimit.briefings_per_hour"),
			TriggersPerMin:   viper.GetInt("ratelimit.triggers_per_min"),
		},
		LLM: LLMConfig{
			APIKey:    viper.GetString("llm.api_key"),
			BaseURL:   viper.GetString("llm.base_url"),
			Model:     viper.GetString("llm.model"),
			MaxTokens: viper.GetInt("llm.max_tokens"),
		},
		Speech: SpeechConfig{
			Primary:  speechProvider("speech.primary"),
			Fallback: speechProvider("speech.fallback"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
			SignedURLTTL:    viper.GetDuration("r2.signed_url_ttl"),
		},
		Content: ContentConfig{
			APIKey:          viper.GetString("content.api_key"),
			Sources:         make(map[model.ContentType][]string),
			TTL:             make(map[model.ContentType]time.Duration),
			MaxRetention:    viper.GetDuration("content.max_retention"),
			RefreshCooldown: viper.GetDuration("content.refresh_cooldown"),
			RefreshSpec:     viper.GetString("content.refresh_spec"),
			FetchTimeout:    viper.GetDuration("content.fetch_timeout"),
			DefaultRegions:  viper.GetStringSlice("content.default_regions"),
			DefaultLeagues:  viper.GetStringSlice("content.default_leagues"),
			DefaultSymbols:  viper.GetStringSlice("content.default_symbols"),
			DefaultWeather:  viper.GetStringSlice("content.default_weather"),
		},
		Pipeline: PipelineConfig{
			TickSpec:           viper.GetString("pipeline.tick_spec"),
			BatchSize:          viper.GetInt("pipeline.batch_size"),
			Workers:            viper.GetInt("pipeline.workers"),
			LeaseDuration:      viper.GetDuration("pipeline.lease_duration"),
			MaxAttempts:        viper.GetInt("pipeline.max_attempts"),
			BackoffBase:        viper.GetDuration("pipeline.backoff_base"),
			BackoffMax:         viper.GetDuration("pipeline.backoff_max"),
			WordsPerMinute:     viper.GetInt("pipeline.words_per_minute"),
			MinWords:           viper.GetInt("pipeline.min_words"),
			MinScriptChars:     viper.GetInt("pipeline.min_script_chars"),
			LeadTime:           viper.GetDuration("pipeline.lead_time"),
			GracePeriod:        viper.GetDuration("pipeline.grace_period"),
			UrgentWindow:       viper.GetDuration("pipeline.urgent_window"),
			EstimatedDuration:  viper.GetDuration("pipeline.estimated_duration"),
			ScriptTimeout:      viper.GetDuration("pipeline.script_timeout"),
			SpeechTimeout:      viper.GetDuration("pipeline.speech_timeout"),
			SegmentConcurrency: viper.GetInt("pipeline.segment_concurrency"),
			SegmentRetries:     viper.GetInt("pipeline.segment_retries"),
			SegmentBackoff:     viper.GetDuration("pipeline.segment_backoff"),
		},
		Cleanup: CleanupConfig{
			RetentionDays: viper.GetInt("cleanup.retention_days"),
			FastInterval:  viper.GetDuration("cleanup.fast_interval"),
			DeepInterval:  viper.GetDuration("cleanup.deep_interval"),
			Spec:          viper.GetString("cleanup.spec"),
		},
		Triggers: TriggersConfig{
			Token: viper.GetString("triggers.token"),
		},
	}

	for _, t := range model.CachedContentTypes {
		key := string(t)
		cfg.Content.Sources[t] = viper.GetStringSlice("content.sources." + key)
		cfg.Content.TTL[t] = viper.GetDuration("content.ttl." + key)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func speechProvider(prefix string) SpeechProviderConfig {
	return SpeechProviderConfig{
		Name:    viper.GetString(prefix + ".name"),
		BaseURL: viper.GetString(prefix + ".base_url"),
		APIKey:  viper.GetString(prefix + ".api_key"),
		Format:  viper.GetString(prefix + ".format"),
	}
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks schedules and numeric bounds.
func (c *Config) Validate() error {
	specs := map[string]string{
		"pipeline.tick_spec":   c.Pipeline.TickSpec,
		"content.refresh_spec": c.Content.RefreshSpec,
		"cleanup.spec":         c.Cleanup.Spec,
	}
	for key, spec := range specs {
		if spec == "" {
			continue
		}
		if _, err := specParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, spec, err)
		}
	}

	p := c.Pipeline
	switch {
	case p.BatchSize < 1:
		return fmt.Errorf("pipeline.batch_size must be at least 1")
	case p.Workers < 1:
		return fmt.Errorf("pipeline.workers must be at least 1")
	case p.MaxAttempts < 1:
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	case p.LeaseDuration <= 0:
		return fmt.Errorf("pipeline.lease_duration must be positive")
	case p.BackoffBase <= 0 || p.BackoffMax < p.BackoffBase:
		return fmt.Errorf("pipeline.backoff_base must be positive and not exceed backoff_max")
	case p.WordsPerMinute < 1:
		return fmt.Errorf("pipeline.words_per_minute must be at least 1")
	case p.SegmentConcurrency < 1:
		return fmt.Errorf("pipeline.segment_concurrency must be at least 1")
	}

	if c.Cleanup.RetentionDays < 1 {
		return fmt.Errorf("cleanup.retention_days must be at least 1")
	}
	for t, ttl := range c.Content.TTL {
		if ttl <= 0 {
			return fmt.Errorf("content.ttl.%s must be positive", t)
		}
		if c.Content.MaxRetention < ttl {
			return fmt.Errorf("content.max_retention must be at least content.ttl.%s", t)
		}
	}

	if c.Server.Env == "production" && c.Triggers.Token == "" {
		return fmt.Errorf("TRIGGER_TOKEN is required in production")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
