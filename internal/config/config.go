package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	SES        SESConfig        `yaml:"ses"`
	Bedrock    BedrockConfig    `yaml:"bedrock"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Newsletter NewsletterConfig `yaml:"newsletter"`
	Cron       CronConfig       `yaml:"cron"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis configuration for the run lock and webhook dedup
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// SESConfig holds AWS SES API configuration for outbound mail
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BedrockConfig holds AWS Bedrock configuration for newsletter generation
type BedrockConfig struct {
	Region         string `yaml:"region"`
	ModelID        string `yaml:"model_id"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c BedrockConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig holds OpenAI API configuration for the fallback generator
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NewsletterConfig holds the daily pipeline settings
type NewsletterConfig struct {
	ReplyDomain        string `yaml:"reply_domain"`     // domain of per-user reply addresses
	ReplyLocalPart     string `yaml:"reply_local_part"` // local part before the "+" token
	FromName           string `yaml:"from_name"`
	Subject            string `yaml:"subject"`
	Concurrency        int    `yaml:"concurrency"`          // concurrent user tasks per run
	FeedbackLimit      int    `yaml:"feedback_limit"`       // most-recent-K reply entries in the prompt
	UserTimeoutSeconds int    `yaml:"user_timeout_seconds"` // generation+delivery ceiling per user
	MaxReplyBodyChars  int    `yaml:"max_reply_body_chars"` // inbound reply bodies truncated past this
}

// UserTimeout returns the per-user task ceiling as a duration
func (c NewsletterConfig) UserTimeout() time.Duration {
	return time.Duration(c.UserTimeoutSeconds) * time.Second
}

// CronConfig holds the scheduled-trigger settings
type CronConfig struct {
	Token          string `yaml:"token"`            // bearer token checked on /cron/run
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"` // run-lock TTL; released early on completion
}

// LockTTL returns the run lock TTL as a duration
func (c CronConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.ModelID == "" {
		cfg.Bedrock.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.Bedrock.MaxTokens == 0 {
		cfg.Bedrock.MaxTokens = 2000
	}
	if cfg.Bedrock.TimeoutSeconds == 0 {
		cfg.Bedrock.TimeoutSeconds = 45
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com"
	}
	if cfg.OpenAI.TimeoutSeconds == 0 {
		cfg.OpenAI.TimeoutSeconds = 45
	}
	if cfg.Newsletter.ReplyDomain == "" {
		cfg.Newsletter.ReplyDomain = "mail.personifeed.com"
	}
	if cfg.Newsletter.ReplyLocalPart == "" {
		cfg.Newsletter.ReplyLocalPart = "reply"
	}
	if cfg.Newsletter.FromName == "" {
		cfg.Newsletter.FromName = "personi[feed]"
	}
	if cfg.Newsletter.Subject == "" {
		cfg.Newsletter.Subject = "Your personi[feed] newsletter"
	}
	if cfg.Newsletter.Concurrency == 0 {
		cfg.Newsletter.Concurrency = 10
	}
	if cfg.Newsletter.FeedbackLimit == 0 {
		cfg.Newsletter.FeedbackLimit = 10
	}
	if cfg.Newsletter.UserTimeoutSeconds == 0 {
		cfg.Newsletter.UserTimeoutSeconds = 60
	}
	if cfg.Newsletter.MaxReplyBodyChars == 0 {
		cfg.Newsletter.MaxReplyBodyChars = 2000
	}
	if cfg.Cron.LockTTLSeconds == 0 {
		cfg.Cron.LockTTLSeconds = 1800
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if region := os.Getenv("AWS_BEDROCK_REGION"); region != "" {
		cfg.Bedrock.Region = region
	}
	if model := os.Getenv("BEDROCK_MODEL_ID"); model != "" {
		cfg.Bedrock.ModelID = model
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.OpenAI.APIKey = apiKey
		cfg.OpenAI.Enabled = true
	}
	if token := os.Getenv("CRON_TOKEN"); token != "" {
		cfg.Cron.Token = token
	}
	if domain := os.Getenv("REPLY_DOMAIN"); domain != "" {
		cfg.Newsletter.ReplyDomain = domain
	}

	return cfg, nil
}
