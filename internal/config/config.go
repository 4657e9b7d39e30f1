package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"drive/internal/constants"
	"drive/internal/secret"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	AuthModeToken   = "token"
	AuthModeSession = "session"

	SessionBackendMemory   = "memory"
	SessionBackendDynamoDB = "dynamodb"

	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"

	// Where auth.jwt_secret_param is looked up. The default is ssm when
	// another component already talks to AWS, env otherwise.
	SecretSourceEnv = "env"
	SecretSourceSSM = "ssm"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
	AWS       AWSConfig       `yaml:"aws"`
	Email     EmailConfig     `yaml:"email"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host" env:"DRIVE_HOST"`
	Port           int      `yaml:"port" env:"DRIVE_PORT"`
	BaseURL        string   `yaml:"base_url" env:"DRIVE_BASE_URL"`
	Environment    string   `yaml:"environment" env:"DRIVE_ENV"`
	TrustedProxies []string `yaml:"trusted_proxies" env:"DRIVE_TRUSTED_PROXIES" env-separator:","`
	AllowedOrigins []string `yaml:"allowed_origins" env:"DRIVE_ALLOWED_ORIGINS" env-separator:","`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"DRIVE_LOG_LEVEL"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"DRIVE_DATABASE_PATH"`
}

type AuthConfig struct {
	Mode              string        `yaml:"mode" env:"DRIVE_AUTH_MODE"`
	JWTSecret         string        `yaml:"jwt_secret" env:"DRIVE_JWT_SECRET"`
	JWTSecretParam    string        `yaml:"jwt_secret_param" env:"DRIVE_JWT_SECRET_PARAM"`
	SecretSource      string        `yaml:"secret_source" env:"DRIVE_SECRET_SOURCE"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	ResetTokenTTL     time.Duration `yaml:"reset_token_ttl"`
	MinPasswordLength int           `yaml:"min_password_length"`
	ExposeResetToken  bool          `yaml:"expose_reset_token" env:"DRIVE_EXPOSE_RESET_TOKEN"`
}

type SessionConfig struct {
	Backend         string        `yaml:"backend" env:"DRIVE_SESSION_BACKEND"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	DynamoTable     string        `yaml:"dynamo_table" env:"DRIVE_SESSION_TABLE"`
}

type StorageConfig struct {
	Backend        string      `yaml:"backend" env:"DRIVE_STORAGE_BACKEND"`
	UploadMaxBytes int64       `yaml:"upload_max_bytes"`
	Local          LocalConfig `yaml:"local"`
	S3             S3Config    `yaml:"s3"`
}

type LocalConfig struct {
	Root string `yaml:"root" env:"DRIVE_STORAGE_ROOT"`
}

type S3Config struct {
	Bucket        string        `yaml:"bucket" env:"DRIVE_S3_BUCKET"`
	Prefix        string        `yaml:"prefix"`
	PublicBaseURL string        `yaml:"public_base_url" env:"DRIVE_S3_PUBLIC_BASE_URL"`
	PresignTTL    time.Duration `yaml:"presign_ttl"`
	UsePathStyle  bool          `yaml:"use_path_style"`
}

// AWSConfig is shared by the S3 backend, the DynamoDB session store and the
// SSM secret resolver. Endpoint and static keys target MinIO or LocalStack.
type AWSConfig struct {
	Region    string `yaml:"region" env:"DRIVE_AWS_REGION"`
	Endpoint  string `yaml:"endpoint" env:"DRIVE_AWS_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"DRIVE_AWS_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"DRIVE_AWS_SECRET_KEY"`
}

type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"DRIVE_SMTP_HOST"`
	Port     int    `yaml:"port" env:"DRIVE_SMTP_PORT"`
	Username string `yaml:"username" env:"DRIVE_SMTP_USERNAME"`
	Password string `yaml:"password" env:"DRIVE_SMTP_PASSWORD"`
	From     string `yaml:"from" env:"DRIVE_SMTP_FROM"`
}

type RateLimitConfig struct {
	AuthRequests int           `yaml:"auth_requests"`
	AuthWindow   time.Duration `yaml:"auth_window"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	return cleanenv.ReadEnv(c)
}

// ResolveSecrets fetches secrets referenced by parameter name. It is a no-op
// when auth.jwt_secret_param is unset or no JWT is ever issued.
func (c *Config) ResolveSecrets(ctx context.Context, resolver secret.Resolver) error {
	if !c.needsSecretLookup() {
		return nil
	}

	value, err := resolver.GetSecret(ctx, c.Auth.JWTSecretParam)
	if err != nil {
		return fmt.Errorf("resolving jwt secret: %w", err)
	}
	c.Auth.JWTSecret = value

	return c.validateJWTSecret()
}

func (c *Config) validate() error {
	switch c.Auth.Mode {
	case AuthModeToken:
		if c.Auth.JWTSecretParam == "" {
			if err := c.validateJWTSecret(); err != nil {
				return err
			}
		}
	case AuthModeSession:
	default:
		return fmt.Errorf("auth.mode must be %q or %q", AuthModeToken, AuthModeSession)
	}

	switch c.Auth.SecretSource {
	case SecretSourceEnv, SecretSourceSSM:
	default:
		return fmt.Errorf("auth.secret_source must be %q or %q", SecretSourceEnv, SecretSourceSSM)
	}

	switch c.Server.Environment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		return fmt.Errorf("server.environment must be %q or %q", EnvironmentDevelopment, EnvironmentProduction)
	}

	if c.Auth.ExposeResetToken && c.IsProduction() {
		return fmt.Errorf("auth.expose_reset_token cannot be enabled in production")
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendDynamoDB:
		if c.Session.DynamoTable == "" {
			return fmt.Errorf("session.dynamo_table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("session.backend must be %q or %q", SessionBackendMemory, SessionBackendDynamoDB)
	}

	switch c.Storage.Backend {
	case StorageBackendLocal:
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", StorageBackendLocal, StorageBackendS3)
	}

	if c.Email.SMTP.Host != "" {
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp.port is required")
		}
		if c.Email.SMTP.From == "" {
			return fmt.Errorf("email.smtp.from is required")
		}
	}

	return nil
}

func (c *Config) validateJWTSecret() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.Name == "" {
		c.Server.Name = "Drive"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	c.Server.Environment = strings.ToLower(strings.TrimSpace(c.Server.Environment))
	if c.Server.Environment == "" {
		c.Server.Environment = EnvironmentDevelopment
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/drive.db"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeToken
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = constants.DefaultTokenTTL
	}
	if c.Auth.ResetTokenTTL == 0 {
		c.Auth.ResetTokenTTL = constants.DefaultResetTokenTTL
	}
	if c.Auth.MinPasswordLength == 0 {
		c.Auth.MinPasswordLength = constants.DefaultMinPasswordLength
	}
	if c.Session.Backend == "" {
		c.Session.Backend = SessionBackendMemory
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = constants.DefaultSessionTTL
	}
	if c.Session.CleanupInterval == 0 {
		c.Session.CleanupInterval = 10 * time.Minute
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendLocal
	}
	if c.Storage.UploadMaxBytes == 0 {
		c.Storage.UploadMaxBytes = 25 << 20
	}
	if c.Storage.Local.Root == "" {
		c.Storage.Local.Root = "./data/uploads"
	}
	if c.Storage.S3.PresignTTL == 0 {
		c.Storage.S3.PresignTTL = 15 * time.Minute
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.RateLimit.AuthRequests == 0 {
		c.RateLimit.AuthRequests = 10
	}
	if c.RateLimit.AuthWindow == 0 {
		c.RateLimit.AuthWindow = time.Minute
	}
	c.Auth.SecretSource = strings.ToLower(strings.TrimSpace(c.Auth.SecretSource))
	if c.Auth.SecretSource == "" {
		c.Auth.SecretSource = SecretSourceEnv
		if c.Storage.Backend == StorageBackendS3 || c.Session.Backend == SessionBackendDynamoDB {
			c.Auth.SecretSource = SecretSourceSSM
		}
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvironmentProduction
}

func (c *Config) EmailEnabled() bool {
	return c.Email.SMTP.Host != ""
}

// UsesAWS reports whether any configured component talks to AWS.
func (c *Config) UsesAWS() bool {
	return c.Storage.Backend == StorageBackendS3 ||
		c.Session.Backend == SessionBackendDynamoDB ||
		c.UsesSSM()
}

// UsesSSM reports whether the JWT secret is read from SSM Parameter Store.
func (c *Config) UsesSSM() bool {
	return c.needsSecretLookup() && c.Auth.SecretSource == SecretSourceSSM
}

func (c *Config) needsSecretLookup() bool {
	return c.Auth.Mode == AuthModeToken && c.Auth.JWTSecretParam != ""
}
