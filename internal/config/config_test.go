package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"drive/internal/secret"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("auth:\n  jwt_secret: " + testSecret + "\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.Mode != AuthModeToken {
		t.Fatalf("Auth.Mode = %q, want %q", cfg.Auth.Mode, AuthModeToken)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("Auth.TokenTTL = %s, want 1h", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.ResetTokenTTL != 15*time.Minute {
		t.Fatalf("Auth.ResetTokenTTL = %s, want 15m", cfg.Auth.ResetTokenTTL)
	}
	if cfg.Storage.Backend != StorageBackendLocal {
		t.Fatalf("Storage.Backend = %q, want %q", cfg.Storage.Backend, StorageBackendLocal)
	}
	if cfg.Session.Backend != SessionBackendMemory {
		t.Fatalf("Session.Backend = %q, want %q", cfg.Session.Backend, SessionBackendMemory)
	}
	if cfg.IsProduction() {
		t.Fatal("IsProduction() = true, want false")
	}
	if got, want := cfg.Addr(), "0.0.0.0:5000"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}

func TestParseEnvOverridesYAML(t *testing.T) {
	t.Setenv("DRIVE_JWT_SECRET", strings.Repeat("z", 40))
	t.Setenv("DRIVE_AUTH_MODE", "session")
	t.Setenv("DRIVE_ENV", "production")

	cfg, err := Parse([]byte("auth:\n  jwt_secret: " + testSecret + "\n  mode: token\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.JWTSecret != strings.Repeat("z", 40) {
		t.Fatalf("Auth.JWTSecret was not overridden from env")
	}
	if cfg.Auth.Mode != AuthModeSession {
		t.Fatalf("Auth.Mode = %q, want %q", cfg.Auth.Mode, AuthModeSession)
	}
	if !cfg.IsProduction() {
		t.Fatal("IsProduction() = false, want true")
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "missing_secret", yaml: "server:\n  port: 8080\n", want: "jwt_secret is required"},
		{name: "short_secret", yaml: "auth:\n  jwt_secret: short\n", want: "at least 32"},
		{name: "bad_mode", yaml: "auth:\n  jwt_secret: " + testSecret + "\n  mode: both\n", want: "auth.mode"},
		{name: "s3_without_bucket", yaml: "auth:\n  jwt_secret: " + testSecret + "\nstorage:\n  backend: s3\n", want: "bucket"},
		{name: "dynamo_without_table", yaml: "auth:\n  jwt_secret: " + testSecret + "\nsession:\n  backend: dynamodb\n", want: "dynamo_table"},
		{name: "expose_token_in_production", yaml: "auth:\n  jwt_secret: " + testSecret + "\n  expose_reset_token: true\nserver:\n  environment: production\n", want: "expose_reset_token"},
		{name: "smtp_without_from", yaml: "auth:\n  jwt_secret: " + testSecret + "\nemail:\n  smtp:\n    host: mail\n    port: 587\n", want: "from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

type stubResolver struct {
	value string
	err   error
	asked string
}

func (r *stubResolver) GetSecret(_ context.Context, name string) (string, error) {
	r.asked = name
	return r.value, r.err
}

func TestResolveSecretsFetchesParameter(t *testing.T) {
	cfg, err := Parse([]byte("auth:\n  jwt_secret_param: /drive/jwt-secret\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	resolver := &stubResolver{value: testSecret}
	if err := cfg.ResolveSecrets(context.Background(), resolver); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if resolver.asked != "/drive/jwt-secret" {
		t.Fatalf("resolver asked for %q", resolver.asked)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Fatalf("Auth.JWTSecret = %q, want resolved value", cfg.Auth.JWTSecret)
	}
}

func TestResolveSecretsPropagatesErrors(t *testing.T) {
	cfg, err := Parse([]byte("auth:\n  jwt_secret_param: /drive/jwt-secret\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	boom := errors.New("access denied")
	if err := cfg.ResolveSecrets(context.Background(), &stubResolver{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("ResolveSecrets() error = %v, want %v", err, boom)
	}
}

func TestSessionModeNeedsNoJWTSecret(t *testing.T) {
	cfg, err := Parse([]byte("auth:\n  mode: session\n  jwt_secret_param: /drive/jwt-secret\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.UsesAWS() {
		t.Fatal("UsesAWS() = true, want false in session mode")
	}

	resolver := &stubResolver{err: errors.New("must not be called")}
	if err := cfg.ResolveSecrets(context.Background(), resolver); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if resolver.asked != "" {
		t.Fatalf("resolver asked for %q in session mode", resolver.asked)
	}
}

func TestSecretSourceDefaults(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		source  string
		usesSSM bool
		usesAWS bool
	}{
		{
			name:   "local_only",
			yaml:   "auth:\n  jwt_secret_param: /drive/jwt-secret\n",
			source: SecretSourceEnv,
		},
		{
			name:    "explicit_ssm",
			yaml:    "auth:\n  jwt_secret_param: /drive/jwt-secret\n  secret_source: ssm\n",
			source:  SecretSourceSSM,
			usesSSM: true,
			usesAWS: true,
		},
		{
			name:    "s3_storage",
			yaml:    "auth:\n  jwt_secret_param: /drive/jwt-secret\nstorage:\n  backend: s3\n  s3:\n    bucket: drive\n",
			source:  SecretSourceSSM,
			usesSSM: true,
			usesAWS: true,
		},
		{
			name:    "s3_storage_env_secret",
			yaml:    "auth:\n  jwt_secret_param: /drive/jwt-secret\n  secret_source: env\nstorage:\n  backend: s3\n  s3:\n    bucket: drive\n",
			source:  SecretSourceEnv,
			usesAWS: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.Auth.SecretSource != tt.source {
				t.Fatalf("Auth.SecretSource = %q, want %q", cfg.Auth.SecretSource, tt.source)
			}
			if cfg.UsesSSM() != tt.usesSSM {
				t.Fatalf("UsesSSM() = %v, want %v", cfg.UsesSSM(), tt.usesSSM)
			}
			if cfg.UsesAWS() != tt.usesAWS {
				t.Fatalf("UsesAWS() = %v, want %v", cfg.UsesAWS(), tt.usesAWS)
			}
		})
	}
}

func TestParseRejectsUnknownSecretSource(t *testing.T) {
	_, err := Parse([]byte("auth:\n  jwt_secret: " + testSecret + "\n  secret_source: vault\n"))
	if err == nil || !strings.Contains(err.Error(), "secret_source") {
		t.Fatalf("Parse() error = %v, want secret_source error", err)
	}
}

func TestResolveSecretsFromEnvironment(t *testing.T) {
	t.Setenv("DRIVE_SIGNING_KEY", testSecret)

	cfg, err := Parse([]byte("auth:\n  jwt_secret_param: /drive/prod/signing-key\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.UsesSSM() {
		t.Fatal("UsesSSM() = true, want env lookup")
	}

	if err := cfg.ResolveSecrets(context.Background(), secret.NewEnvResolver("DRIVE")); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Fatalf("Auth.JWTSecret = %q, want value of DRIVE_SIGNING_KEY", cfg.Auth.JWTSecret)
	}
}
