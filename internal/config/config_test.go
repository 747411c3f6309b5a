package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Auth.MaxLoginAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionTimeout)
	assert.True(t, cfg.Features.TwoFactorAuth)
	assert.True(t, cfg.Features.DataEncryption)
	assert.False(t, cfg.Features.BiometricAuth)

	assert.Equal(t, 1000, cfg.Detection.EventLogCapacity)
	assert.Equal(t, 5, cfg.Detection.FailedLoginsThreshold)
	assert.Equal(t, 100, cfg.Detection.DataAccessThreshold)
	assert.Equal(t, 1000, cfg.Detection.APICallThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Detection.ScanInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Detection.ThreatRetention)

	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Empty(t, cfg.Retention.Collections)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{name: "jwt secret", env: map[string]string{"DB_PASSWORD": "x"}, key: "JWT_SECRET"},
		{name: "db password", env: map[string]string{"JWT_SECRET": "test-secret-32-characters-long!"}, key: "DB_PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			t.Setenv("DB_PASSWORD", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.key, cerr.Key)
			assert.True(t, errors.Is(err, ErrConfig))
		})
	}
}

func TestLoad_FeatureFlagsAndTunables(t *testing.T) {
	setRequired(t)
	t.Setenv("FEATURE_TWO_FACTOR_AUTH", "false")
	t.Setenv("FEATURE_RATE_LIMITING", "0")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "3")
	t.Setenv("LOCKOUT_DURATION", "900s")
	t.Setenv("RECORD_RETENTION", "visit_notes=30, audit_exports=7")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Features.TwoFactorAuth)
	assert.False(t, cfg.Features.RateLimiting)
	assert.Equal(t, 3, cfg.Auth.MaxLoginAttempts)
	assert.Equal(t, 900*time.Second, cfg.Auth.LockoutDuration)
	assert.Equal(t, map[string]int{"visit_notes": 30, "audit_exports": 7}, cfg.Retention.Collections)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "zero attempts", key: "MAX_LOGIN_ATTEMPTS", val: "0"},
		{name: "bad retention", key: "RECORD_RETENTION", val: "visit_notes"},
		{name: "negative retention", key: "RECORD_RETENTION", val: "visit_notes=-1"},
		{name: "zero threshold", key: "THREAT_DATA_ACCESS", val: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.True(t, errors.Is(err, ErrConfig))
		})
	}
}

func TestValidateJWTSecret(t *testing.T) {
	assert.NoError(t, validateJWTSecret("sixteen-chars-ok", "development"))
	assert.Error(t, validateJWTSecret("sixteen-chars-ok", "production"))
	assert.Error(t, validateJWTSecret("short", "development"))
}

func TestLoadRules_OverlaysYAML(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_access_threshold: 50\nfailed_logins_window: 10m\n"), 0o600))
	t.Setenv("DETECTION_RULES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Detection.DataAccessThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Detection.FailedLoginsWindow)
	assert.Equal(t, 5, cfg.Detection.FailedLoginsThreshold)
	assert.Equal(t, path, cfg.Detection.RulesFile)
}

func TestLoadRules_Invalid(t *testing.T) {
	d := DefaultDetection()
	assert.True(t, errors.Is(d.LoadRules(filepath.Join(t.TempDir(), "missing.yaml")), ErrConfig))

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_locations: 0\n"), 0o600))
	assert.True(t, errors.Is(d.LoadRules(path), ErrConfig))
}

type fakeSecretsClient struct {
	value *string
	err   error
	asked string
}

func (f *fakeSecretsClient) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = aws.ToString(in.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestResolveEncryptionKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("direct key wins", func(t *testing.T) {
		cfg := &Config{Encryption: EncryptionConfig{Key: "direct", SecretID: "ignored"}}
		key, err := ResolveEncryptionKey(ctx, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, "direct", key)
	})

	t.Run("secrets manager", func(t *testing.T) {
		client := &fakeSecretsClient{value: aws.String("from-secrets-manager")}
		cfg := &Config{Encryption: EncryptionConfig{SecretID: "careguard/encryption"}}

		key, err := ResolveEncryptionKey(ctx, cfg, NewSecretsLoaderWithClient(client, logger))
		require.NoError(t, err)
		assert.Equal(t, "from-secrets-manager", key)
		assert.Equal(t, "careguard/encryption", client.asked)
	})

	t.Run("secrets manager failure", func(t *testing.T) {
		client := &fakeSecretsClient{err: errors.New("access denied")}
		cfg := &Config{Encryption: EncryptionConfig{SecretID: "careguard/encryption"}}

		_, err := ResolveEncryptionKey(ctx, cfg, NewSecretsLoaderWithClient(client, logger))
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("missing in production", func(t *testing.T) {
		cfg := &Config{Server: ServerConfig{Env: "production"}}
		_, err := ResolveEncryptionKey(ctx, cfg, nil)
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("missing in development", func(t *testing.T) {
		cfg := &Config{Server: ServerConfig{Env: "development"}}
		key, err := ResolveEncryptionKey(ctx, cfg, nil)
		require.NoError(t, err)
		assert.Empty(t, key)
	})
}
