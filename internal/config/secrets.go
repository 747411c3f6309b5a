package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerClient is the subset of the Secrets Manager API we use.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsLoader reads secrets from AWS Secrets Manager.
type SecretsLoader struct {
	client SecretsManagerClient
	logger *slog.Logger
}

func NewSecretsLoader(ctx context.Context, region string, logger *slog.Logger) (*SecretsLoader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSecretsLoaderWithClient(secretsmanager.NewFromConfig(cfg), logger), nil
}

func NewSecretsLoaderWithClient(client SecretsManagerClient, logger *slog.Logger) *SecretsLoader {
	return &SecretsLoader{client: client, logger: logger}
}

func (l *SecretsLoader) GetSecret(ctx context.Context, secretID string) (string, error) {
	out, err := l.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		l.logger.Error("failed to read secret", slog.String("secret_id", secretID), slog.Any("error", err))
		return "", fmt.Errorf("failed to get secret: %w", err)
	}

	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}

	l.logger.Info("secret loaded", slog.String("secret_id", secretID))
	return *out.SecretString, nil
}

// ResolveEncryptionKey returns the configured encryption key, reading it
// from Secrets Manager when only a secret ID is set. An empty result in
// production is a ConfigError; elsewhere the caller may generate a key.
func ResolveEncryptionKey(ctx context.Context, cfg *Config, loader *SecretsLoader) (string, error) {
	key := cfg.Encryption.Key

	if key == "" && cfg.Encryption.SecretID != "" {
		if loader == nil {
			return "", &ConfigError{Key: "ENCRYPTION_KEY_SECRET_ID", Reason: "set but no secrets loader available"}
		}
		secret, err := loader.GetSecret(ctx, cfg.Encryption.SecretID)
		if err != nil {
			return "", &ConfigError{Key: "ENCRYPTION_KEY_SECRET_ID", Reason: err.Error()}
		}
		key = secret
	}

	if key == "" && cfg.IsProduction() {
		return "", &ConfigError{Key: "ENCRYPTION_KEY", Reason: "is required in production"}
	}

	return key, nil
}
