// Package secrets overlays credentials kept in a secret store onto the
// loaded configuration.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/jordanlanch/entityhub/config"
	"github.com/jordanlanch/entityhub/pkg/logger"
)

// Backends accepted by SECRETS_BACKEND
const (
	BackendEnv = "env"
	BackendAWS = "aws"
)

// ErrNotFound is returned when a secret does not exist
var ErrNotFound = errors.New("secret not found")

// Provider reads secrets by name
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvProvider reads secrets from the process environment
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates a provider backed by os.LookupEnv
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// GetSecret returns the environment value of key
func (p *EnvProvider) GetSecret(_ context.Context, key string) (string, error) {
	value, ok := p.lookup(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

type secretGetter interface {
	GetSecretValueWithContext(aws.Context, *secretsmanager.GetSecretValueInput, ...request.Option) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// AWSProvider reads secrets from AWS Secrets Manager. Secret ids are the
// configuration keys joined to an optional prefix, e.g. "entityhub/JWT_SECRET".
type AWSProvider struct {
	client   secretGetter
	prefix   string
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

// NewAWSProvider creates a Secrets Manager client for region
func NewAWSProvider(region, prefix string, cacheTTL time.Duration) (*AWSProvider, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newAWSProvider(secretsmanager.New(sess), prefix, cacheTTL), nil
}

func newAWSProvider(client secretGetter, prefix string, cacheTTL time.Duration) *AWSProvider {
	return &AWSProvider{
		client:   client,
		prefix:   prefix,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cachedSecret),
	}
}

// GetSecret returns the string value of the secret named by key
func (p *AWSProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := p.cached(key); ok {
		return value, nil
	}

	id := key
	if p.prefix != "" {
		id = strings.TrimSuffix(p.prefix, "/") + "/" + key
	}
	out, err := p.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}

	p.mu.Lock()
	p.cache[key] = cachedSecret{value: *out.SecretString, expiresAt: time.Now().Add(p.cacheTTL)}
	p.mu.Unlock()
	return *out.SecretString, nil
}

func (p *AWSProvider) cached(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.cache[key]
	if !ok || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.value, true
}

// NewProvider returns the provider selected by cfg.SecretsBackend
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.SecretsBackend {
	case BackendEnv, "":
		return NewEnvProvider(), nil
	case BackendAWS:
		p, err := NewAWSProvider(cfg.AWSRegion, cfg.SecretsPrefix, 5*time.Minute)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.SecretsBackend)
	}
}

// Apply replaces credential fields of cfg with the values found in p.
// Missing secrets keep the configured value.
func Apply(ctx context.Context, p Provider, cfg *config.Config, log logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	fields := []struct {
		key    string
		target *string
	}{
		{"JWT_SECRET", &cfg.JWTSecret},
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_URL", &cfg.RedisURL},
		{"OPENAI_API_KEY", &cfg.OpenAIAPIKey},
		{"AWS_ACCESS_KEY_ID", &cfg.AWSAccessKeyID},
		{"AWS_SECRET_ACCESS_KEY", &cfg.AWSSecretAccessKey},
		{"SENTRY_DSN", &cfg.SentryDSN},
	}

	loaded := 0
	for _, f := range fields {
		value, err := p.GetSecret(ctx, f.key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*f.target = value
		loaded++
	}
	log.Info("secrets loaded", "backend", cfg.SecretsBackend, "count", loaded)
	return nil
}

// Load builds the configured provider and applies it to cfg. The env
// backend is a no-op because config already reads the environment.
func Load(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if cfg.SecretsBackend == "" || cfg.SecretsBackend == BackendEnv {
		return nil
	}
	p, err := NewProvider(cfg)
	if err != nil {
		return err
	}
	return Apply(ctx, p, cfg, log)
}
