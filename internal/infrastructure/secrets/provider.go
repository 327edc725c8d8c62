package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
)

// ErrSecretNotFound is returned when a named secret does not exist.
var ErrSecretNotFound = errors.New("secrets: not found")

// ErrSecretTooShort is returned when a resolved signing secret is below the
// minimum length.
var ErrSecretTooShort = errors.New("secrets: jwt secret too short")

// minJWTSecretLength matches the config validation floor.
const minJWTSecretLength = 32

// Provider returns secret values by name.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
	Name() string
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider returns a provider backed by os.LookupEnv.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// Name implements Provider.
func (*EnvProvider) Name() string { return config.SecretProviderEnv }

// Get implements Provider. Empty values count as missing.
func (p *EnvProvider) Get(_ context.Context, name string) (string, error) {
	v, ok := p.lookup(envName(name))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

func envName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// vaultName converts an environment-style name to a Key Vault secret name.
func vaultName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// New builds the provider selected in cfg.
func New(cfg config.SecretsConfig) (Provider, error) {
	switch cfg.Provider {
	case "", config.SecretProviderEnv:
		return NewEnvProvider(), nil
	case config.SecretProviderAzureKeyVault:
		return NewKeyVaultProvider(cfg.VaultURL)
	default:
		return nil, fmt.Errorf("secrets: unknown provider %q", cfg.Provider)
	}
}

// ResolveJWTSecret returns the signing secret for cfg. With the env
// provider the already-loaded config value wins; otherwise the secret is
// fetched from p under cfg.Secrets.JWTSecretName.
func ResolveJWTSecret(ctx context.Context, cfg *config.Config, p Provider) (string, error) {
	secret := cfg.Security.JWT.Secret
	if secret == "" || p.Name() != config.SecretProviderEnv {
		v, err := p.Get(ctx, cfg.Secrets.JWTSecretName)
		if err != nil {
			return "", fmt.Errorf("resolving jwt secret from %s: %w", p.Name(), err)
		}
		secret = v
	}
	if len(secret) < minJWTSecretLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrSecretTooShort, minJWTSecretLength)
	}
	return secret, nil
}
