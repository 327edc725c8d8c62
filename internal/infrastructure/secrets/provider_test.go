package secrets

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
)

const longSecret = "vault-secret-key-at-least-32-chars!"

type fakeVault struct {
	values map[string]string
	calls  int
	err    error
}

func (f *fakeVault) GetSecret(_ context.Context, name, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.calls++
	if f.err != nil {
		return azsecrets.GetSecretResponse{}, f.err
	}
	v, ok := f.values[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "SecretNotFound"}
	}
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: &v}}, nil
}

func TestNameTransforms(t *testing.T) {
	if got := vaultName("WARDEN_JWT_SECRET"); got != "WARDEN-JWT-SECRET" {
		t.Errorf("vaultName() = %q", got)
	}
	if got := envName("warden-jwt-secret"); got != "WARDEN_JWT_SECRET" {
		t.Errorf("envName() = %q", got)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("WARDEN_TEST_SECRET", "value")
	t.Setenv("WARDEN_EMPTY_SECRET", "")
	p := NewEnvProvider()

	got, err := p.Get(context.Background(), "WARDEN_TEST_SECRET")
	if err != nil || got != "value" {
		t.Errorf("Get() = %q, %v; want value", got, err)
	}
	if _, err := p.Get(context.Background(), "WARDEN_EMPTY_SECRET"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get(empty) error = %v, want ErrSecretNotFound", err)
	}
	if _, err := p.Get(context.Background(), "WARDEN_MISSING_SECRET"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSecretNotFound", err)
	}
}

func TestKeyVaultProvider_CachesWithinTTL(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	vault := &fakeVault{values: map[string]string{"WARDEN-JWT-SECRET": longSecret}}
	p := newKeyVaultProvider(vault, time.Minute, func() time.Time { return now })

	for range 3 {
		got, err := p.Get(context.Background(), "WARDEN_JWT_SECRET")
		if err != nil || got != longSecret {
			t.Fatalf("Get() = %q, %v", got, err)
		}
	}
	if vault.calls != 1 {
		t.Errorf("vault calls = %d, want 1 within TTL", vault.calls)
	}

	now = now.Add(time.Minute)
	if _, err := p.Get(context.Background(), "WARDEN_JWT_SECRET"); err != nil {
		t.Fatalf("Get() after TTL error = %v", err)
	}
	if vault.calls != 2 {
		t.Errorf("vault calls = %d, want 2 after TTL", vault.calls)
	}

	p.Invalidate("WARDEN_JWT_SECRET")
	_, _ = p.Get(context.Background(), "WARDEN_JWT_SECRET")
	if vault.calls != 3 {
		t.Errorf("vault calls = %d, want 3 after Invalidate", vault.calls)
	}
}

func TestKeyVaultProvider_Errors(t *testing.T) {
	p := newKeyVaultProvider(&fakeVault{values: map[string]string{}}, time.Minute, time.Now)
	if _, err := p.Get(context.Background(), "MISSING"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSecretNotFound", err)
	}

	boom := errors.New("network unreachable")
	p = newKeyVaultProvider(&fakeVault{err: boom}, time.Minute, time.Now)
	if _, err := p.Get(context.Background(), "ANY"); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want wrapped network error", err)
	}
}

func TestNewKeyVaultProvider_RequiresURL(t *testing.T) {
	if _, err := NewKeyVaultProvider(""); err == nil {
		t.Error("NewKeyVaultProvider(\"\") expected error")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	if _, err := New(config.SecretsConfig{Provider: "vault"}); err == nil {
		t.Error("New(unknown) expected error")
	}
	p, err := New(config.SecretsConfig{})
	if err != nil || p.Name() != config.SecretProviderEnv {
		t.Errorf("New(default) = %v, %v; want env provider", p, err)
	}
}

func TestResolveJWTSecret(t *testing.T) {
	vault := newKeyVaultProvider(&fakeVault{values: map[string]string{"WARDEN-JWT-SECRET": longSecret}}, time.Minute, time.Now)
	short := newKeyVaultProvider(&fakeVault{values: map[string]string{"WARDEN-JWT-SECRET": "short"}}, time.Minute, time.Now)

	tests := []struct {
		name       string
		configured string
		provider   Provider
		want       string
		wantErr    error
	}{
		{"env provider uses config", "config-secret-key-at-least-32-chars", NewEnvProvider(), "config-secret-key-at-least-32-chars", nil},
		{"vault overrides config", "config-secret-key-at-least-32-chars", vault, longSecret, nil},
		{"vault supplies missing", "", vault, longSecret, nil},
		{"short vault secret", "", short, "", ErrSecretTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Security.JWT.Secret = tt.configured
			cfg.Secrets.JWTSecretName = "WARDEN_JWT_SECRET"

			got, err := ResolveJWTSecret(context.Background(), cfg, tt.provider)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveJWTSecret() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveJWTSecret() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveJWTSecret() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveJWTSecret_MissingEverywhere(t *testing.T) {
	cfg := &config.Config{}
	cfg.Secrets.JWTSecretName = "WARDEN_DEFINITELY_UNSET_SECRET"

	_, err := ResolveJWTSecret(context.Background(), cfg, NewEnvProvider())
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("ResolveJWTSecret() error = %v, want ErrSecretNotFound", err)
	}
	if err != nil && strings.Contains(err.Error(), longSecret) {
		t.Error("error message leaks a secret value")
	}
}
