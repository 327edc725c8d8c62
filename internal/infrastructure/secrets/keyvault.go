package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
)

const (
	defaultCacheTTL = 5 * time.Minute
	fetchTimeout    = 10 * time.Second
)

// secretGetter is the subset of *azsecrets.Client the provider uses.
type secretGetter interface {
	GetSecret(ctx context.Context, name, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// KeyVaultProvider reads secrets from Azure Key Vault using the default
// Azure credential chain (managed identity, workload identity, CLI).
type KeyVaultProvider struct {
	client secretGetter
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSecret
}

// NewKeyVaultProvider connects to the vault at vaultURL.
func NewKeyVaultProvider(vaultURL string) (*KeyVaultProvider, error) {
	if vaultURL == "" {
		return nil, errors.New("secrets: vault_url is required for azure-keyvault")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating azure credential: %w", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: creating key vault client: %w", err)
	}
	return newKeyVaultProvider(client, defaultCacheTTL, time.Now), nil
}

func newKeyVaultProvider(client secretGetter, ttl time.Duration, now func() time.Time) *KeyVaultProvider {
	return &KeyVaultProvider{
		client: client,
		ttl:    ttl,
		now:    now,
		cache:  make(map[string]cachedSecret),
	}
}

// Name implements Provider.
func (*KeyVaultProvider) Name() string { return config.SecretProviderAzureKeyVault }

// Get implements Provider. Values are cached per name for the TTL; a 404
// from the vault maps to ErrSecretNotFound.
func (p *KeyVaultProvider) Get(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.cache[name]; ok && p.now().Before(c.expiresAt) {
		return c.value, nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	resp, err := p.client.GetSecret(ctx, vaultName(name), "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("secrets: fetching %s: %w", vaultName(name), err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return "", fmt.Errorf("%w: %s has no value", ErrSecretNotFound, name)
	}

	p.cache[name] = cachedSecret{value: *resp.Value, expiresAt: p.now().Add(p.ttl)}
	return *resp.Value, nil
}

// Invalidate drops a cached secret so the next Get refetches it.
func (p *KeyVaultProvider) Invalidate(name string) {
	p.mu.Lock()
	delete(p.cache, name)
	p.mu.Unlock()
}
