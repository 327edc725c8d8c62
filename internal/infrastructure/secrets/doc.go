// Package secrets resolves sensitive configuration such as the JWT signing
// key from the environment or from Azure Key Vault.
//
// Key Vault names may not contain underscores, so environment-style names
// are translated: WARDEN_JWT_SECRET is stored as WARDEN-JWT-SECRET.
// Key Vault lookups are cached for a short TTL.
package secrets
