// Package config handles loading and validating Warden Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with WARDEN_* environment variables
//   - Validation of required fields and security floors
//   - Default values for token lifetimes, lockout and rate limiting
//
// Security Considerations:
//   - The JWT secret should come from WARDEN_JWT_SECRET or a key vault,
//     never from a committed config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ttl := cfg.Security.JWT.AccessTTL()
package config
