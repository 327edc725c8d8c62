package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2id parameters, OWASP 2025 recommendation. Fixed per deployment.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// Upper bounds accepted when decoding a stored hash.
const (
	maxArgonTime   = 16
	maxArgonMemory = 1024 * 1024 // 1 GiB
)

var errMalformedHash = errors.New("malformed password hash")

// HashPassword hashes a plaintext password using Argon2id and returns it
// in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword reports whether password matches the stored hash.
//
// Argon2id PHC strings and legacy bcrypt hashes ($2a$, $2b$, $2y$) are
// accepted. A malformed or unsupported hash yields false, the same answer
// as a wrong password.
func VerifyPassword(password, encodedHash string) bool {
	if isBcrypt(encodedHash) {
		return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
	}

	salt, hash, params, err := decodePHC(encodedHash)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1
}

// NeedsRehash reports whether a stored hash should be replaced with a fresh
// Argon2id hash at the current parameters after a successful login.
func NeedsRehash(encodedHash string) bool {
	if isBcrypt(encodedHash) {
		return true
	}
	_, hash, params, err := decodePHC(encodedHash)
	if err != nil {
		return true
	}
	return params.time != argonTime || params.memory != argonMemory ||
		params.threads != argonThreads || len(hash) != argonKeyLen
}

// dummyHash is verified against when the account does not exist so that
// unknown usernames cost as much as wrong passwords.
var dummyHash = func() string {
	h, err := HashPassword("warden-timing-equaliser")
	if err != nil {
		panic(fmt.Sprintf("auth: generating dummy hash: %v", err))
	}
	return h
}()

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, errMalformedHash
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("%w: unsupported algorithm %q", errMalformedHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("%w: version", errMalformedHash)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("%w: parameters", errMalformedHash)
	}
	if params.time == 0 || params.memory == 0 || params.threads == 0 {
		return nil, nil, params, fmt.Errorf("%w: zero parameter", errMalformedHash)
	}
	if params.time > maxArgonTime || params.memory > maxArgonMemory {
		return nil, nil, params, fmt.Errorf("%w: parameters out of range", errMalformedHash)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("%w: salt", errMalformedHash)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, nil, params, fmt.Errorf("%w: hash", errMalformedHash)
	}

	return salt, hash, params, nil
}
