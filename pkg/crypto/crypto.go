// Package crypto provides credential hashing for timelock PINs and
// security-question answers.
//
// New credentials are hashed with Argon2id and stored as PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
//
// The browser version of the journal stored a salted SHA-256 hex digest.
// VerifySecret still accepts that legacy form so imported data keeps working.
//
// # Example Usage
//
//	encoded, err := crypto.HashSecret([]byte("1234"), crypto.DefaultParams())
//	ok, err := crypto.VerifySecret([]byte("1234"), encoded)
//	crypto.SecureWipe(pin)
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// MaxMemory and MaxTime bound the costs accepted from stored credentials.
	MaxMemory = 4 * Argon2Memory
	MaxTime   = 16 * Argon2Time

	// KeyLength is the length of derived hashes in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of per-credential salts in bytes (128 bits).
	SaltLength = 16

	// LegacySalt is the fixed suffix the browser version appended before hashing.
	LegacySalt = "timelock-salt"
)

// Sentinel errors returned by crypto functions.
var (
	// ErrUnknownFormat indicates the stored hash is neither PHC argon2id nor legacy hex.
	ErrUnknownFormat = errors.New("crypto: unknown credential hash format")

	// ErrInvalidParams indicates zero or out-of-range Argon2 parameters.
	ErrInvalidParams = errors.New("crypto: invalid argon2 parameters")
)

// Params are the Argon2id cost parameters.
type Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
}

// DefaultParams returns the OWASP-recommended parameters.
func DefaultParams() Params {
	return Params{Memory: Argon2Memory, Time: Argon2Time, Threads: Argon2Threads}
}

// Validate rejects parameters argon2 would misbehave with or that exceed
// MaxMemory and MaxTime.
func (p Params) Validate() error {
	if p.Time == 0 || p.Threads == 0 {
		return fmt.Errorf("%w: time and threads must be positive", ErrInvalidParams)
	}
	if p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("%w: memory must be at least 8 KiB per thread", ErrInvalidParams)
	}
	if p.Memory > MaxMemory {
		return fmt.Errorf("%w: memory must be at most %d KiB", ErrInvalidParams, MaxMemory)
	}
	if p.Time > MaxTime {
		return fmt.Errorf("%w: time must be at most %d", ErrInvalidParams, MaxTime)
	}
	return nil
}

// HashSecret derives an Argon2id hash of secret with a fresh random salt and
// returns it PHC-encoded.
func HashSecret(secret []byte, p Params) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	key := argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, KeyLength)
	defer SecureWipe(key)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret reports whether secret matches encoded. The comparison is
// constant-time for both supported formats.
func VerifySecret(secret []byte, encoded string) (bool, error) {
	if IsLegacy(encoded) {
		want, _ := hex.DecodeString(encoded)
		got := legacyDigest(secret)
		return subtle.ConstantTimeCompare(got[:], want) == 1, nil
	}

	p, salt, want, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	defer SecureWipe(got)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// LegacyHash computes the browser-era digest: hex(sha256(input + LegacySalt)).
func LegacyHash(input string) string {
	d := legacyDigest([]byte(input))
	return hex.EncodeToString(d[:])
}

// IsLegacy reports whether encoded is a 64-character hex digest.
func IsLegacy(encoded string) bool {
	if len(encoded) != hex.EncodedLen(sha256.Size) {
		return false
	}
	_, err := hex.DecodeString(encoded)
	return err == nil
}

func legacyDigest(secret []byte) [sha256.Size]byte {
	buf := make([]byte, 0, len(secret)+len(LegacySalt))
	buf = append(buf, secret...)
	buf = append(buf, LegacySalt...)
	defer SecureWipe(buf)
	return sha256.Sum256(buf)
}

// decodePHC parses "$argon2id$v=19$m=..,t=..,p=..$salt$hash".
func decodePHC(encoded string) (Params, []byte, []byte, error) {
	var p Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrUnknownFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: bad version: %v", ErrUnknownFormat, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrUnknownFormat, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: bad parameters: %v", ErrUnknownFormat, err)
	}
	if err := p.Validate(); err != nil {
		return p, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: bad salt: %v", ErrUnknownFormat, err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return p, nil, nil, fmt.Errorf("%w: bad hash", ErrUnknownFormat)
	}
	return p, salt, hash, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the writes are not optimized away.
	runtime.KeepAlive(b)
}
