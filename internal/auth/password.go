package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned for a stored hash that is not an argon2id
// PHC string.
var ErrMalformedHash = errors.New("malformed password hash")

// hashParams are the Argon2id cost settings encoded into every hash.
type hashParams struct {
	memoryKiB uint32
	passes    uint32
	lanes     uint8
	saltLen   int
	keyLen    uint32
}

// currentParams is what new hashes use (OWASP baseline: 64 MiB, 3 passes).
var currentParams = hashParams{memoryKiB: 64 * 1024, passes: 3, lanes: 1, saltLen: 16, keyLen: 32}

var b64 = base64.RawStdEncoding

// HashPassword returns an Argon2id hash of password in PHC form:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>
func HashPassword(password string) (string, error) {
	p := currentParams
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("reading salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.passes, p.memoryKiB, p.lanes, p.keyLen)

	var sb strings.Builder
	fmt.Fprintf(&sb, "$argon2id$v=%d$m=%d,t=%d,p=%d$", argon2.Version, p.memoryKiB, p.passes, p.lanes)
	sb.WriteString(b64.EncodeToString(salt))
	sb.WriteByte('$')
	sb.WriteString(b64.EncodeToString(key))
	return sb.String(), nil
}

// VerifyPassword reports whether password matches the stored hash.
// A malformed hash is an error, never a match.
func VerifyPassword(password, stored string) (bool, error) {
	h, err := parseHash(stored)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), h.salt, h.params.passes, h.params.memoryKiB, h.params.lanes, uint32(len(h.key))) //nolint:gosec // G115: key length is small
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

// NeedsRehash reports whether stored was made with different cost settings
// than new hashes use. Callers rehash after a successful login.
func NeedsRehash(stored string) bool {
	h, err := parseHash(stored)
	if err != nil {
		return true
	}
	p := h.params
	return p.memoryKiB != currentParams.memoryKiB ||
		p.passes != currentParams.passes ||
		p.lanes != currentParams.lanes ||
		len(h.key) != int(currentParams.keyLen)
}

type parsedHash struct {
	params hashParams
	salt   []byte
	key    []byte
}

func parseHash(stored string) (parsedHash, error) {
	var h parsedHash

	// "" / argon2id / v=19 / m=..,t=..,p=.. / salt / key
	fields := strings.Split(stored, "$")
	if len(fields) != 6 || fields[0] != "" { //nolint:mnd // PHC field count
		return h, fmt.Errorf("%w: wrong field count", ErrMalformedHash)
	}
	if fields[1] != "argon2id" {
		return h, fmt.Errorf("%w: algorithm %q", ErrMalformedHash, fields[1])
	}
	if fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return h, fmt.Errorf("%w: version %q", ErrMalformedHash, fields[2])
	}

	for _, kv := range strings.Split(fields[3], ",") {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return h, fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return h, fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
		switch name {
		case "m":
			h.params.memoryKiB = uint32(n)
		case "t":
			h.params.passes = uint32(n)
		case "p":
			if n == 0 || n > 255 {
				return h, fmt.Errorf("%w: parallelism %d", ErrMalformedHash, n)
			}
			h.params.lanes = uint8(n)
		default:
			return h, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
	}
	if h.params.memoryKiB == 0 || h.params.passes == 0 || h.params.lanes == 0 {
		return h, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}
	if h.key, err = b64.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	h.params.saltLen = len(h.salt)
	h.params.keyLen = uint32(len(h.key)) //nolint:gosec // G115: key length is small
	return h, nil
}
