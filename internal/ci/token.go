package ci

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const defaultTokenBytes = 32

// TokenIssuer produces the opaque bearer tokens handed to workers. Uniqueness is
// enforced by the database, an issuer only has to make collisions improbable.
type TokenIssuer interface {
	Issue() (string, error)
}

// RandomTokenIssuer hex-encodes bytes read from crypto/rand
type RandomTokenIssuer struct {
	Bytes int
}

func NewRandomTokenIssuer() *RandomTokenIssuer {
	return &RandomTokenIssuer{Bytes: defaultTokenBytes}
}

func (r *RandomTokenIssuer) Issue() (string, error) {
	size := r.Bytes
	if size < 16 {
		size = defaultTokenBytes
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not read random bytes for token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
