// Package password wraps bcrypt hashing for stored credentials.
package password

import "golang.org/x/crypto/bcrypt"

// DefaultCost matches the work factor used for fingerprint hashes.
const DefaultCost = 7

// Hasher hashes and verifies passwords at a fixed cost.
//
// Hasher instances are intended to be configured during initialization and
// then treated as immutable.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher. Cost outside bcrypt's valid range falls back
// to [DefaultCost].
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether plain is the password behind hash.
func (h *Hasher) Verify(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
