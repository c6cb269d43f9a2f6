// Package fingerprint derives a weak per-device identity signal from a fixed
// set of request headers. The raw joined string is used for probabilistic
// cross-record comparison; the salted bcrypt hash is what gets embedded in
// tokens and session rows.
package fingerprint

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor applied to fingerprint hashes.
const DefaultCost = 7

// bcrypt ignores everything past 72 bytes; the joined header string easily
// exceeds that, so both hashing and comparison work on the same prefix.
const maxHashInput = 72

// DefaultHeaders is the ordered header set the fingerprint is built from.
// Order matters: the joined string is compared byte-for-byte after hashing.
var DefaultHeaders = []string{"sec-ch-ua", "user-agent", "accept-language"}

// Fingerprint bundles the raw joined header string with its salted hash.
// Raw drives re-hash-and-compare decisions; Hash is the stored/embedded form.
type Fingerprint struct {
	Raw  string
	Hash string
}

// Deriver turns request headers into a [Fingerprint].
//
// Deriver instances are intended to be configured during initialization and
// then treated as immutable.
type Deriver struct {
	headers []string
	cost    int
}

// NewDeriver returns a Deriver over the given ordered header names.
// Empty headers fall back to [DefaultHeaders]; cost outside bcrypt's valid
// range falls back to [DefaultCost].
func NewDeriver(headers []string, cost int) *Deriver {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Deriver{
		headers: append([]string(nil), headers...),
		cost:    cost,
	}
}

// Derive produces the fingerprint bundle for a request's headers.
// Salt randomness only affects Hash; Raw is deterministic for identical
// header sets, which is what every equality decision is driven by.
func (d *Deriver) Derive(h http.Header) (Fingerprint, error) {
	raw := d.Join(h)

	hash, err := bcrypt.GenerateFromPassword(hashInput(raw), d.cost)
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{Raw: raw, Hash: string(hash)}, nil
}

// HashRaw hashes an already-joined raw fingerprint string.
func (d *Deriver) HashRaw(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(hashInput(raw), d.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Join returns the raw concatenation of the configured header values,
// joined by "-", without hashing.
func (d *Deriver) Join(h http.Header) string {
	values := make([]string, len(d.headers))
	for i, name := range d.headers {
		values[i] = h.Get(name)
	}
	return strings.Join(values, "-")
}

// Match reports whether raw is the plaintext behind hash. Salts differ per
// stored record, so this is the only valid way to compare two fingerprints.
func Match(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), hashInput(raw)) == nil
}

func hashInput(raw string) []byte {
	if len(raw) > maxHashInput {
		raw = raw[:maxHashInput]
	}
	return []byte(raw)
}
