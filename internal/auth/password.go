package auth

import (
	"errors"

	"github.com/hugh/insightforge/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

const DefaultBcryptCost = 12

var ErrCorruptCredential = apperr.New(apperr.KindCorruptCredential, "Stored credential is corrupt")

// Hasher hashes and verifies passwords with bcrypt. The salt is generated per
// call and embedded in the hash, so nothing else needs to be stored.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher with the given cost, clamped to bcrypt's bounds.
// A non-positive cost selects DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int {
	return h.cost
}

func (h *Hasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify compares plaintext against a stored hash in constant time. A wrong
// password yields false with a nil error; a hash that cannot be parsed yields
// ErrCorruptCredential.
func (h *Hasher) Verify(plaintext, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, apperr.Wrap(apperr.KindCorruptCredential, ErrCorruptCredential.Message, err)
	}
}

// NeedsRehash reports whether hash was produced with a lower cost than h
// uses. Corrupt hashes report false; Verify surfaces those.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < h.cost
}
