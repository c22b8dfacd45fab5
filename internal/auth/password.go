package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Credential hashes and verifies user secrets. The salt is stored next to the
// digest so backends that need an explicit salt can be swapped in.
type Credential interface {
	Hash(secret, salt string) (string, error)
	Verify(secret, digest, salt string) bool
}

// BcryptCredential is the default Credential. bcrypt keeps its own salt inside
// the digest, the per-user salt is mixed into the secret on top of that.
type BcryptCredential struct {
	Cost int
}

// NewBcryptCredential returns a Credential using bcrypt.DefaultCost.
func NewBcryptCredential() *BcryptCredential {
	return &BcryptCredential{Cost: bcrypt.DefaultCost}
}

// Hash returns a bcrypt hash of salt+secret.
func (b *BcryptCredential) Hash(secret, salt string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(salt+secret), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(bytes), nil
}

// Verify compares a bcrypt digest with its possible plaintext equivalent.
func (b *BcryptCredential) Verify(secret, digest, salt string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(salt+secret))
	return err == nil
}

// NewSalt случайная соль 16 байт в base64
func NewSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
