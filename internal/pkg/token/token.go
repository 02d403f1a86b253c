package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var accessCodeSpace = big.NewInt(1_000_000)

// NewAccessCode returns a random 6-digit, zero-padded numeric code.
func NewAccessCode() (string, error) {
	n, err := rand.Int(rand.Reader, accessCodeSpace)
	if err != nil {
		return "", fmt.Errorf("generate access code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
