package solana

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const (
	publicKeyLength = 32
	signatureLength = 64
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ValidateAddress checks that s is a base58 encoded 32-byte public key.
func ValidateAddress(s string) error {
	if n := len(base58.Decode(s)); s == "" || n != publicKeyLength {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return nil
}

// ValidateSignature checks that s is a base58 encoded 64-byte transaction signature.
func ValidateSignature(s string) error {
	if n := len(base58.Decode(s)); s == "" || n != signatureLength {
		return fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	return nil
}
