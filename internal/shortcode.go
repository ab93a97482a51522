package internal

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// use Base58 (like Bitcoin): mixed-case alphanumerics without 0, O, I and l
const (
	alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	base     = 58

	DefaultCodeLength = 6
)

var bigBase = big.NewInt(base)

// CodeGenerator returns a new random short code on every call.
type CodeGenerator func() (string, error)

// NewCodeGenerator returns a generator of fixed-length codes drawn uniformly
// from the Base58 alphabet.
func NewCodeGenerator(length int) CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return func() (string, error) {
		return GenerateCode(length)
	}
}

func GenerateCode(length int) (string, error) {
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, bigBase)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}
