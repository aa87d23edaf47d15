// Package otp produces one-time passcodes for the mobile signup flow.
//
// Codes are never delivered anywhere by this service; the caller receives the
// issued code in the RequestOtp result. Fixed is the default so the flow can
// be exercised end to end without an SMS gateway.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultFixedCode is the code Fixed returns when none is configured.
const DefaultFixedCode = "9999"

// MaxLength is the width of the otp column.
const MaxLength = 6

// Generator produces the next code for a mobile number.
type Generator interface {
	Generate(mobile string) (string, error)
}

// Fixed always returns the same code.
type Fixed struct {
	Code string
}

// NewFixed returns a Fixed generator; an empty code selects DefaultFixedCode.
func NewFixed(code string) (*Fixed, error) {
	if code == "" {
		code = DefaultFixedCode
	}
	if len(code) > MaxLength {
		return nil, fmt.Errorf("otp: fixed code longer than %d characters", MaxLength)
	}
	return &Fixed{Code: code}, nil
}

func (f *Fixed) Generate(string) (string, error) {
	return f.Code, nil
}

// Random returns uniformly distributed numeric codes of a fixed length,
// read from crypto/rand. Leading zeros are kept.
type Random struct {
	length int
	limit  *big.Int
}

// NewRandom returns a Random generator producing codes of length digits.
func NewRandom(length int) (*Random, error) {
	if length < 4 || length > MaxLength {
		return nil, fmt.Errorf("otp: length %d out of range [4, %d]", length, MaxLength)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	return &Random{length: length, limit: limit}, nil
}

func (r *Random) Generate(string) (string, error) {
	n, err := rand.Int(rand.Reader, r.limit)
	if err != nil {
		return "", fmt.Errorf("otp: reading random: %w", err)
	}
	return fmt.Sprintf("%0*d", r.length, n), nil
}

// New builds the generator named by mode ("fixed" or "random").
func New(mode, fixedCode string, length int) (Generator, error) {
	switch mode {
	case "", "fixed":
		return NewFixed(fixedCode)
	case "random":
		return NewRandom(length)
	default:
		return nil, fmt.Errorf("otp: unknown mode %q", mode)
	}
}
