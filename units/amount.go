package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrSyntax    = errors.New("invalid amount")
	ErrNegative  = errors.New("amount must not be negative")
	ErrOverflow  = errors.New("amount exceeds 256 bits")
	ErrPrecision = errors.New("amount is finer than 1 wei")
)

// Unit is a denomination of the native asset or of an 18-decimal token.
type Unit uint8

const (
	Wei Unit = iota
	Gwei
	Ether
)

// Decimals returns the number of wei digits in one unit.
func (u Unit) Decimals() int {
	switch u {
	case Gwei:
		return 9
	case Ether:
		return 18
	default:
		return 0
	}
}

func (u Unit) String() string {
	switch u {
	case Gwei:
		return "gwei"
	case Ether:
		return "ETH"
	default:
		return "wei"
	}
}

// Amount parses a decimal quantity expressed in u, e.g. Ether.Amount("0.0001").
// The conversion is exact; digits below 1 wei are rejected rather than rounded.
func (u Unit) Amount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty value", ErrSyntax)
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, fmt.Errorf("%w: %s", ErrNegative, s)
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return Amount{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}

	decimals := u.Decimals()
	if len(fracPart) > decimals {
		if strings.Trim(fracPart[decimals:], "0") != "" {
			return Amount{}, fmt.Errorf("%w: %s %s", ErrPrecision, s, u)
		}
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	digits := strings.TrimLeft(intPart+fracPart, "0")
	if digits == "" {
		return Amount{}, nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %s %s", ErrOverflow, s, u)
	}
	return Amount{v: *v}, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Parse reads an amount with a unit suffix: "1ETH", "0.0001 ether", "10gwei", "42wei".
// A bare number is taken as wei.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, sfx := range []struct {
		name string
		unit Unit
	}{
		{"ether", Ether},
		{"eth", Ether},
		{"gwei", Gwei},
		{"wei", Wei},
	} {
		if strings.HasSuffix(lower, sfx.name) {
			return sfx.unit.Amount(s[:len(s)-len(sfx.name)])
		}
	}
	return Wei.Amount(s)
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Amount is a non-negative quantity in wei that fits in 256 bits.
// The zero value is 0 wei.
type Amount struct {
	v uint256.Int
}

func NewAmount(wei uint64) Amount {
	return Amount{v: *uint256.NewInt(wei)}
}

// FromBig converts a node-returned integer, rejecting negatives and values over 256 bits.
func FromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %s", ErrNegative, b)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, fmt.Errorf("%w: %s", ErrOverflow, b)
	}
	return Amount{v: *v}, nil
}

// Mul returns a × n.
func (a Amount) Mul(n uint64) (Amount, error) {
	var out Amount
	if _, overflow := out.v.MulOverflow(&a.v, uint256.NewInt(n)); overflow {
		return Amount{}, fmt.Errorf("%w: %s × %d", ErrOverflow, a, n)
	}
	return out, nil
}

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return out, nil
}

func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Big returns a fresh *big.Int, as go-ethereum transaction and ABI APIs expect.
func (a Amount) Big() *big.Int {
	return a.v.ToBig()
}

// String is the decimal wei value.
func (a Amount) String() string {
	return a.v.Dec()
}

// Format renders a in unit u without rounding, trimming trailing zeros: "0.0001".
func (a Amount) Format(u Unit) string {
	dec := a.v.Dec()
	decimals := u.Decimals()
	if decimals == 0 {
		return dec
	}
	if len(dec) <= decimals {
		dec = strings.Repeat("0", decimals-len(dec)+1) + dec
	}
	intPart, fracPart := dec[:len(dec)-decimals], strings.TrimRight(dec[len(dec)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
