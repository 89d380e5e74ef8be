package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrIncompatibleCurrency is returned when arithmetic or comparison mixes
	// two different currency codes.
	ErrIncompatibleCurrency = errors.New("incompatible currency")

	// ErrInvalidArgument covers malformed input such as an unknown currency
	// code, a division by zero or an amount that overflows int64 minor units.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DefaultCurrency is used by callers that do not carry a currency of their own.
const DefaultCurrency = "CNY"

// Money is an immutable amount expressed in the smallest unit of its currency.
// The zero value has no currency and only combines with other zero-currency values.
type Money struct {
	minor    int64
	currency string
}

// New builds a Money from minor units. The currency code must be a known ISO 4217 code.
func New(minor int64, code string) (Money, error) {
	code, err := normalize(code)
	if err != nil {
		return Money{}, err
	}
	return Money{minor: minor, currency: code}, nil
}

// MustNew is New for constants and tests; it panics on an unknown currency.
func MustNew(minor int64, code string) Money {
	m, err := New(minor, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(code string) (Money, error) {
	return New(0, code)
}

// FromDecimal parses a decimal amount in major units ("10.05") and rounds it
// half-to-even to the minor-unit scale of the currency.
func FromDecimal(amount, code string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: amount %q: %v", ErrInvalidArgument, amount, err)
	}
	return FromDecimalValue(d, code)
}

// FromDecimalValue is FromDecimal for an already parsed decimal.
func FromDecimalValue(amount decimal.Decimal, code string) (Money, error) {
	code, err := normalize(code)
	if err != nil {
		return Money{}, err
	}
	if amount.IsZero() {
		return Money{currency: code}, nil
	}
	scale := Scale(code)
	if err := checkMagnitude(amount, scale); err != nil {
		return Money{}, err
	}
	minor, err := toMinor(amount.Shift(scale).RoundBank(0))
	if err != nil {
		return Money{}, err
	}
	return Money{minor: minor, currency: code}, nil
}

// Minor returns the amount in minor units.
func (m Money) Minor() int64 { return m.minor }

// Currency returns the ISO 4217 code, empty for the zero value.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is zero, regardless of currency.
func (m Money) IsZero() bool { return m.minor == 0 }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.minor > 0 }

// IsNegative reports whether the amount is strictly below zero.
func (m Money) IsNegative() bool { return m.minor < 0 }

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	sum := m.minor + other.minor
	if (other.minor > 0 && sum < m.minor) || (other.minor < 0 && sum > m.minor) {
		return Money{}, fmt.Errorf("%w: %s + %s overflows", ErrInvalidArgument, m, other)
	}
	return Money{minor: sum, currency: m.currency}, nil
}

// Subtract returns m - other.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	diff := m.minor - other.minor
	if (other.minor > 0 && diff > m.minor) || (other.minor < 0 && diff < m.minor) {
		return Money{}, fmt.Errorf("%w: %s - %s overflows", ErrInvalidArgument, m, other)
	}
	return Money{minor: diff, currency: m.currency}, nil
}

// Negate flips the sign of the amount.
func (m Money) Negate() Money {
	return Money{minor: -m.minor, currency: m.currency}
}

// Multiply scales the amount by an integer factor.
func (m Money) Multiply(factor int64) (Money, error) {
	if m.minor == 0 || factor == 0 {
		return Money{currency: m.currency}, nil
	}
	product := m.minor * factor
	if product/factor != m.minor || (m.minor == -1 && factor == math.MinInt64) || (factor == -1 && m.minor == math.MinInt64) {
		return Money{}, fmt.Errorf("%w: %s * %d overflows", ErrInvalidArgument, m, factor)
	}
	return Money{minor: product, currency: m.currency}, nil
}

// MultiplyDecimal scales the amount by a decimal factor, rounding half-to-even
// back to whole minor units.
func (m Money) MultiplyDecimal(factor decimal.Decimal) (Money, error) {
	if err := checkMagnitude(factor, 0); err != nil {
		return Money{}, err
	}
	product := decimal.NewFromInt(m.minor).Mul(factor)
	if product.IsZero() {
		return Money{currency: m.currency}, nil
	}
	if err := checkMagnitude(product, 0); err != nil {
		return Money{}, err
	}
	minor, err := toMinor(product.RoundBank(0))
	if err != nil {
		return Money{}, err
	}
	return Money{minor: minor, currency: m.currency}, nil
}

// Divide divides the amount by a decimal divisor, rounding half-to-even.
func (m Money) Divide(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, fmt.Errorf("%w: division by zero", ErrInvalidArgument)
	}
	if err := checkMagnitude(divisor, 0); err != nil {
		return Money{}, err
	}
	dividend := decimal.NewFromInt(m.minor)
	q, r := dividend.QuoRem(divisor, 0)
	// q is truncated toward zero; decide whether to step away from zero.
	twice := r.Abs().Mul(decimal.NewFromInt(2))
	switch cmp := twice.Cmp(divisor.Abs()); {
	case cmp > 0, cmp == 0 && !q.Mod(decimal.NewFromInt(2)).IsZero():
		if dividend.Sign()*divisor.Sign() < 0 {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	minor, err := toMinor(q)
	if err != nil {
		return Money{}, err
	}
	return Money{minor: minor, currency: m.currency}, nil
}

// Compare returns -1, 0 or +1. Amounts in different currencies cannot be ordered.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.minor < other.minor:
		return -1, nil
	case m.minor > other.minor:
		return 1, nil
	default:
		return 0, nil
	}
}

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -Scale(m.currency))
}

// DecimalString renders the amount at the currency scale, e.g. "10.05" or "1000" for JPY.
func (m Money) DecimalString() string {
	return m.Decimal().StringFixed(Scale(m.currency))
}

// AmountString is DecimalString without a trailing ".00".
func (m Money) AmountString() string {
	return strings.TrimSuffix(m.DecimalString(), ".00")
}

// String formats the amount with its currency code, e.g. "CNY 10.05".
func (m Money) String() string {
	if m.currency == "" {
		return m.DecimalString()
	}
	return m.currency + " " + m.DecimalString()
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %q and %q", ErrIncompatibleCurrency, m.currency, other.currency)
	}
	return nil
}

// Scale returns the number of minor-unit digits for an ISO 4217 code.
// Unknown or empty codes use a scale of 2.
func Scale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// NormalizeCode upper-cases and validates an ISO 4217 code.
func NormalizeCode(code string) (string, error) {
	return normalize(code)
}

func normalize(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidArgument, code)
	}
	return unit.String(), nil
}

const (
	maxIntegerDigits   = 19
	maxFractionDigits  = 64
	maxCoefficientBits = 512
)

// checkMagnitude rejects decimals whose rescaling to whole minor units would
// be expensive or could not fit an int64 anyway. It must run before any
// Shift, Round or QuoRem on caller-supplied input.
func checkMagnitude(d decimal.Decimal, scale int32) error {
	coef := d.Coefficient()
	if coef.BitLen() > maxCoefficientBits {
		return fmt.Errorf("%w: %d-bit coefficient is too large", ErrInvalidArgument, coef.BitLen())
	}
	exp := int64(d.Exponent())
	if exp < -maxFractionDigits {
		return fmt.Errorf("%w: more than %d fractional digits", ErrInvalidArgument, maxFractionDigits)
	}
	if int64(d.NumDigits())+exp+int64(scale) > maxIntegerDigits {
		return fmt.Errorf("%w: amount exceeds minor-unit range", ErrInvalidArgument)
	}
	return nil
}

func toMinor(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: %s exceeds minor-unit range", ErrInvalidArgument, d)
	}
	return d.IntPart(), nil
}
