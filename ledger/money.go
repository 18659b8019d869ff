package ledger

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point rupiah amount
// =============================================================================

// MoneyScale is the number of fractional digits every Money carries.
const MoneyScale = 2

// Money is an exact decimal amount with MoneyScale fractional digits.
// The zero value is a valid zero amount.
//
// Money never passes through float64: JSON and SQL forms are decimal strings.
type Money struct {
	value decimal.Decimal
}

// ZeroMoney is the canonical zero amount.
var ZeroMoney = NewMoneyFromInt(0)

// NewMoneyFromInt returns a whole amount.
func NewMoneyFromInt(v int64) Money {
	return Money{value: decimal.NewFromInt(v).Round(MoneyScale)}
}

// NewMoney converts a decimal, rejecting values that would need rounding.
func NewMoney(d decimal.Decimal) (Money, error) {
	r := d.Round(MoneyScale)
	if !r.Equal(d) {
		return Money{}, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, d.String(), MoneyScale)
	}
	return Money{value: r}, nil
}

// ParseMoney parses a decimal string such as "150000" or "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, s)
	}
	return NewMoney(d)
}

// MustMoney is ParseMoney for constants and tests. It panics on bad input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money { return Money{value: m.value.Sub(o.value)} }
func (m Money) Neg() Money        { return Money{value: m.value.Neg()} }
func (m Money) Cmp(o Money) int   { return m.value.Cmp(o.value) }

func (m Money) Equal(o Money) bool              { return m.value.Equal(o.value) }
func (m Money) GreaterThan(o Money) bool        { return m.value.GreaterThan(o.value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.value.GreaterThanOrEqual(o.value) }
func (m Money) LessThan(o Money) bool           { return m.value.LessThan(o.value) }
func (m Money) IsZero() bool                    { return m.value.IsZero() }
func (m Money) IsPositive() bool                { return m.value.IsPositive() }
func (m Money) IsNegative() bool                { return m.value.IsNegative() }

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o.LessThan(m) {
		return o
	}
	return m
}

// CeilDiv splits m into n parts rounded up to a whole unit.
// Used to derive a default installment from principal and tenor.
func (m Money) CeilDiv(n int) Money {
	if n <= 0 {
		return m
	}
	q := m.value.Div(decimal.NewFromInt(int64(n))).RoundCeil(0)
	return Money{value: q.Round(MoneyScale)}
}

// Decimal exposes the underlying value for aggregation code.
func (m Money) Decimal() decimal.Decimal { return m.value }

// String always renders MoneyScale fractional digits.
func (m Money) String() string { return m.value.StringFixed(MoneyScale) }

// =============================================================================
// SERIALIZATION
// =============================================================================

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts only quoted decimal strings or null. Bare JSON
// numbers are rejected with ErrInvalidAmount.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*m = Money{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("%w: %s is not a decimal string", ErrInvalidAmount, s)
	}
	parsed, err := ParseMoney(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores Money as its decimal string (TEXT on SQLite, DECIMAL on MySQL).
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads Money from a decimal column.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	switch v := src.(type) {
	case nil:
		*m = Money{}
		return nil
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scan money: %w", err)
		}
		d = parsed
	case []byte:
		parsed, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("scan money: %w", err)
		}
		d = parsed
	case int64:
		d = decimal.NewFromInt(v)
	default:
		return fmt.Errorf("scan money: unsupported type %T", src)
	}
	*m = Money{value: d.Round(MoneyScale)}
	return nil
}
