package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point rupee amount with two decimal places of
// precision. All arithmetic goes through decimal to avoid binary
// floating-point drift in order totals.
type Money struct {
	d decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

func Zero() Money {
	return Money{}
}

func New(d decimal.Decimal) Money {
	return Money{d: d}
}

// FromString parses a decimal amount such as "2999.00".
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustFromString is for constants and tests.
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromPaise converts an integer amount in the smallest currency unit.
func FromPaise(p int64) Money {
	return Money{d: decimal.NewFromInt(p).Div(hundred)}
}

func (m Money) Add(o Money) Money {
	return Money{d: m.d.Add(o.d)}
}

func (m Money) Sub(o Money) Money {
	return Money{d: m.d.Sub(o.d)}
}

func (m Money) MulInt(n int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(n)))}
}

// Percent applies a percentage rate and rounds half-up to two decimal
// places, matching how tax is quantized.
func (m Money) Percent(rate decimal.Decimal) Money {
	return Money{d: m.d.Mul(rate).Round(2)}
}

// Round quantizes to two decimal places, half away from zero.
func (m Money) Round() Money {
	return Money{d: m.d.Round(2)}
}

func (m Money) Cmp(o Money) int {
	return m.d.Cmp(o.d)
}

func (m Money) Equal(o Money) bool {
	return m.d.Equal(o.d)
}

func (m Money) IsZero() bool {
	return m.d.IsZero()
}

func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// Paise returns the amount in the smallest currency unit. It fails when
// the amount carries sub-paisa precision, which would otherwise be
// silently truncated at the payment gateway boundary.
func (m Money) Paise() (int64, error) {
	p := m.d.Mul(hundred)
	if !p.IsInteger() {
		return 0, fmt.Errorf("amount %s is not an exact paise value", m.d)
	}
	return p.IntPart(), nil
}

func (m Money) String() string {
	return m.d.StringFixed(2)
}

func (m Money) Decimal() decimal.Decimal {
	return m.d
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	m.d = d
	return nil
}

// Value stores the amount as its decimal string so NUMERIC columns keep
// exact precision.
func (m Money) Value() (driver.Value, error) {
	return m.d.StringFixed(2), nil
}

func (m *Money) Scan(value any) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	m.d = d
	return nil
}
