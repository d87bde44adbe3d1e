package money

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

const centsPerYuan = 100

var hundred = decimal.NewFromInt(centsPerYuan)

// Price is an amount in yuan. The zero value is 0.
type Price struct {
	d decimal.Decimal
}

var Zero = Price{}

func New(yuan float64) Price {
	return Price{d: decimal.NewFromFloat(yuan)}
}

func FromCents(cents int64) Price {
	return Price{d: decimal.NewFromInt(cents).Div(hundred)}
}

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// ParsePrice accepts human formatted prices like "¥19.9" or "30元",
// everything that isn't a digit or a dot is dropped.
func ParsePrice(s string) (Price, error) {
	cleaned := nonNumeric.ReplaceAllString(s, "")
	if cleaned == "" {
		return Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	return Price{d: d}, nil
}

// MustParse is ParsePrice for literals known to be valid.
func MustParse(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Cents() int64 {
	return p.d.Mul(hundred).Round(0).IntPart()
}

func (p Price) Float64() float64 {
	f, _ := p.d.Round(2).Float64()
	return f
}

func (p Price) String() string {
	return p.d.Round(2).String()
}

func (p Price) IsZero() bool {
	return p.d.IsZero()
}

func (p Price) IsPositive() bool {
	return p.d.IsPositive()
}

func (p Price) Sub(o Price) Price {
	return Price{d: p.d.Sub(o.d)}
}

func (p Price) Mul(factor int64) Price {
	return Price{d: p.d.Mul(decimal.NewFromInt(factor))}
}

func (p Price) Abs() Price {
	return Price{d: p.d.Abs()}
}

func (p Price) Cmp(o Price) int {
	return p.d.Cmp(o.d)
}

func (p Price) LessThan(o Price) bool {
	return p.d.LessThan(o.d)
}

// Diff returns |p - o| in yuan.
func (p Price) Diff(o Price) float64 {
	return p.Sub(o).Abs().Float64()
}

// Equal reports whether p and o are within tolerance yuan of each other.
func (p Price) Equal(o Price, tolerance float64) bool {
	return p.Diff(o) < tolerance
}

func Max(a, b Price) Price {
	if a.LessThan(b) {
		return b
	}
	return a
}

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if bytes.Equal(data, []byte("null")) {
		*p = Zero
		return nil
	}
	parsed, err := ParsePrice(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
