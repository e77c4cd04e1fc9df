// Package money holds exact integer arithmetic for statutory amounts.
//
// All monetary values are integer cents and all rates are basis points, so no
// computation in the engine ever touches a float. Rounding is round-half-up
// (toward positive infinity at the half) and happens only where a statute or a
// rendered answer calls for whole dollars.
package money

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Cents is an exact monetary amount.
type Cents int64

// BasisPoints is a rate where 10000 means 100%.
type BasisPoints int64

const (
	CentsPerDollar Cents       = 100
	Whole          BasisPoints = 10000
)

// Dollars converts whole dollars to cents.
func Dollars(d int64) Cents {
	return Cents(d) * CentsPerDollar
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// RoundDollar rounds to the nearest whole dollar, halves rounding up.
func (c Cents) RoundDollar() Cents {
	return Cents(floorDiv(int64(c)+50, 100) * 100)
}

// WholeDollars returns the rounded dollar count.
func (c Cents) WholeDollars() int64 {
	return int64(c.RoundDollar()) / 100
}

// MulBPS applies a rate and rounds half-up to the cent.
func (c Cents) MulBPS(bp BasisPoints) Cents {
	return Cents(floorDiv(int64(c)*int64(bp)+5000, 10000))
}

// PercentOf applies a rate to base and rounds half-up to the dollar, the way
// percentage limitations are stated in whole dollars on a return.
func PercentOf(base Cents, bp BasisPoints) Cents {
	return Cents(floorDiv(int64(base)*int64(bp)+500000, 1000000) * 100)
}

// Min returns the smaller amount.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger amount.
func Max(a, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

// String renders the amount as rounded US dollars, e.g. "$72,000".
func (c Cents) String() string {
	p := message.NewPrinter(language.AmericanEnglish)
	d := c.WholeDollars()
	if d < 0 {
		return p.Sprintf("-$%d", -d)
	}
	return p.Sprintf("$%d", d)
}

// ParseDollars reads "$1,234.56", "1234" or "1,234.5" into cents.
func ParseDollars(s string) (Cents, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	if clean == "" {
		return 0, fmt.Errorf("empty amount %q", s)
	}
	whole, frac, hasFrac := strings.Cut(clean, ".")
	d, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	cents := Dollars(d)
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("parse amount %q: bad fractional part", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
		cents += Cents(f)
	}
	return cents, nil
}

// ParsePercent reads "60" or "7.5" (percent units) into basis points.
func ParsePercent(s string) (BasisPoints, error) {
	clean := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	whole, frac, hasFrac := strings.Cut(clean, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse percent %q: %w", s, err)
	}
	bp := BasisPoints(w * 100)
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("parse percent %q: bad fractional part", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse percent %q: %w", s, err)
		}
		bp += BasisPoints(f)
	}
	return bp, nil
}

// String renders the rate as a percentage, e.g. "60%" or "7.5%".
func (b BasisPoints) String() string {
	whole := int64(b) / 100
	frac := int64(b) % 100
	if frac < 0 {
		frac = -frac
	}
	switch {
	case frac == 0:
		return fmt.Sprintf("%d%%", whole)
	case frac%10 == 0:
		return fmt.Sprintf("%d.%d%%", whole, frac/10)
	default:
		return fmt.Sprintf("%d.%02d%%", whole, frac)
	}
}
