package media

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Rational is a fraction used for time bases, frame rates and aspect
// ratios.
type Rational struct {
	Num int64
	Den int64
}

// R is shorthand for Rational{num, den}.
func R(num, den int64) Rational {
	return Rational{Num: num, Den: den}
}

// ParseRational parses "num/den" or a plain integer. The result must be
// Valid.
func ParseRational(s string) (Rational, error) {
	num, den, found := strings.Cut(s, "/")
	if !found {
		den = "1"
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("media: parsing rational %q: %w", s, err)
	}
	d, err := strconv.ParseInt(strings.TrimSpace(den), 10, 64)
	if err != nil {
		return Rational{}, fmt.Errorf("media: parsing rational %q: %w", s, err)
	}
	r := R(n, d)
	if !r.Valid() {
		return Rational{}, fmt.Errorf("media: invalid rational %q", s)
	}
	return r, nil
}

// Valid reports whether r has a positive denominator and a non-zero
// numerator.
func (r Rational) Valid() bool {
	return r.Den > 0 && r.Num != 0
}

// Float returns r as a float64, or 0 for an invalid rational.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Inv returns 1/r.
func (r Rational) Inv() Rational {
	if r.Num < 0 {
		return Rational{Num: -r.Den, Den: -r.Num}
	}
	return Rational{Num: r.Den, Den: r.Num}
}

// Mul returns r*o reduced.
func (r Rational) Mul(o Rational) Rational {
	return Rational{Num: r.Num * o.Num, Den: r.Den * o.Den}.Reduce()
}

// Reduce returns r in lowest terms with a positive denominator.
func (r Rational) Reduce() Rational {
	if r.Den == 0 {
		return r
	}
	if r.Den < 0 {
		r.Num, r.Den = -r.Num, -r.Den
	}
	g := gcd(abs(r.Num), r.Den)
	if g > 1 {
		r.Num /= g
		r.Den /= g
	}
	return r
}

// Cmp compares r and o, returning -1, 0 or +1.
func (r Rational) Cmp(o Rational) int {
	a := new(big.Int).Mul(big.NewInt(r.Num), big.NewInt(o.Den))
	b := new(big.Int).Mul(big.NewInt(o.Num), big.NewInt(r.Den))
	return a.Cmp(b)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rescale converts v from time base from to time base to, rounding to
// the nearest integer with halves away from zero. NoPTS passes through.
func Rescale(v int64, from, to Rational) int64 {
	return rescale(v, from, to, roundNearest)
}

// RescaleUp is Rescale rounding towards positive infinity.
func RescaleUp(v int64, from, to Rational) int64 {
	return rescale(v, from, to, roundUp)
}

type rounding int

const (
	roundNearest rounding = iota
	roundUp
)

func rescale(v int64, from, to Rational, mode rounding) int64 {
	if v == NoPTS {
		return NoPTS
	}
	if from.Den == 0 || to.Num == 0 {
		return 0
	}
	// v * from.Num * to.Den / (from.Den * to.Num), computed exactly.
	num := new(big.Int).Mul(big.NewInt(v), big.NewInt(from.Num))
	num.Mul(num, big.NewInt(to.Den))
	den := new(big.Int).Mul(big.NewInt(from.Den), big.NewInt(to.Num))
	if den.Sign() < 0 {
		num.Neg(num)
		den.Neg(den)
	}

	q, m := new(big.Int).DivMod(num, den, new(big.Int)) // floor division, m >= 0
	switch mode {
	case roundUp:
		if m.Sign() != 0 {
			q.Add(q, big.NewInt(1))
		}
	default:
		twice := new(big.Int).Lsh(m, 1)
		c := twice.Cmp(den)
		if c > 0 || (c == 0 && num.Sign() >= 0) {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
