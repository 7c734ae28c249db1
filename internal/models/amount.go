package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a signed currency amount in the smallest unit (1/100 of a taka).
type Amount int64

// AmountFromFloat converts a decimal currency value to an Amount, rounding to the nearest unit.
func AmountFromFloat(v float64) Amount {
	return Amount(math.Round(v * 100))
}

// ParseAmount parses a decimal string such as "120.50" or "-25.25".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return AmountFromFloat(f), nil
}

// Float returns the amount in whole currency units.
func (a Amount) Float() float64 {
	return float64(a) / 100
}

// Abs returns the absolute value of a.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// String formats the amount with two decimals, e.g. "120.50" or "-25.25".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Signed formats the amount with an explicit sign, e.g. "+500.00".
func (a Amount) Signed() string {
	if a >= 0 {
		return "+" + a.String()
	}
	return a.String()
}
