package payments

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// baseUnitsPerDollar converts USD to 6-decimal stablecoin base units.
	baseUnitsPerDollar = 1_000_000
	// baseUnitsPerCent converts base units to Stripe cents.
	baseUnitsPerCent = 10_000
	// DefaultSettlementBaseUnits is charged when the context carries no amount ($0.01).
	DefaultSettlementBaseUnits int64 = 10_000
)

var (
	digitsOnly     = regexp.MustCompile(`^\d+$`)
	nonNumericChar = regexp.MustCompile(`[^0-9.]`)
)

// SettlementBaseUnits derives the amount to settle from the context. Price,
// Amount and MaxAmountRequired are consulted in that order.
//
// Strings of digits are whole dollars. Other strings are parsed as dollar
// amounts after stripping currency symbols and separators. Numeric values are
// already base units.
func SettlementBaseUnits(ctx PayToContext) int64 {
	for _, candidate := range []any{ctx.Price, ctx.Amount, ctx.MaxAmountRequired} {
		if candidate == nil {
			continue
		}
		if units, ok := parseBaseUnits(candidate); ok {
			return units
		}
	}
	return DefaultSettlementBaseUnits
}

// CentsFromBaseUnits converts base units to a Stripe charge in cents, never
// less than one cent.
func CentsFromBaseUnits(units int64) int64 {
	cents := int64(math.Round(float64(units) / baseUnitsPerCent))
	if cents < 1 {
		return 1
	}
	return cents
}

func parseBaseUnits(value any) (int64, bool) {
	switch v := value.(type) {
	case string:
		return parseDollarString(v)
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return 0, false
		}
		return d.Floor().IntPart(), true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return parseUnsigned(uint64(v))
	case uint32:
		return int64(v), true
	case uint64:
		return parseUnsigned(v)
	case float32:
		return parseFloat(float64(v))
	case float64:
		return parseFloat(v)
	default:
		return 0, false
	}
}

func parseUnsigned(v uint64) (int64, bool) {
	if v > math.MaxInt64 {
		return 0, false
	}
	return int64(v), true
}

// parseFloat rejects values outside the int64 range; 2^63 itself is
// representable as a float64 but not as an int64.
func parseFloat(v float64) (int64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	v = math.Floor(v)
	if v >= math.MaxInt64 || v < math.MinInt64 {
		return 0, false
	}
	return int64(v), true
}

func parseDollarString(raw string) (int64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}

	if digitsOnly.MatchString(trimmed) {
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return 0, false
		}
		return d.Mul(decimal.NewFromInt(baseUnitsPerDollar)).IntPart(), true
	}

	cleaned := nonNumericChar.ReplaceAllString(trimmed, "")
	if cleaned == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, false
	}
	return d.Mul(decimal.NewFromInt(baseUnitsPerDollar)).Floor().IntPart(), true
}
