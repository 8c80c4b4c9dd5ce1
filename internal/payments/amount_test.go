package payments_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/daydreamsai/lucid-agents-sub001/internal/payments"
)

func TestSettlementBaseUnits(t *testing.T) {
	cases := []struct {
		name string
		ctx  payments.PayToContext
		want int64
	}{
		{name: "digit string is whole dollars", ctx: payments.PayToContext{Price: "1"}, want: 1_000_000},
		{name: "digit string thousand dollars", ctx: payments.PayToContext{Price: "1000"}, want: 1_000_000_000},
		{name: "currency formatted string", ctx: payments.PayToContext{Price: " $1,234.56 "}, want: 1_234_560_000},
		{name: "fractional dollars floor", ctx: payments.PayToContext{Price: "$0.0000015"}, want: 1},
		{name: "numeric is base units", ctx: payments.PayToContext{Amount: 1_000_000}, want: 1_000_000},
		{name: "float is floored base units", ctx: payments.PayToContext{Amount: 2500.9}, want: 2500},
		{name: "json number is base units", ctx: payments.PayToContext{Amount: json.Number("42")}, want: 42},
		{name: "price wins over amount", ctx: payments.PayToContext{Price: "2", Amount: 5}, want: 2_000_000},
		{name: "amount wins over max", ctx: payments.PayToContext{Amount: 7, MaxAmountRequired: "9"}, want: 7},
		{name: "max amount required", ctx: payments.PayToContext{MaxAmountRequired: "$0.25"}, want: 250_000},
		{name: "default when absent", ctx: payments.PayToContext{}, want: payments.DefaultSettlementBaseUnits},
		{name: "unparseable falls through", ctx: payments.PayToContext{Price: "free", Amount: 12}, want: 12},
		{name: "uint64 beyond int64 is rejected", ctx: payments.PayToContext{Amount: uint64(math.MaxInt64) + 1, MaxAmountRequired: 3}, want: 3},
		{name: "max uint64 alone falls back to default", ctx: payments.PayToContext{Amount: uint64(math.MaxUint64)}, want: payments.DefaultSettlementBaseUnits},
		{name: "huge float is rejected", ctx: payments.PayToContext{Amount: 1e19, MaxAmountRequired: 4}, want: 4},
		{name: "float at 2^63 is rejected", ctx: payments.PayToContext{Amount: float64(1 << 63)}, want: payments.DefaultSettlementBaseUnits},
		{name: "largest uint64 in range is kept", ctx: payments.PayToContext{Amount: uint64(math.MaxInt64)}, want: math.MaxInt64},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := payments.SettlementBaseUnits(tc.ctx); got != tc.want {
				t.Fatalf("SettlementBaseUnits() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCentsFromBaseUnits(t *testing.T) {
	cases := map[int64]int64{
		1_000_000:     100,
		1_234_560_000: 123456,
		10_000:        1,
		4_999:         1,
		15_000:        2,
		0:             1,
	}
	for units, want := range cases {
		if got := payments.CentsFromBaseUnits(units); got != want {
			t.Fatalf("CentsFromBaseUnits(%d) = %d, want %d", units, got, want)
		}
	}
}
