package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// FloorQuantity truncates a quantity to the specified decimals so it never exceeds the input
func FloorQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.RoundFloor(int32(qtyDecimals))
}

// CalculatePriceLevels partitions [lower, upper] into count equal steps and returns the count+1 boundaries.
// Each boundary is lower + (upper-lower)*i/count, divided at a precision finer than either bound.
func CalculatePriceLevels(lower, upper decimal.Decimal, count int) []decimal.Decimal {
	n := decimal.NewFromInt(int64(count))
	width := upper.Sub(lower)
	precision := levelPrecision(lower, upper)

	prices := make([]decimal.Decimal, 0, count+1)
	for i := 0; i < count; i++ {
		offset := width.Mul(decimal.NewFromInt(int64(i))).DivRound(n, precision)
		prices = append(prices, lower.Add(offset))
	}
	// The last boundary is pinned to upper so division residue never leaks into it.
	return append(prices, upper)
}

// levelPrecision is the larger fractional digit count of the bounds plus decimal's default division precision
func levelPrecision(lower, upper decimal.Decimal) int32 {
	digits := int32(0)
	for _, v := range []decimal.Decimal{lower, upper} {
		if exp := v.Exponent(); -exp > digits {
			digits = -exp
		}
	}
	return digits + int32(decimal.DivisionPrecision)
}

// CalculateNetEdge returns the edge of trading qty at levelPrice against currentPrice after a proportional fee
func CalculateNetEdge(levelPrice, currentPrice, qty, feeRate decimal.Decimal) (gross, fee, net decimal.Decimal) {
	gross = currentPrice.Sub(levelPrice).Abs().Mul(qty)
	fee = gross.Mul(feeRate)
	return gross, fee, gross.Sub(fee)
}

// MinDecimal returns the smallest of the given values
func MinDecimal(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	return decimal.Min(first, rest...)
}
