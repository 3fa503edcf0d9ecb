package domain

import "math"

// minorUnitScale converts major currency units to the smallest denomination.
// Supported currencies all use two decimal places.
const minorUnitScale = 100

// supportedCurrencies are the ISO 4217 codes payments may be denominated in.
var supportedCurrencies = map[string]bool{
	"usd": true,
	"eur": true,
	"gbp": true,
	"cad": true,
	"aud": true,
}

// IsSupportedCurrency reports whether payments can be taken in the given
// lowercase ISO 4217 code.
func IsSupportedCurrency(code string) bool {
	return supportedCurrencies[code]
}

// ToMinorUnits converts a major-unit amount to minor units, rounding half
// away from zero so 19.999 becomes 2000 rather than truncating to 1999.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * minorUnitScale))
}

// FromMinorUnits converts minor units back to a major-unit amount.
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / minorUnitScale
}

// PlatformFeeMinor computes the platform's cut of a minor-unit total using
// the same rounding rule as ToMinorUnits.
func PlatformFeeMinor(totalMinor int64, rate float64) int64 {
	return int64(math.Round(float64(totalMinor) * rate))
}
