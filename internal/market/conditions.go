// Package market holds the ambient market-condition inputs supplied by the
// external market-condition provider and consumed by the exit engine and the
// entry quality gate.
package market

// Volatility regime classifications.
const (
	RegimeCalm     = "calm"
	RegimeNormal   = "normal"
	RegimeVolatile = "volatile"
)

// Conditions is a point-in-time view of the broad market environment.
type Conditions struct {
	// VolatilityRegime is one of RegimeCalm, RegimeNormal, RegimeVolatile.
	VolatilityRegime string `json:"volatility_regime"`

	// TrendStrength is directional trend strength in [-1, 1]; positive means
	// the market regime favors longs.
	TrendStrength float64 `json:"trend_strength"`

	// HourOfDay is the local exchange hour, 0-23.
	HourOfDay int `json:"hour_of_day"`
}

// Neutral returns conditions that trigger no regime-dependent behavior.
func Neutral() Conditions {
	return Conditions{
		VolatilityRegime: RegimeNormal,
		TrendStrength:    0,
		HourOfDay:        12,
	}
}
