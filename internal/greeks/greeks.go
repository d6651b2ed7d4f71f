// Package greeks prices European options with Black-Scholes and derives
// strike suggestions from a target delta.
package greeks

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DaysPerYear  = 365.0
	RiskFreeRate = 0.05

	strikeSearchIterations = 50
	strikeSearchTolerance  = 0.01
)

var stdNormal = distuv.UnitNormal

// Greeks holds option sensitivities. Theta is per calendar day, vega and
// rho per one percentage point.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

func d1d2(spot, strike, t, vol, rate float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*t) / (vol * sqrtT)
	return d1, d1 - vol*sqrtT
}

// Price returns the Black-Scholes value of a call or put. At or past
// expiry it returns intrinsic value.
func Price(spot, strike, t, vol, rate float64, isCall bool) float64 {
	if t <= 0 || vol <= 0 {
		if isCall {
			return math.Max(0, spot-strike)
		}
		return math.Max(0, strike-spot)
	}

	d1, d2 := d1d2(spot, strike, t, vol, rate)
	discount := strike * math.Exp(-rate*t)
	if isCall {
		return spot*stdNormal.CDF(d1) - discount*stdNormal.CDF(d2)
	}
	return discount*stdNormal.CDF(-d2) - spot*stdNormal.CDF(-d1)
}

// Calculate returns all greeks. Degenerate inputs (no time or no
// volatility) yield a step delta and zero for the rest.
func Calculate(spot, strike, t, vol, rate float64, isCall bool) Greeks {
	if t <= 0 || vol <= 0 {
		var delta float64
		switch {
		case isCall && spot > strike:
			delta = 1
		case !isCall && spot < strike:
			delta = -1
		}
		return Greeks{Delta: delta}
	}

	sqrtT := math.Sqrt(t)
	d1, d2 := d1d2(spot, strike, t, vol, rate)
	pdf := stdNormal.Prob(d1)
	discount := strike * math.Exp(-rate*t)

	g := Greeks{
		Gamma: pdf / (spot * vol * sqrtT),
		Vega:  spot * sqrtT * pdf / 100,
	}

	decay := -(spot * pdf * vol) / (2 * sqrtT)
	if isCall {
		g.Delta = stdNormal.CDF(d1)
		g.Theta = (decay - rate*discount*stdNormal.CDF(d2)) / DaysPerYear
		g.Rho = t * discount * stdNormal.CDF(d2) / 100
	} else {
		g.Delta = stdNormal.CDF(d1) - 1
		g.Theta = (decay + rate*discount*stdNormal.CDF(-d2)) / DaysPerYear
		g.Rho = -t * discount * stdNormal.CDF(-d2) / 100
	}
	return g
}

// Delta is a shortcut for Calculate(...).Delta.
func Delta(spot, strike, t, vol, rate float64, isCall bool) float64 {
	return Calculate(spot, strike, t, vol, rate, isCall).Delta
}

// SuggestPutStrike bisects strikes in [0.7*price, price] for a put whose
// delta is within 0.01 of targetDelta. When the search does not converge
// the bracket midpoint is returned. The result is rounded to cents.
func SuggestPutStrike(price, targetDelta, vol float64, days int) float64 {
	t := float64(days) / DaysPerYear
	low, high := price*0.7, price

	for i := 0; i < strikeSearchIterations; i++ {
		mid := (low + high) / 2
		delta := Delta(price, mid, t, vol, RiskFreeRate, false)
		if math.Abs(delta-targetDelta) < strikeSearchTolerance {
			return RoundCents(mid)
		}
		// put delta falls toward -1 as the strike rises
		if delta < targetDelta {
			high = mid
		} else {
			low = mid
		}
	}
	return RoundCents((low + high) / 2)
}

func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
