package feature

import "math"

// Temporal density is a recency-weighted arrival rate: every arrival adds 1,
// and the accumulated score decays by lambda^Δt between arrivals (Δt in
// seconds). With lambda in (0,1) the score is bounded by 1/(1-lambda).

// MaxDensity returns the density ceiling 1/(1-lambda), reached by a stream
// of back-to-back arrivals.
func MaxDensity(lambda float64) float64 {
	return 1 / (1 - lambda)
}

// NextDensity advances a density across elapsed milliseconds and counts one
// arrival at the end of the interval. The result is capped at MaxDensity.
func NextDensity(prev float64, elapsedMS int64, lambda float64) float64 {
	d := math.Pow(lambda, float64(elapsedMS)/1000)*prev + 1
	if maxD := MaxDensity(lambda); d > maxD {
		return maxD
	}
	return d
}

// Relevance maps a density onto the [0,1] relevance ratio
// (density-1)/(MaxDensity-1). A cluster or group is considered temporally
// relevant while its ratio stays at or above the configured sparse factor.
func Relevance(density, lambda float64) float64 {
	return (density - 1) / (MaxDensity(lambda) - 1)
}
