package indicators

import "math"

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// WMA is the linearly weighted average of the last period values, the
// newest value weighted period.
func WMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	start := len(values) - period
	var sum, weights float64
	for i := 0; i < period; i++ {
		w := float64(i + 1)
		sum += values[start+i] * w
		weights += w
	}
	return sum / weights
}

// HMAWarmup is the number of values HMA needs for the given period.
func HMAWarmup(period int) int {
	return period + int(math.Sqrt(float64(period))) - 1
}

// HMA computes the Hull moving average
// WMA(2*WMA(x, n/2) - WMA(x, n), sqrt(n)) of the last values.
// ok is false until enough values are available.
func HMA(values []float64, period int) (float64, bool) {
	if period < 2 || len(values) < HMAWarmup(period) {
		return 0, false
	}
	half := period / 2
	root := int(math.Sqrt(float64(period)))
	diff := make([]float64, root)
	for k := 0; k < root; k++ {
		end := len(values) - root + 1 + k
		window := values[:end]
		diff[k] = 2*WMA(window, half) - WMA(window, period)
	}
	return WMA(diff, root), true
}
