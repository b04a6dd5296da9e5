package core

import "math"

// -----------------------------------------------------------------------------

// CalculateMeanStd returns the mean and population standard deviation.
func CalculateMeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))
	if len(data) == 1 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(varianceSum / float64(len(data)))
}

// -----------------------------------------------------------------------------

// CalculateZScore is 0 when std is 0.
func CalculateZScore(value, mean, std float64) float64 {
	if std == 0 {
		return 0.0
	}
	return (value - mean) / std
}
