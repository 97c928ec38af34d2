package atlas

import "math"

// Scoring constants. Each sub-objective (map distance, year) is worth
// MaxSubScore; errors at or beyond the threshold score zero.
const (
	MaxSubScore       = 500
	DistanceThreshold = 5000.0 // km
	YearThreshold     = 100.0  // years
)

// SubScore maps an absolute error onto [0, maxScore]:
// max(0, ceil(maxScore * (1 - min(1, err/threshold)))).
func SubScore(err, threshold float64, maxScore int) int {
	if threshold <= 0 {
		return 0
	}
	normalized := math.Min(1, err/threshold)
	score := int(math.Ceil(float64(maxScore) * (1 - normalized)))
	if score < 0 {
		return 0
	}
	return score
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
