package domain

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// WGS-84 coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// NearestCenter returns the closest urban center to the given point and its
// distance in kilometers. ok is false when the reference set is empty.
func NearestCenter(lat, lon float64, centers []UrbanCenter) (UrbanCenter, float64, bool) {
	if len(centers) == 0 {
		return UrbanCenter{}, 0, false
	}

	best := centers[0]
	bestKm := HaversineKm(lat, lon, best.Lat, best.Lon)
	for _, c := range centers[1:] {
		if km := HaversineKm(lat, lon, c.Lat, c.Lon); km < bestKm {
			best, bestKm = c, km
		}
	}
	return best, bestKm, true
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
