package geofence

import "math"

// earthRadiusMeters is the spherical-Earth approximation radius.
const earthRadiusMeters = 6371000.0

// Fence is a circular boundary used to test physical presence.
type Fence struct {
	CenterLat    float64
	CenterLon    float64
	RadiusMeters float64
	// AllowUnbounded makes a zero radius mean "no restriction". It must be
	// set deliberately by the caller; the engine never disables the check on
	// its own.
	AllowUnbounded bool
}

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(radians(lat1))*math.Cos(radians(lat2))*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// WithinFence reports whether a distance falls inside the radius.
func WithinFence(distanceMeters, radiusMeters float64) bool {
	return distanceMeters <= radiusMeters
}

// Contains evaluates a point against the fence.
func (f Fence) Contains(lat, lon float64) (distanceMeters float64, inside bool) {
	d := DistanceMeters(lat, lon, f.CenterLat, f.CenterLon)
	if f.RadiusMeters <= 0 && f.AllowUnbounded {
		return d, true
	}
	return d, WithinFence(d, f.RadiusMeters)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
