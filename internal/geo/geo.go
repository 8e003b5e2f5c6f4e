// Package geo provides the spherical-geometry primitives shared by the
// motion filter, route model, guidance loop, and hazard store. All
// functions are pure and use a single Earth-radius constant so distances
// computed in different packages agree to within normal GPS error.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by every great-circle
// computation in this repository.
const EarthRadiusMeters = 6371000.0

// LatLng is a WGS84 coordinate pair in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsValid reports whether the coordinate is finite and within range.
func (p LatLng) IsValid() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0) &&
		math.Abs(p.Lat) <= 90 && math.Abs(p.Lng) <= 180
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle (haversine) distance between two
// points in meters.
func Distance(a, b LatLng) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Bearing returns the initial compass bearing from start to end,
// normalized to [0, 360).
func Bearing(start, end LatLng) float64 {
	phi1 := toRad(start.Lat)
	phi2 := toRad(end.Lat)
	dLng := toRad(end.Lng - start.Lng)

	y := math.Sin(dLng) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLng)
	return NormalizeDeg(toDeg(math.Atan2(y, x)))
}

// DistanceToSegment returns the minimum distance in meters from p to the
// segment vw. The projection is computed in the lat/lng plane, which is
// accurate enough at GPS scales (segments are tens to hundreds of meters).
func DistanceToSegment(p, v, w LatLng) float64 {
	segLen := Distance(v, w)
	l2 := segLen * segLen
	if l2 == 0 {
		return Distance(p, v)
	}
	t := ((p.Lat-v.Lat)*(w.Lat-v.Lat) + (p.Lng-v.Lng)*(w.Lng-v.Lng)) /
		((w.Lat-v.Lat)*(w.Lat-v.Lat) + (w.Lng-v.Lng)*(w.Lng-v.Lng))
	t = math.Max(0, math.Min(1, t))
	proj := LatLng{
		Lat: v.Lat + t*(w.Lat-v.Lat),
		Lng: v.Lng + t*(w.Lng-v.Lng),
	}
	return Distance(p, proj)
}

// DistanceToPolyline returns the minimum distance in meters from p to any
// segment of the polyline. A polyline with fewer than two points has no
// segments and returns +Inf.
func DistanceToPolyline(p LatLng, polyline []LatLng) float64 {
	if len(polyline) < 2 {
		return math.Inf(1)
	}
	min := math.Inf(1)
	for i := 0; i+1 < len(polyline); i++ {
		if d := DistanceToSegment(p, polyline[i], polyline[i+1]); d < min {
			min = d
		}
	}
	return min
}

// DestinationPoint returns the point reached by travelling distM meters
// from start along the given initial bearing (degrees).
func DestinationPoint(start LatLng, distM, bearingDeg float64) LatLng {
	delta := distM / EarthRadiusMeters
	theta := toRad(bearingDeg)
	phi1 := toRad(start.Lat)
	lambda1 := toRad(start.Lng)

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(sinPhi2)
	y := math.Sin(theta) * math.Sin(delta) * math.Cos(phi1)
	x := math.Cos(delta) - math.Sin(phi1)*sinPhi2
	lambda2 := lambda1 + math.Atan2(y, x)

	return LatLng{Lat: toDeg(phi2), Lng: toDeg(lambda2)}
}

// NormalizeDeg maps any angle to [0, 360).
func NormalizeDeg(d float64) float64 {
	return math.Mod(math.Mod(d, 360)+360, 360)
}

// StepHeading moves prev toward next by at most maxStep degrees along the
// short arc, handling wraparound at 0/360. A negative prev means "no
// previous heading" and next is adopted directly.
func StepHeading(prev, next, maxStep float64) float64 {
	if prev < 0 {
		return NormalizeDeg(next)
	}
	prev = NormalizeDeg(prev)
	next = NormalizeDeg(next)
	delta := math.Mod(next-prev+540, 360) - 180 // -180..180
	step := math.Max(math.Min(delta, maxStep), -maxStep)
	return NormalizeDeg(prev + step)
}
