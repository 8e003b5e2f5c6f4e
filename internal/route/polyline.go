package route

import (
	"fmt"

	"github.com/navmiles/navmiles/internal/geo"
)

// DecodePolyline decodes a Google encoded polyline into points.
// Coordinates are delta-encoded at 1e-5 precision.
func DecodePolyline(encoded string) ([]geo.LatLng, error) {
	var points []geo.LatLng
	var lat, lng int64

	i := 0
	for i < len(encoded) {
		dLat, n, err := decodeVarint(encoded[i:])
		if err != nil {
			return nil, fmt.Errorf("polyline offset %d: %w", i, err)
		}
		i += n
		lat += dLat

		dLng, n, err := decodeVarint(encoded[i:])
		if err != nil {
			return nil, fmt.Errorf("polyline offset %d: %w", i, err)
		}
		i += n
		lng += dLng

		points = append(points, geo.LatLng{
			Lat: float64(lat) / 1e5,
			Lng: float64(lng) / 1e5,
		})
	}
	return points, nil
}

// decodeVarint reads one zigzag base64-ish varint from s, returning the
// signed value and the number of bytes consumed.
func decodeVarint(s string) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < len(s); i++ {
		b := int64(s[i]) - 63
		if b < 0 {
			return 0, 0, fmt.Errorf("invalid polyline byte %q", s[i])
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), i + 1, nil
			}
			return result >> 1, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("truncated polyline chunk")
}
