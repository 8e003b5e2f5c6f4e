package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePolylineReference(t *testing.T) {
	// Reference vector from the polyline format documentation.
	pts, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, pts, 3)

	assert.InDelta(t, 38.5, pts[0].Lat, 1e-5)
	assert.InDelta(t, -120.2, pts[0].Lng, 1e-5)
	assert.InDelta(t, 40.7, pts[1].Lat, 1e-5)
	assert.InDelta(t, -120.95, pts[1].Lng, 1e-5)
	assert.InDelta(t, 43.252, pts[2].Lat, 1e-5)
	assert.InDelta(t, -126.453, pts[2].Lng, 1e-5)
}

func TestDecodePolylineEmpty(t *testing.T) {
	pts, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestDecodePolylineTruncated(t *testing.T) {
	// A continuation byte with nothing after it.
	_, err := DecodePolyline("_p~iF~ps|U_")
	assert.Error(t, err)
}

func TestDecodePolylineInvalidByte(t *testing.T) {
	_, err := DecodePolyline("\x1f\x1f")
	assert.Error(t, err)
}
