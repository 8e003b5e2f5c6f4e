package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripInstruction(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain bold",
			in:   `Turn <b>right</b> onto <b>Congress Ave</b>`,
			want: "Turn right onto Congress Ave",
		},
		{
			name: "suffix div gets a space",
			in:   `Merge onto <b>I-35 N</b><div style="font-size:0.9em">Toll road</div>`,
			want: "Merge onto I-35 N Toll road",
		},
		{
			name: "entities unescaped",
			in:   `Head <b>north</b>&nbsp;toward <b>5th&amp;Main</b>`,
			want: "Head north toward 5th&Main",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripInstruction(tt.in))
		})
	}
}

func TestBuildRoutesStatusNotOK(t *testing.T) {
	_, err := buildRoutes(&directionsResponse{Status: "ZERO_RESULTS"})
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = buildRoutes(&directionsResponse{Status: "OK"})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestBuildRoutesConcatenatesSteps(t *testing.T) {
	resp := &directionsResponse{
		Status: "OK",
		Routes: []apiRoute{{
			Summary: "Congress Ave",
			Legs: []apiLeg{{
				Distance: apiValue{Value: 1200},
				Duration: apiValue{Value: 180},
				Steps: []apiStep{
					{
						HTMLInstructions: "Head <b>north</b>",
						Distance:         apiValue{Value: 700},
						Duration:         apiValue{Value: 110},
						EndLocation:      apiLocation{Lat: 30.2672, Lng: -97.7431},
						Polyline:         apiPolyline{Points: "_p~iF~ps|U_ulLnnqC"},
					},
					{
						HTMLInstructions: "Turn <b>left</b>",
						Maneuver:         "turn-left",
						Distance:         apiValue{Value: 500},
						Duration:         apiValue{Value: 70},
						EndLocation:      apiLocation{Lat: 30.2747, Lng: -97.7404},
						Polyline:         apiPolyline{Points: "_p~iF~ps|U_ulLnnqC"},
					},
				},
			}},
		}},
	}

	routes, err := buildRoutes(resp)
	require.NoError(t, err)
	require.Len(t, routes, 1)

	r := routes[0]
	assert.Equal(t, "Congress Ave", r.Summary)
	assert.Equal(t, 1200.0, r.DistanceMeters)
	assert.Equal(t, 180.0, r.DurationSeconds)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "Head north", r.Steps[0].Instruction)
	assert.Equal(t, 110.0, r.Steps[0].DurationSeconds)
	assert.Equal(t, "turn-left", r.Steps[1].Maneuver)
	assert.Equal(t, 70.0, r.Steps[1].DurationSeconds)
	// Two steps of two points each.
	assert.Len(t, r.Points, 4)
}

func TestBuildRoutesOverviewFallback(t *testing.T) {
	resp := &directionsResponse{
		Status: "OK",
		Routes: []apiRoute{{
			OverviewPolyline: apiPolyline{Points: "_p~iF~ps|U_ulLnnqC_mqNvxq`@"},
			Legs: []apiLeg{{
				Steps: []apiStep{{
					HTMLInstructions: "Arrive",
					// Single-point step polyline: unusable geometry.
					Polyline: apiPolyline{Points: "_p~iF~ps|U"},
				}},
			}},
		}},
	}

	routes, err := buildRoutes(resp)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Len(t, routes[0].Points, 3)
}

func TestBuildRoutesSkipsUnusableRoute(t *testing.T) {
	resp := &directionsResponse{
		Status: "OK",
		Routes: []apiRoute{
			{
				// No geometry at all.
				Legs: []apiLeg{{Steps: []apiStep{{}}}},
			},
			{
				Legs: []apiLeg{{
					Steps: []apiStep{{Polyline: apiPolyline{Points: "_p~iF~ps|U_ulLnnqC"}}},
				}},
			},
		},
	}

	routes, err := buildRoutes(resp)
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}
