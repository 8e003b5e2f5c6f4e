// Package route models driving routes and wraps the directions and road
// snapping web services. Routes are normalised into dense point polylines
// plus per-step guidance data so downstream guidance code never touches
// the raw API shapes.
package route

import (
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/monitoring"
)

// ErrNoRoute is returned when the directions service finds no drivable
// route between the requested points.
var ErrNoRoute = errors.New("route: no route found")

// Step is one guidance maneuver within a route.
type Step struct {
	Instruction     string       `json:"instruction"` // plain text, HTML stripped
	Maneuver        string       `json:"maneuver,omitempty"`
	End             geo.LatLng   `json:"end"`
	Polyline        []geo.LatLng `json:"polyline,omitempty"`
	DistanceMeters  float64      `json:"distance_meters"`
	DurationSeconds float64      `json:"duration_seconds"`
}

// Route is a normalised drivable route.
type Route struct {
	// Points is the dense polyline used for map matching: the
	// concatenation of every step polyline, or the overview polyline
	// when step geometry is unusable.
	Points          []geo.LatLng `json:"points"`
	Steps           []Step       `json:"steps"`
	Summary         string       `json:"summary,omitempty"`
	DistanceMeters  float64      `json:"distance_meters"`
	DurationSeconds float64      `json:"duration_seconds"`
}

// Directions API wire types. Only the fields we read.

type directionsResponse struct {
	Status string     `json:"status"`
	Routes []apiRoute `json:"routes"`
}

type apiRoute struct {
	Summary          string      `json:"summary"`
	OverviewPolyline apiPolyline `json:"overview_polyline"`
	Legs             []apiLeg    `json:"legs"`
}

type apiLeg struct {
	Distance apiValue  `json:"distance"`
	Duration apiValue  `json:"duration"`
	Steps    []apiStep `json:"steps"`
}

type apiStep struct {
	HTMLInstructions string      `json:"html_instructions"`
	Maneuver         string      `json:"maneuver"`
	Distance         apiValue    `json:"distance"`
	Duration         apiValue    `json:"duration"`
	EndLocation      apiLocation `json:"end_location"`
	Polyline         apiPolyline `json:"polyline"`
}

type apiValue struct {
	Value float64 `json:"value"`
}

type apiLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type apiPolyline struct {
	Points string `json:"points"`
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// stripInstruction converts html_instructions into speakable plain text.
func stripInstruction(s string) string {
	// The "continue onto" suffix div runs straight into the preceding
	// text without whitespace; insert one so words do not fuse.
	s = strings.ReplaceAll(s, "<div", " <div")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// buildRoutes converts an API response into normalised routes. Routes
// whose geometry cannot be decoded are skipped with a log line rather
// than failing the whole response.
func buildRoutes(resp *directionsResponse) ([]Route, error) {
	if resp.Status != "OK" || len(resp.Routes) == 0 {
		return nil, ErrNoRoute
	}

	var routes []Route
	for i, ar := range resp.Routes {
		if len(ar.Legs) == 0 {
			continue
		}

		r := Route{
			Summary:         ar.Summary,
			DistanceMeters:  ar.Legs[0].Distance.Value,
			DurationSeconds: ar.Legs[0].Duration.Value,
		}

		for _, leg := range ar.Legs {
			for _, as := range leg.Steps {
				pts, err := DecodePolyline(as.Polyline.Points)
				if err != nil {
					monitoring.Logf("route: bad step polyline in route %d: %v", i, err)
					pts = nil
				}
				r.Steps = append(r.Steps, Step{
					Instruction:     stripInstruction(as.HTMLInstructions),
					Maneuver:        as.Maneuver,
					End:             geo.LatLng{Lat: as.EndLocation.Lat, Lng: as.EndLocation.Lng},
					Polyline:        pts,
					DistanceMeters:  as.Distance.Value,
					DurationSeconds: as.Duration.Value,
				})
				r.Points = append(r.Points, pts...)
			}
		}

		// Degenerate step geometry: fall back to the overview polyline
		// so map matching still has a line to work with.
		if len(r.Points) < 2 {
			pts, err := DecodePolyline(ar.OverviewPolyline.Points)
			if err != nil || len(pts) < 2 {
				monitoring.Logf("route: route %d has no usable geometry, skipping", i)
				continue
			}
			r.Points = pts
		}

		routes = append(routes, r)
	}

	if len(routes) == 0 {
		return nil, ErrNoRoute
	}
	return routes, nil
}
