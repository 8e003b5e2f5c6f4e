package route

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/httputil"
	"github.com/navmiles/navmiles/internal/monitoring"
)

const (
	defaultDirectionsURL = "https://maps.googleapis.com/maps/api/directions/json"
	defaultRoadsURL      = "https://roads.googleapis.com/v1/snapToRoads"
)

// Client talks to the directions and roads web services.
type Client struct {
	http          httputil.HTTPClient
	apiKey        string
	directionsURL string
	roadsURL      string
}

// NewClient builds a Client. Pass nil for hc to use a standard HTTP
// client with a request timeout.
func NewClient(apiKey string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(&http.Client{Timeout: 15 * time.Second})
	}
	return &Client{
		http:          hc,
		apiKey:        apiKey,
		directionsURL: defaultDirectionsURL,
		roadsURL:      defaultRoadsURL,
	}
}

func fmtLatLng(p geo.LatLng) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Directions requests driving routes from origin to dest through the
// given waypoints in order. Alternatives are requested so callers can
// offer fastest versus shortest. avoidTolls keeps toll roads out of the
// results. Returns ErrNoRoute when the service finds nothing drivable.
func (c *Client) Directions(ctx context.Context, origin, dest geo.LatLng, waypoints []geo.LatLng, avoidTolls bool) ([]Route, error) {
	q := url.Values{}
	q.Set("origin", fmtLatLng(origin))
	q.Set("destination", fmtLatLng(dest))
	q.Set("mode", "driving")
	q.Set("alternatives", "true")
	if avoidTolls {
		q.Set("avoid", "tolls")
	}
	q.Set("key", c.apiKey)
	if len(waypoints) > 0 {
		parts := make([]string, len(waypoints))
		for i, w := range waypoints {
			parts[i] = fmtLatLng(w)
		}
		q.Set("waypoints", strings.Join(parts, "|"))
	}

	var resp directionsResponse
	if err := c.getJSON(ctx, c.directionsURL+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("directions request: %w", err)
	}
	return buildRoutes(&resp)
}

type snapResponse struct {
	SnappedPoints []struct {
		Location struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	} `json:"snappedPoints"`
}

// SnapToRoad snaps a point onto the nearest road segment. Snapping is
// best effort: on any failure the raw point is returned so routing can
// proceed from where the vehicle actually is.
func (c *Client) SnapToRoad(ctx context.Context, p geo.LatLng) geo.LatLng {
	q := url.Values{}
	q.Set("path", fmtLatLng(p))
	q.Set("key", c.apiKey)

	var resp snapResponse
	if err := c.getJSON(ctx, c.roadsURL+"?"+q.Encode(), &resp); err != nil {
		monitoring.Logf("route: snap failed, using raw point: %v", err)
		return p
	}
	if len(resp.SnappedPoints) == 0 {
		return p
	}
	loc := resp.SnappedPoints[0].Location
	snapped := geo.LatLng{Lat: loc.Latitude, Lng: loc.Longitude}
	if !snapped.IsValid() {
		return p
	}
	return snapped
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
