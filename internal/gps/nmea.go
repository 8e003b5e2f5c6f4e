// Package gps turns NMEA 0183 sentence streams from a serial GPS puck
// or a UDP feed into raw position fixes, fanned out to any number of
// subscribers.
package gps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/units"
)

var (
	// ErrBadChecksum is returned for sentences whose checksum does not
	// match their payload.
	ErrBadChecksum = errors.New("gps: checksum mismatch")

	// ErrUnsupported is returned for well-formed sentences of a type we
	// do not parse. Callers skip these silently.
	ErrUnsupported = errors.New("gps: unsupported sentence")
)

// RMC is a recommended-minimum sentence: position, speed and course.
type RMC struct {
	Pos      geo.LatLng
	SpeedMPS float64
	Course   float64 // degrees true, -1 when absent
	Valid    bool    // receiver status A
}

// GGA is a fix-data sentence: position plus fix quality.
type GGA struct {
	Pos        geo.LatLng
	Quality    int
	Satellites int
	HDOP       float64
}

// ParseSentence parses one NMEA line into an *RMC or *GGA. The leading
// "$" and trailing "*hh" checksum are required.
func ParseSentence(line string) (any, error) {
	line = strings.TrimSpace(line)
	if len(line) < 9 || line[0] != '$' {
		return nil, fmt.Errorf("gps: malformed sentence %q", line)
	}

	star := strings.LastIndexByte(line, '*')
	if star < 0 || star+3 > len(line) {
		return nil, fmt.Errorf("gps: missing checksum in %q", line)
	}
	payload := line[1:star]
	want, err := strconv.ParseUint(line[star+1:star+3], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("gps: bad checksum digits in %q", line)
	}
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum ^= payload[i]
	}
	if sum != byte(want) {
		return nil, fmt.Errorf("%w: computed %02X want %02X", ErrBadChecksum, sum, want)
	}

	fields := strings.Split(payload, ",")
	typ := fields[0]
	if len(typ) < 5 {
		return nil, fmt.Errorf("gps: short sentence id %q", typ)
	}
	switch typ[2:] {
	case "RMC":
		return parseRMC(fields)
	case "GGA":
		return parseGGA(fields)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, typ)
}

func parseRMC(fields []string) (*RMC, error) {
	if len(fields) < 9 {
		return nil, fmt.Errorf("gps: RMC needs 9 fields, got %d", len(fields))
	}
	r := &RMC{Valid: fields[2] == "A", Course: -1}
	pos, err := parseCoords(fields[3], fields[4], fields[5], fields[6])
	if err != nil {
		return nil, err
	}
	r.Pos = pos

	if fields[7] != "" {
		knots, err := strconv.ParseFloat(fields[7], 64)
		if err != nil {
			return nil, fmt.Errorf("gps: bad RMC speed %q", fields[7])
		}
		r.SpeedMPS = knots * units.KnotsToMPS
	}
	if fields[8] != "" {
		course, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, fmt.Errorf("gps: bad RMC course %q", fields[8])
		}
		r.Course = course
	}
	return r, nil
}

func parseGGA(fields []string) (*GGA, error) {
	if len(fields) < 9 {
		return nil, fmt.Errorf("gps: GGA needs 9 fields, got %d", len(fields))
	}
	g := &GGA{}
	pos, err := parseCoords(fields[2], fields[3], fields[4], fields[5])
	if err != nil {
		return nil, err
	}
	g.Pos = pos

	if fields[6] != "" {
		q, err := strconv.Atoi(fields[6])
		if err != nil {
			return nil, fmt.Errorf("gps: bad GGA quality %q", fields[6])
		}
		g.Quality = q
	}
	if fields[7] != "" {
		n, err := strconv.Atoi(fields[7])
		if err != nil {
			return nil, fmt.Errorf("gps: bad GGA satellite count %q", fields[7])
		}
		g.Satellites = n
	}
	if fields[8] != "" {
		h, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, fmt.Errorf("gps: bad GGA hdop %q", fields[8])
		}
		g.HDOP = h
	}
	return g, nil
}

// parseCoords converts NMEA ddmm.mmmm / dddmm.mmmm coordinate pairs
// with hemisphere indicators into decimal degrees.
func parseCoords(lat, ns, lng, ew string) (geo.LatLng, error) {
	la, err := parseCoord(lat, ns, "S")
	if err != nil {
		return geo.LatLng{}, fmt.Errorf("gps: bad latitude %q: %w", lat, err)
	}
	lo, err := parseCoord(lng, ew, "W")
	if err != nil {
		return geo.LatLng{}, fmt.Errorf("gps: bad longitude %q: %w", lng, err)
	}
	return geo.LatLng{Lat: la, Lng: lo}, nil
}

func parseCoord(dm, hemi, negHemi string) (float64, error) {
	if dm == "" {
		return 0, errors.New("empty")
	}
	v, err := strconv.ParseFloat(dm, 64)
	if err != nil {
		return 0, err
	}
	deg := float64(int(v / 100))
	minutes := v - deg*100
	dec := deg + minutes/60
	if hemi == negHemi {
		dec = -dec
	}
	return dec, nil
}
