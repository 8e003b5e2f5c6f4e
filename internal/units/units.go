// Package units provides shared constants and conversions for speed and
// distance units. The engine computes in meters and meters-per-second;
// display surfaces convert at the edge.
package units

// Speed unit constants
const (
	MPS = "mps"
	MPH = "mph"
	KPH = "kph"
)

// Conversion factors
const (
	MetersPerMile = 1609.34
	FeetPerMeter  = 3.28084
	MPSToMPH      = 2.2369362920544
	MPSToKPH      = 3.6
	KnotsToMPS    = 0.514444
)

// ValidSpeedUnits contains all valid speed unit values
var ValidSpeedUnits = []string{MPS, MPH, KPH}

// IsValidSpeedUnit checks if the given unit is in the list of valid units
func IsValidSpeedUnit(unit string) bool {
	for _, u := range ValidSpeedUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed in meters per second to the target units.
// Unknown units fall back to m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * MPSToMPH
	case KPH:
		return speedMPS * MPSToKPH
	case MPS:
		return speedMPS
	default:
		return speedMPS
	}
}

// MPSToMilesPerHour converts meters per second to miles per hour.
func MPSToMilesPerHour(mps float64) float64 { return mps * MPSToMPH }

// MetersToMiles converts meters to statute miles.
func MetersToMiles(m float64) float64 { return m / MetersPerMile }

// MilesToMeters converts statute miles to meters.
func MilesToMeters(mi float64) float64 { return mi * MetersPerMile }

// MetersToFeet converts meters to feet.
func MetersToFeet(m float64) float64 { return m * FeetPerMeter }
