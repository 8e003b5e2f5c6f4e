package nav

import (
	"fmt"
	"math"
	"strings"

	"github.com/navmiles/navmiles/internal/units"
)

// FormatTurnDistance renders a distance to the next maneuver the way a
// driver expects to read it: exact feet inside a tenth of a mile, two
// decimal places of miles under a mile, one past it.
func FormatTurnDistance(meters float64) string {
	if meters < 0 || math.IsNaN(meters) || math.IsInf(meters, 0) {
		return ""
	}
	feet := units.MetersToFeet(meters)
	if feet < 528 {
		return fmt.Sprintf("%d ft", int(math.Round(feet)))
	}
	miles := units.MetersToMiles(meters)
	if miles < 1 {
		return fmt.Sprintf("%.2f mi", miles)
	}
	return fmt.Sprintf("%.1f mi", miles)
}

// FormatETA renders a remaining duration in minutes, switching to hours
// past the hour mark. Sub-minute remainders round up so the display
// never reads "0 min" while still moving.
func FormatETA(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return ""
	}
	mins := int(math.Ceil(seconds / 60))
	if mins < 1 {
		mins = 1
	}
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	h := mins / 60
	m := mins % 60
	if m == 0 {
		return fmt.Sprintf("%d hr", h)
	}
	return fmt.Sprintf("%d hr %d min", h, m)
}

// spokenCue builds one voice prompt from the live distance to the
// maneuver. The route's first step and the final callout read best bare;
// everything else leads with the distance.
func spokenCue(meters float64, instruction string, stepIndex int) string {
	instruction = strings.TrimSpace(instruction)
	if stepIndex == 0 || meters < 10 {
		return instruction
	}
	return "In " + FormatTurnDistance(meters) + ", " + lowerFirst(instruction)
}

// lowerFirst downcases the leading letter so "Turn right" reads
// naturally after a prefix. Road names and abbreviations starting with
// consecutive capitals are left alone.
func lowerFirst(s string) string {
	if len(s) < 2 {
		return s
	}
	if s[0] >= 'A' && s[0] <= 'Z' && !(s[1] >= 'A' && s[1] <= 'Z') {
		return string(s[0]+'a'-'A') + s[1:]
	}
	return s
}
