package nav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/navmiles/navmiles/internal/config"
	"github.com/navmiles/navmiles/internal/geo"
	"github.com/navmiles/navmiles/internal/testutil"
	"github.com/navmiles/navmiles/internal/timeutil"
)

func newTestMonitor(t *testing.T) (*OffRouteMonitor, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(testutil.FixedTime)
	return NewOffRouteMonitor(config.Default(), clock), clock
}

func TestOffRouteRequiresConsecutiveStrikes(t *testing.T) {
	m, _ := newTestMonitor(t)
	line := testutil.CongressLine()
	far := estAt(testutil.PointNear(testutil.CongressAt5th, 150), 20)

	assert.False(t, m.Check(far, line), "first offense is not confirmation")
	assert.True(t, m.Check(far, line), "second consecutive offense confirms")
}

func TestOffRouteOnRouteResetsStrikes(t *testing.T) {
	m, _ := newTestMonitor(t)
	line := testutil.CongressLine()
	far := estAt(testutil.PointNear(testutil.CongressAt5th, 150), 20)
	near := estAt(testutil.PointNear(testutil.CongressAt5th, 10), 20)

	assert.False(t, m.Check(far, line))
	assert.False(t, m.Check(near, line))
	assert.False(t, m.Check(far, line), "strike count restarted")
	assert.True(t, m.Check(far, line))
}

func TestOffRouteThresholdWidensAtSpeed(t *testing.T) {
	m, _ := newTestMonitor(t)
	line := testutil.CongressLine()

	// 100 m off: over the low-speed threshold, under the highway one.
	slow := estAt(testutil.PointNear(testutil.CongressAt5th, 100), 20)
	fast := estAt(testutil.PointNear(testutil.CongressAt5th, 100), 60)

	assert.False(t, m.Check(fast, line))
	assert.False(t, m.Check(fast, line), "within highway tolerance, never strikes")

	assert.False(t, m.Check(slow, line))
	assert.True(t, m.Check(slow, line), "city tolerance exceeded")
}

func TestOffRouteEmptyGeometry(t *testing.T) {
	m, _ := newTestMonitor(t)
	far := estAt(testutil.PointNear(testutil.CongressAt5th, 500), 20)

	assert.False(t, m.Check(far, nil))
	assert.False(t, m.Check(far, []geo.LatLng{testutil.CongressAt5th}))
}

func TestAllowRerouteCooldown(t *testing.T) {
	m, clock := newTestMonitor(t)

	assert.True(t, m.AllowReroute())
	assert.False(t, m.AllowReroute(), "cooldown active")

	clock.Advance(31 * time.Second)
	assert.True(t, m.AllowReroute())
}

func TestOffRouteReset(t *testing.T) {
	m, _ := newTestMonitor(t)
	line := testutil.CongressLine()
	far := estAt(testutil.PointNear(testutil.CongressAt5th, 150), 20)

	m.Check(far, line)
	m.Reset()
	assert.False(t, m.Check(far, line))
}
