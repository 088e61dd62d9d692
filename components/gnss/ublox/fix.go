package ublox

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"

	"github.com/milkmansson/ublox-gnss-driver/ubx"
	"github.com/milkmansson/ublox-gnss-driver/utils"
)

var errNoFix = errors.New("no fix yet")

const (
	degreesScale = 1e7
	mmPerMeter   = 1000.0
)

// Location is one position fix. Values are replaced wholesale on each fix and never mutated.
type Location struct {
	Latitude  float64
	Longitude float64
	// Altitude is height above mean sea level, in meters.
	Altitude float64
	Time     time.Time
	// HorizontalAccuracy and VerticalAccuracy are estimates, in meters.
	HorizontalAccuracy float64
	VerticalAccuracy   float64
}

// Point returns the location as a geo.Point.
func (l Location) Point() *geo.Point {
	return geo.NewPoint(l.Latitude, l.Longitude)
}

func (d *Driver) handleNavPvt(m *ubx.NavPvt) {
	if !m.GnssFixOK() {
		return
	}
	d.velocity.Store(&r3.Vector{
		X: float64(m.VelE) / mmPerMeter,
		Y: float64(m.VelN) / mmPerMeter,
		Z: -float64(m.VelD) / mmPerMeter,
	})
	d.publishFix(Location{
		Latitude:           float64(m.Lat) / degreesScale,
		Longitude:          float64(m.Lon) / degreesScale,
		Altitude:           float64(m.HMSL) / mmPerMeter,
		Time:               time.Date(int(m.Year), time.Month(m.Month), int(m.Day), int(m.Hour), int(m.Min), int(m.Sec), int(m.Nano), time.UTC),
		HorizontalAccuracy: float64(m.HAcc) / mmPerMeter,
		VerticalAccuracy:   float64(m.VAcc) / mmPerMeter,
	})
}

// handleNavPosllh builds a fix for receivers without NAV-PVT. The position only counts when the
// latest NAV-STATUS reports a 3D or GPS+dead reckoning fix, and the time comes from the latest
// NAV-TIMEUTC.
func (d *Driver) handleNavPosllh(m *ubx.NavPosllh) {
	status, ok := latestAs[*ubx.NavStatus](d, "UBX-NAV-STATUS")
	if !ok || (status.GpsFix != ubx.Fix3D && status.GpsFix != ubx.FixGPSDeadRecon) {
		return
	}
	utc, ok := latestAs[*ubx.NavTimeUTC](d, "UBX-NAV-TIMEUTC")
	if !ok {
		return
	}
	d.publishFix(Location{
		Latitude:           float64(m.Lat) / degreesScale,
		Longitude:          float64(m.Lon) / degreesScale,
		Altitude:           float64(m.HMSL) / mmPerMeter,
		Time:               time.Date(int(utc.Year), time.Month(utc.Month), int(utc.Day), int(utc.Hour), int(utc.Min), int(utc.Sec), int(utc.Nano), time.UTC),
		HorizontalAccuracy: float64(m.HAcc) / mmPerMeter,
		VerticalAccuracy:   float64(m.VAcc) / mmPerMeter,
	})
}

func (d *Driver) handleNavStatus(m *ubx.NavStatus) {
	if m.TTFF == 0 {
		return
	}
	ttff := time.Duration(m.TTFF) * time.Millisecond
	if d.timeToFirstFix.CompareAndSwap(0, ttff) {
		d.logger.Infow("first fix", "ttff", ttff)
	}
}

// latestAs returns the cached message of type name as a T.
func latestAs[T ubx.Message](d *Driver, name string) (T, bool) {
	var zero T
	msg, ok := d.LatestMessage(name)
	if !ok {
		return zero, false
	}
	m, err := utils.AssertType[T](msg)
	if err != nil {
		d.logger.Debugw("cached message has the wrong type", "type", name, "error", err)
		return zero, false
	}
	return m, true
}

// publishFix releases every waiter with loc and only then stores it, so a caller that has seen
// loc through Location waits for the fix after it. The waiter list is swapped out under waitMu
// so each waiter is released exactly once; waiter channels are buffered and never block.
func (d *Driver) publishFix(loc Location) {
	d.waitMu.Lock()
	waiters := d.waiters
	d.waiters = nil
	for _, w := range waiters {
		w <- loc
	}
	d.waitMu.Unlock()

	d.location.Store(&loc)
}

// Location returns the latest fix. The second result is false until the first fix.
func (d *Driver) Location() (Location, bool) {
	loc := d.location.Load()
	if loc == nil {
		return Location{}, false
	}
	return *loc, true
}

// LocationBlocking waits for the next fix. It does not time out by itself; cancel ctx to give up.
func (d *Driver) LocationBlocking(ctx context.Context) (Location, error) {
	w := make(chan Location, 1)
	d.waitMu.Lock()
	d.waiters = append(d.waiters, w)
	d.waitMu.Unlock()

	select {
	case loc := <-w:
		return loc, nil
	case <-ctx.Done():
		d.removeWaiter(w)
		return Location{}, ctx.Err()
	}
}

func (d *Driver) removeWaiter(w chan Location) {
	d.waitMu.Lock()
	defer d.waitMu.Unlock()
	for i, other := range d.waiters {
		if other == w {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			return
		}
	}
}

// TimeToFirstFix returns the receiver-reported time to first fix, or 0 before the first fix.
func (d *Driver) TimeToFirstFix() time.Duration {
	return d.timeToFirstFix.Load()
}

// Position returns the latest fix as a point and its altitude in meters.
func (d *Driver) Position(ctx context.Context) (*geo.Point, float64, error) {
	loc, ok := d.Location()
	if !ok {
		return nil, 0, errNoFix
	}
	return loc.Point(), loc.Altitude, nil
}

// LinearVelocity returns the velocity of the latest NAV-PVT fix in m/s, X east, Y north, Z up.
// Receivers configured for the legacy message set do not report it.
func (d *Driver) LinearVelocity(ctx context.Context) (r3.Vector, error) {
	v := d.velocity.Load()
	if v == nil {
		return r3.Vector{}, errNoFix
	}
	return *v, nil
}
