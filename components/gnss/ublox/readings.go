package ublox

import (
	"context"
	"sort"

	"github.com/samber/lo"
)

// Readings returns the current fix and diagnostics as a flat map. "fix" is absent until the first
// fix.
func (d *Driver) Readings(ctx context.Context) (map[string]interface{}, error) {
	diag := d.Diagnostics()
	readings := map[string]interface{}{
		"satellites_in_view":   diag.SatellitesInView,
		"known_satellites":     diag.KnownSatellites,
		"signal_quality":       diag.SignalQuality,
		"time_to_first_fix_ms": diag.TimeToFirstFix.Milliseconds(),
	}
	if loc, ok := d.Location(); ok {
		readings["fix"] = loc
	}
	if version, ok := d.ProtocolVersion(); ok {
		readings["protocol_version"] = version
	}
	return readings, nil
}

// MessageTypes returns the sorted names of every message type received so far.
func (d *Driver) MessageTypes() []string {
	d.cacheMu.RLock()
	names := lo.Keys(d.latest)
	d.cacheMu.RUnlock()
	sort.Strings(names)
	return names
}
