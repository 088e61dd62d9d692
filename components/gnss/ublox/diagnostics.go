package ublox

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// signalQualityTopN is how many of the strongest satellites the signal quality averages over. The
// sum is always divided by this, so fewer satellites score lower.
const signalQualityTopN = 4

// Diagnostics summarizes satellite tracking.
type Diagnostics struct {
	TimeToFirstFix time.Duration
	// SignalQuality is the mean CNO, in dBHz, of the strongest four satellites.
	SignalQuality float64
	// SatellitesInView counts satellites with a nonzero CNO.
	SatellitesInView int
	// KnownSatellites counts every satellite in the report, tracked or not.
	KnownSatellites int
}

// cnoReporter is a satellite tracking message, NAV-SAT or NAV-SVINFO.
type cnoReporter interface {
	CNOs() []uint8
}

// SummarizeSignal computes a Diagnostics snapshot from per-satellite CNO readings.
// TimeToFirstFix is left zero.
func SummarizeSignal(cnos []uint8) Diagnostics {
	sorted := append([]uint8(nil), cnos...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	top := sorted[:min(signalQualityTopN, len(sorted))]

	return Diagnostics{
		SignalQuality:    lo.Sum(lo.Map(top, func(cno uint8, _ int) float64 { return float64(cno) })) / signalQualityTopN,
		SatellitesInView: lo.CountBy(cnos, func(cno uint8) bool { return cno > 0 }),
		KnownSatellites:  len(cnos),
	}
}

func (d *Driver) updateDiagnostics(m cnoReporter) {
	diag := SummarizeSignal(m.CNOs())
	d.diagnostics.Store(&diag)
}

// Diagnostics returns the summary of the latest satellite report along with the time to first
// fix. Before any report it is all zero apart from the time to first fix.
func (d *Driver) Diagnostics() Diagnostics {
	var diag Diagnostics
	if latest := d.diagnostics.Load(); latest != nil {
		diag = *latest
	}
	diag.TimeToFirstFix = d.TimeToFirstFix()
	return diag
}
