package ublox

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/milkmansson/ublox-gnss-driver/logging"
	"github.com/milkmansson/ublox-gnss-driver/ubx"
	"github.com/milkmansson/ublox-gnss-driver/utils"
)

// DefaultProtocolVersion is assumed when the receiver does not say and its hardware is unknown.
const DefaultProtocolVersion = "12.00"

// ErrVersionParse is returned when a PROTVER extension is present but cannot be read.
var ErrVersionParse = errors.New("malformed PROTVER extension")

const protVerExtension = "PROTVER"

// hardwareProtocolVersions maps MON-VER hwVersion to the protocol version of receivers whose
// firmware predates the PROTVER extension.
var hardwareProtocolVersions = map[string]string{
	"00040007": "7.03",  // u-blox 6
	"00070000": "14.00", // u-blox 7
	"00080000": "15.00", // u-blox M8
}

// Version detection states.
const (
	versionUnknown   = "unknown"
	versionDetecting = "detecting"
	versionKnown     = "known"
)

// Version detection events.
const (
	detectEvent  = "detect"
	resolveEvent = "resolve"
	failEvent    = "fail"
	forceEvent   = "force"
)

type versionState struct {
	mu      sync.Mutex
	fsm     *fsm.FSM
	version string
	logger  logging.Logger
}

func newVersionState(logger logging.Logger) *versionState {
	vs := &versionState{logger: logger}
	vs.fsm = fsm.NewFSM(
		versionUnknown,
		fsm.Events{
			{Name: detectEvent, Src: []string{versionUnknown, versionKnown}, Dst: versionDetecting},
			{Name: resolveEvent, Src: []string{versionDetecting}, Dst: versionKnown},
			{Name: failEvent, Src: []string{versionDetecting}, Dst: versionUnknown},
			{Name: forceEvent, Src: []string{versionUnknown, versionDetecting, versionKnown}, Dst: versionKnown},
		},
		fsm.Callbacks{
			"enter_" + versionKnown: func(e *fsm.Event) {
				vs.version = e.Args[0].(string)
			},
			"enter_" + versionUnknown: func(e *fsm.Event) {
				vs.version = ""
			},
			"enter_state": func(e *fsm.Event) {
				vs.logger.Debugw("protocol version state", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return vs
}

func (vs *versionState) event(name string, args ...interface{}) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.eventLocked(name, args...)
}

// eventLocked fires name and reports whether the state changed. Firing an event whose source
// and destination are the same state is not a transition and leaves callbacks unrun.
func (vs *versionState) eventLocked(name string, args ...interface{}) bool {
	err := vs.fsm.Event(name, args...)
	if err == nil {
		return true
	}
	var noTransition fsm.NoTransitionError
	if !errors.As(err, &noTransition) {
		vs.logger.Warnw("unexpected protocol version event", "event", name, "state", vs.fsm.Current(), "error", err)
	}
	return false
}

func (vs *versionState) force(version string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if !vs.eventLocked(forceEvent, version) && vs.fsm.Current() == versionKnown {
		vs.version = version
	}
}

func (vs *versionState) get() (string, string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.fsm.Current(), vs.version
}

// ProtocolVersion returns the detected or forced protocol version. The second result is false
// while it is unknown or being detected.
func (d *Driver) ProtocolVersion() (string, bool) {
	state, version := d.version.get()
	return version, state == versionKnown
}

// DetectDeviceVersion polls MON-VER and derives the protocol version from the reply. A missing or
// unexpected reply falls back to DefaultProtocolVersion.
func (d *Driver) DetectDeviceVersion(ctx context.Context) (string, error) {
	d.version.event(detectEvent)

	resp, err := d.SendMessage(ctx, ubx.PollMonVer(), false)
	if err != nil {
		d.version.event(failEvent)
		return "", err
	}

	version := DefaultProtocolVersion
	if monVer, ok := resp.(*ubx.MonVer); ok {
		version, err = DeriveProtocolVersion(monVer)
		if err != nil {
			d.version.event(failEvent)
			return "", err
		}
		d.logger.Infow("receiver version", "sw", monVer.SwVersion, "hw", monVer.HwVersion, "protocol", version)
	} else if resp != nil {
		d.logger.Warnw("unexpected version reply, assuming default protocol",
			"protocol", version, "error", utils.NewUnexpectedTypeError(&ubx.MonVer{}, resp))
	} else {
		d.logger.Warnw("no version reply, assuming default protocol", "protocol", version)
	}

	d.version.event(resolveEvent, version)
	return version, nil
}

// DeriveProtocolVersion reads the protocol version from a MON-VER reply: the PROTVER extension
// when present, else the hardware version table, else DefaultProtocolVersion.
func DeriveProtocolVersion(m *ubx.MonVer) (string, error) {
	for _, ext := range m.Extensions {
		if !strings.HasPrefix(ext, protVerExtension) {
			continue
		}
		_, version, found := strings.Cut(ext, "=")
		if !found {
			_, version, found = strings.Cut(ext, " ")
		}
		if !found {
			return "", errors.Wrapf(ErrVersionParse, "%q", ext)
		}
		return strings.TrimSpace(version), nil
	}
	if version, ok := hardwareProtocolVersions[m.HwVersion]; ok {
		return version, nil
	}
	return DefaultProtocolVersion, nil
}

func parseVersion(version string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(version), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid protocol version %q", version)
	}
	return v, nil
}
