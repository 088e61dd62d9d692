package ublox

import (
	"context"

	"github.com/pkg/errors"

	"github.com/milkmansson/ublox-gnss-driver/ubx"
	"github.com/milkmansson/ublox-gnss-driver/utils"
)

// subscription is one periodic message and its rate in navigation epochs.
type subscription struct {
	name  string
	class uint8
	id    uint8
	rate  uint8
}

var (
	commonSubscriptions = []subscription{
		{"UBX-NAV-TIMEUTC", ubx.ClassNAV, ubx.IDNavTimeUTC, 15},
		{"UBX-NAV-STATUS", ubx.ClassNAV, ubx.IDNavStatus, 1},
	}
	modernSubscriptions = []subscription{
		{"UBX-NAV-PVT", ubx.ClassNAV, ubx.IDNavPvt, 1},
		{"UBX-NAV-SAT", ubx.ClassNAV, ubx.IDNavSat, 1},
	}
	legacySubscriptions = []subscription{
		{"UBX-NAV-POSLLH", ubx.ClassNAV, ubx.IDNavPosllh, 1},
		{"UBX-NAV-SVINFO", ubx.ClassNAV, ubx.IDNavSvInfo, 1},
		{"UBX-NAV-SOL", ubx.ClassNAV, ubx.IDNavSol, 1},
	}
)

// nmeaIDs are the standard NMEA sentences, GGA through VTG.
var nmeaIDs = []uint8{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}

// subscriptionPlan returns the periodic messages for a protocol version. Protocol 15 brought
// NAV-PVT and NAV-SAT; earlier receivers get the legacy set. A version that cannot be parsed gets
// the modern set.
func subscriptionPlan(version string) []subscription {
	plan := append([]subscription(nil), commonSubscriptions...)
	v, err := parseVersion(version)
	if err != nil || v >= 15 || v < 13 {
		return append(plan, modernSubscriptions...)
	}
	return append(plan, legacySubscriptions...)
}

// Configure subscribes to the periodic messages for the receiver's protocol version. NAKs and
// missing acknowledgments are logged; only transport failures are returned.
func (d *Driver) Configure(ctx context.Context) error {
	version, known := d.ProtocolVersion()
	if !known {
		d.logger.Warnw("configuring without a known protocol version", "assumed", DefaultProtocolVersion)
		version = DefaultProtocolVersion
	}
	for _, sub := range subscriptionPlan(version) {
		if err := d.subscribe(ctx, sub); err != nil {
			return errors.Wrapf(err, "failed to subscribe to %s", sub.name)
		}
	}
	return nil
}

// subscribe polls the current rates of sub and sets its rate on the I2C, UART1 and USB ports,
// leaving the other ports as they were.
func (d *Driver) subscribe(ctx context.Context, sub subscription) error {
	resp, err := d.SendMessage(ctx, ubx.PollCfgMsg(sub.class, sub.id), false)
	if err != nil {
		return err
	}
	cfg := &ubx.CfgMsg{MsgClass: sub.class, MsgID: sub.id}
	if current, ok := resp.(*ubx.CfgMsg); ok && current.MsgClass == sub.class && current.MsgID == sub.id {
		cfg.Rates = current.Rates
	}
	cfg.Rates[ubx.PortI2C] = sub.rate
	cfg.Rates[ubx.PortUART1] = sub.rate
	cfg.Rates[ubx.PortUSB] = sub.rate

	resp, err = d.SendMessage(ctx, cfg, false)
	if err != nil {
		return err
	}
	d.checkAck(ctx, "subscribe "+sub.name, resp)
	return nil
}

// checkAck logs anything but an ACK-ACK in reply to a CFG command.
func (d *Driver) checkAck(ctx context.Context, desc string, resp ubx.Message) bool {
	switch m := resp.(type) {
	case *ubx.AckAck:
		d.logger.CDebugw(ctx, "acknowledged", "command", desc)
		return true
	case *ubx.AckNak:
		d.logger.Warnw("receiver rejected command", "command", desc,
			"class", m.ClassID, "id", m.MsgID)
	case nil:
		d.logger.Warnw("no acknowledgment", "command", desc)
	default:
		d.logger.Warnw("unexpected reply", "command", desc, "reply", m.Name(),
			"error", utils.NewUnexpectedTypeError(&ubx.AckAck{}, m))
	}
	return false
}

// EnableDebugMessages turns on INF error, warning, notice and debug output in the UBX protocol on
// the I2C, UART1 and USB ports. The receiver's text is then logged under the "device" sublogger.
func (d *Driver) EnableDebugMessages(ctx context.Context) error {
	resp, err := d.SendMessage(ctx, ubx.PollCfgInf(ubx.ProtocolUBX), false)
	if err != nil {
		return errors.Wrap(err, "failed to poll INF configuration")
	}
	block := ubx.InfBlock{ProtocolID: ubx.ProtocolUBX}
	if current, ok := resp.(*ubx.CfgInf); ok {
		for _, b := range current.Blocks {
			if b.ProtocolID == ubx.ProtocolUBX {
				block = b
				break
			}
		}
	}

	const mask = ubx.InfMaskError | ubx.InfMaskWarning | ubx.InfMaskNotice | ubx.InfMaskDebug
	for _, port := range []int{ubx.PortI2C, ubx.PortUART1, ubx.PortUSB} {
		block.InfMsgMask[port] |= mask
	}

	resp, err = d.SendMessage(ctx, &ubx.CfgInf{Blocks: []ubx.InfBlock{block}}, false)
	if err != nil {
		return errors.Wrap(err, "failed to enable debug messages")
	}
	d.checkAck(ctx, "enable debug messages", resp)
	return nil
}

// DisableNMEA stops the standard NMEA sentences on every port so the link carries only UBX.
func (d *Driver) DisableNMEA(ctx context.Context) error {
	for _, id := range nmeaIDs {
		resp, err := d.SendMessage(ctx, &ubx.CfgMsg{MsgClass: ubx.ClassNMEA, MsgID: id}, false)
		if err != nil {
			return errors.Wrapf(err, "failed to disable NMEA %#02x", id)
		}
		d.checkAck(ctx, "disable NMEA", resp)
	}
	return nil
}
