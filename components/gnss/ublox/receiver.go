package ublox

import (
	"context"

	"github.com/milkmansson/ublox-gnss-driver/ubx"
)

func (d *Driver) receiveLoop(started chan<- struct{}) func(context.Context) {
	return func(ctx context.Context) {
		close(started)
		for {
			msg, err := d.link.NextMessage(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				d.logger.Errorw("receiver loop stopped", "error", err)
				d.loopErr.Store(err)
				return
			}
			d.handle(msg)
		}
	}
}

// handle caches msg and routes it. It only runs on the receiver loop, so message handling is
// strictly in arrival order.
func (d *Driver) handle(msg ubx.Message) {
	d.cacheMu.Lock()
	d.latest[msg.Name()] = msg
	d.cacheMu.Unlock()

	switch m := msg.(type) {
	case *ubx.AckAck, *ubx.AckNak, *ubx.CfgMsg, *ubx.CfgInf, *ubx.MonVer:
		d.deliver(msg)
	case *ubx.NavPvt:
		d.handleNavPvt(m)
	case *ubx.NavPosllh:
		d.handleNavPosllh(m)
	case *ubx.NavStatus:
		d.handleNavStatus(m)
	case *ubx.NavSat:
		d.updateDiagnostics(m)
	case *ubx.NavSvInfo:
		d.updateDiagnostics(m)
	case *ubx.NavSol, *ubx.NavTimeUTC:
		// Cached only; NAV-TIMEUTC is read back when a NAV-POSLLH arrives.
	case *ubx.Inf:
		d.logDeviceText(m)
	default:
		d.logger.Debugw("dropping unhandled message", "type", msg.Name())
	}
}

func (d *Driver) logDeviceText(m *ubx.Inf) {
	switch m.Severity {
	case ubx.InfError:
		d.deviceLogger.Error(m.Text)
	case ubx.InfWarning:
		d.deviceLogger.Warn(m.Text)
	case ubx.InfNotice:
		d.deviceLogger.Info(m.Text)
	default:
		d.deviceLogger.Debug(m.Text)
	}
}
