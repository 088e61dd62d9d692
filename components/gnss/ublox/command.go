package ublox

import (
	"context"
	"time"

	"github.com/milkmansson/ublox-gnss-driver/ubx"
)

// commandTimeout bounds the wait for a command's reply.
const commandTimeout = 5000 * time.Millisecond

// SendMessage sends msg and, unless returnImmediately is set, waits for the next acknowledgment
// or polled response the receiver loop delivers. A nil message with a nil error means no reply
// arrived within the timeout; the outcome of the command is unknown. Only link failures, a
// stopped receiver loop and ctx are reported as errors.
func (d *Driver) SendMessage(ctx context.Context, msg ubx.Message, returnImmediately bool) (ubx.Message, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	if returnImmediately {
		return nil, d.link.SendMessage(msg)
	}
	if err := d.loopErr.Load(); err != nil {
		return nil, err
	}
	if !d.running() {
		return nil, ErrNotRunning
	}

	// Install the slot before writing so a fast reply is not dropped.
	slot := make(chan ubx.Message, 1)
	d.slotMu.Lock()
	d.slot = slot
	d.slotMu.Unlock()
	defer d.clearSlot()

	d.logger.CDebugw(ctx, "sending command", "command", msg.Name())
	if err := d.link.SendMessage(msg); err != nil {
		return nil, err
	}

	start := d.clock.Now()
	timer := d.clock.Timer(commandTimeout)
	defer timer.Stop()
	select {
	case resp := <-slot:
		d.logger.CDebugw(ctx, "command answered", "command", msg.Name(), "reply", resp.Name())
		return resp, nil
	case <-timer.C:
		d.logger.Warnw("command timed out", "command", msg.Name(), "elapsed", d.clock.Since(start))
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendRawMessage encodes and writes msg without waiting for a reply.
func (d *Driver) SendRawMessage(msg ubx.Message) error {
	return d.link.SendMessage(msg)
}

// SendRawBytes writes packet as is.
func (d *Driver) SendRawBytes(packet []byte) error {
	return d.link.SendPacket(packet)
}

func (d *Driver) clearSlot() {
	d.slotMu.Lock()
	d.slot = nil
	d.slotMu.Unlock()
}

// deliver fulfills the outstanding command's slot, once.
func (d *Driver) deliver(msg ubx.Message) {
	d.slotMu.Lock()
	slot := d.slot
	d.slot = nil
	d.slotMu.Unlock()

	if slot == nil {
		d.logger.Debugw("dropping reply with no outstanding command", "type", msg.Name())
		return
	}
	slot <- msg
}
