package inject

import (
	"io"
	"sync"
	"time"

	"github.com/milkmansson/ublox-gnss-driver/ubx"
)

// deviceReadTimeout is how long Read waits for data before reporting a timeout with (0, nil).
const deviceReadTimeout = 5 * time.Millisecond

// Device is an in-memory u-blox receiver. Every frame written to it is decoded, recorded and
// passed to RespondFunc; the messages it returns are queued for the driver to read. Feed queues
// unsolicited output such as navigation messages.
type Device struct {
	RespondFunc func(msg ubx.Message) []ubx.Message

	mu       sync.Mutex
	pending  []byte
	written  []ubx.Message
	closed   bool
	dataCond chan struct{}
}

// NewDevice returns a Device with no RespondFunc; it stays silent until one is set.
func NewDevice() *Device {
	return &Device{dataCond: make(chan struct{}, 1)}
}

// Read returns queued bytes, or (0, nil) after a short wait when there are none.
func (d *Device) Read(p []byte) (int, error) {
	if n, ok, err := d.take(p); ok || err != nil {
		return n, err
	}
	select {
	case <-d.dataCond:
	case <-time.After(deviceReadTimeout):
	}
	n, _, err := d.take(p)
	return n, err
}

func (d *Device) take(p []byte) (int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, false, io.ErrClosedPipe
	}
	if len(d.pending) == 0 {
		return 0, false, nil
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, true, nil
}

// Write decodes p as a single frame and answers it through RespondFunc. Bytes that do not decode
// are accepted and ignored, as a receiver would.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	msg, err := ubx.Decode(p)
	if err != nil {
		d.mu.Unlock()
		return len(p), nil
	}
	d.written = append(d.written, msg)
	respond := d.RespondFunc
	d.mu.Unlock()

	if respond != nil {
		if err := d.Feed(respond(msg)...); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Feed queues messages for the driver to read.
func (d *Device) Feed(msgs ...ubx.Message) error {
	for _, msg := range msgs {
		frame, err := ubx.Encode(msg)
		if err != nil {
			return err
		}
		d.FeedBytes(frame)
	}
	return nil
}

// FeedBytes queues raw bytes for the driver to read.
func (d *Device) FeedBytes(b []byte) {
	d.mu.Lock()
	d.pending = append(d.pending, b...)
	d.mu.Unlock()
	select {
	case d.dataCond <- struct{}{}:
	default:
	}
}

// Written returns every frame written so far, in order.
func (d *Device) Written() []ubx.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ubx.Message(nil), d.written...)
}

// ResetInputBuffer drops queued bytes the driver has not read yet.
func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	return nil
}

// Close makes further reads and writes fail.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Reopen undoes Close, as when a receiver is plugged back in. Queued bytes are kept.
func (d *Device) Reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
}

// NewReceiverResponder returns a RespondFunc that behaves like a healthy receiver: polls are
// answered with the current (all zero) configuration, configuration writes are acknowledged and
// a MON-VER poll is answered with monVer, when set.
func NewReceiverResponder(monVer *ubx.MonVer) func(ubx.Message) []ubx.Message {
	return func(msg ubx.Message) []ubx.Message {
		switch m := msg.(type) {
		case *ubx.Poll:
			switch m.Name() {
			case "UBX-CFG-MSG":
				return []ubx.Message{&ubx.CfgMsg{MsgClass: m.Payload[0], MsgID: m.Payload[1]}}
			case "UBX-CFG-INF":
				return []ubx.Message{&ubx.CfgInf{Blocks: []ubx.InfBlock{{ProtocolID: m.Payload[0]}}}}
			case "UBX-MON-VER":
				if monVer != nil {
					return []ubx.Message{monVer}
				}
			}
		case *ubx.CfgMsg, *ubx.CfgInf:
			return []ubx.Message{&ubx.AckAck{ClassID: msg.Class(), MsgID: msg.ID()}}
		}
		return nil
	}
}
