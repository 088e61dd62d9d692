package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/milkmansson/ublox-gnss-driver/logging"
	"github.com/milkmansson/ublox-gnss-driver/ubx"
)

const (
	// DefaultWritePacing is slept after every write so the receiver's input buffer is not overrun.
	DefaultWritePacing = 10 * time.Millisecond
	// DefaultResetSettle is how long the receiver is given to reboot after CFG-RST.
	DefaultResetSettle = time.Second
)

// Adapter frames UBX messages over a Reader and a Writer.
type Adapter struct {
	reader Reader
	writer io.Writer
	logger logging.Logger
	clock  clock.Clock

	writeMu     sync.Mutex
	writePacing time.Duration
	resetSettle time.Duration
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithClock sets the clock used for write pacing and reset settling.
func WithClock(c clock.Clock) AdapterOption {
	return func(a *Adapter) {
		a.clock = c
	}
}

// WithWritePacing overrides DefaultWritePacing.
func WithWritePacing(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.writePacing = d
	}
}

// WithResetSettle overrides DefaultResetSettle.
func WithResetSettle(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.resetSettle = d
	}
}

// NewAdapter returns an Adapter reading from reader and writing to writer.
func NewAdapter(reader Reader, writer io.Writer, logger logging.Logger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		reader:      reader,
		writer:      writer,
		logger:      logger,
		clock:       clock.New(),
		writePacing: DefaultWritePacing,
		resetSettle: DefaultResetSettle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewStreamAdapter returns an Adapter over a single read/write link such as a serial port or a
// DDC connection.
func NewStreamAdapter(link io.ReadWriter, logger logging.Logger, opts ...AdapterOption) *Adapter {
	return NewAdapter(NewBufferedReader(link), link, logger, opts...)
}

// Flush discards any bytes received but not yet decoded.
func (a *Adapter) Flush() error {
	return a.reader.Flush()
}

// Reset sends CFG-RST for mode, waits for the receiver to come back up and then flushes whatever
// it printed while booting. No acknowledgment is expected since the receiver reboots.
func (a *Adapter) Reset(ctx context.Context, mode ubx.ResetMode, action uint8) error {
	a.logger.Infow("resetting receiver", "mode", mode.String(), "action", action)
	if err := a.SendMessage(ubx.NewCfgRst(mode, action)); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(a.resetSettle):
	}
	return a.Flush()
}

// SendPacket writes raw bytes and then sleeps the write pacing interval. Concurrent writers are
// serialized so frames are never interleaved.
func (a *Adapter) SendPacket(packet []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.writer.Write(packet); err != nil {
		return errors.Wrap(err, "failed to write to receiver")
	}
	a.clock.Sleep(a.writePacing)
	return nil
}

// SendMessage encodes m and sends it with SendPacket.
func (a *Adapter) SendMessage(m ubx.Message) error {
	packet, err := ubx.Encode(m)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", m.Name())
	}
	return a.SendPacket(packet)
}

// NextMessage blocks until the next frame decodes. Bytes outside frames (NMEA sentences, noise)
// are skipped, and a malformed frame is logged and stepped over one byte at a time until the
// stream is back in sync. Only an I/O error from the link or ctx ending stops it.
func (a *Adapter) NextMessage(ctx context.Context) (ubx.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		head, err := a.reader.Peek(1)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			return nil, err
		}
		if head[0] != ubx.Sync1 {
			if err := a.reader.Skip(1); err != nil {
				return nil, err
			}
			continue
		}

		msg, n, err := ubx.DecodeFrame(a.reader)
		if err == nil {
			if err := a.reader.Skip(n); err != nil {
				return nil, err
			}
			return msg, nil
		}

		var decodeErr *ubx.DecodeError
		switch {
		case errors.As(err, &decodeErr):
			a.logger.Warnw("skipping malformed frame", "error", err)
			if err := a.reader.Skip(1); err != nil {
				return nil, err
			}
		case errors.Is(err, ErrTimeout):
		default:
			return nil, err
		}
	}
}
