package ublox

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/milkmansson/ublox-gnss-driver/logging"
	"github.com/milkmansson/ublox-gnss-driver/testutils/inject"
	"github.com/milkmansson/ublox-gnss-driver/transport"
	"github.com/milkmansson/ublox-gnss-driver/ubx"
)

var m8Version = &ubx.MonVer{
	SwVersion:  "ROM CORE 3.01 (107888)",
	HwVersion:  "00080000",
	Extensions: []string{"FWVER=SPG 3.01", "PROTVER=18.00"},
}

func newTestDriver(t *testing.T, dev *inject.Device, logger logging.Logger, opts Options) *Driver {
	t.Helper()
	link := transport.NewStreamAdapter(dev, logger,
		transport.WithWritePacing(0), transport.WithResetSettle(time.Millisecond))
	d, err := New(context.Background(), link, logger, opts)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, d.Close(), test.ShouldBeNil)
	})
	return d
}

func newManualDriver(t *testing.T, dev *inject.Device) *Driver {
	t.Helper()
	d := newTestDriver(t, dev, logging.NewTestLogger(t), Options{})
	test.That(t, d.Run(), test.ShouldBeNil)
	return d
}

func writtenNames(dev *inject.Device) []string {
	var names []string
	for _, msg := range dev.Written() {
		names = append(names, msg.Name())
	}
	return names
}

func TestStartupSequence(t *testing.T) {
	dev := inject.NewDevice()
	dev.RespondFunc = inject.NewReceiverResponder(m8Version)
	d := newTestDriver(t, dev, logging.NewTestLogger(t), DefaultOptions())

	version, ok := d.ProtocolVersion()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, version, test.ShouldEqual, "18.00")

	expected := []string{"UBX-MON-VER", "UBX-CFG-INF", "UBX-CFG-INF"}
	for range nmeaIDs {
		expected = append(expected, "UBX-CFG-MSG")
	}
	for range subscriptionPlan("18.00") {
		expected = append(expected, "UBX-CFG-MSG", "UBX-CFG-MSG")
	}
	written := dev.Written()
	test.That(t, writtenNames(dev), test.ShouldResemble, expected)

	infSet, ok := written[2].(*ubx.CfgInf)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, infSet.Blocks, test.ShouldHaveLength, 1)
	test.That(t, infSet.Blocks[0].InfMsgMask[ubx.PortUART1], test.ShouldEqual, 0x17)
	test.That(t, infSet.Blocks[0].InfMsgMask[ubx.PortUART2], test.ShouldEqual, 0)

	for i, id := range nmeaIDs {
		nmea, ok := written[3+i].(*ubx.CfgMsg)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, nmea.MsgClass, test.ShouldEqual, ubx.ClassNMEA)
		test.That(t, nmea.MsgID, test.ShouldEqual, id)
		test.That(t, nmea.Rates, test.ShouldResemble, [6]uint8{})
	}

	// Subscriptions follow as poll, set pairs.
	var subscribed []uint8
	for _, msg := range written[3+len(nmeaIDs):] {
		if set, ok := msg.(*ubx.CfgMsg); ok {
			subscribed = append(subscribed, set.MsgID)
			test.That(t, set.Rates[ubx.PortUART2], test.ShouldEqual, 0)
			test.That(t, set.Rates[ubx.PortI2C], test.ShouldEqual, set.Rates[ubx.PortUSB])
		}
	}
	test.That(t, subscribed, test.ShouldResemble,
		[]uint8{ubx.IDNavTimeUTC, ubx.IDNavStatus, ubx.IDNavPvt, ubx.IDNavSat})
}

func TestStartupForcedVersion(t *testing.T) {
	dev := inject.NewDevice()
	dev.RespondFunc = inject.NewReceiverResponder(m8Version)
	opts := DefaultOptions()
	opts.ForceProtocolVersion = "14.00"
	d := newTestDriver(t, dev, logging.NewTestLogger(t), opts)

	version, ok := d.ProtocolVersion()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, version, test.ShouldEqual, "14.00")

	var subscribed []uint8
	for _, msg := range dev.Written() {
		test.That(t, msg.Name(), test.ShouldNotEqual, "UBX-MON-VER")
		if set, ok := msg.(*ubx.CfgMsg); ok && set.MsgClass == ubx.ClassNAV {
			subscribed = append(subscribed, set.MsgID)
		}
	}
	test.That(t, subscribed, test.ShouldResemble,
		[]uint8{ubx.IDNavTimeUTC, ubx.IDNavStatus, ubx.IDNavPosllh, ubx.IDNavSvInfo, ubx.IDNavSol})
}

func TestStartupHardwareReset(t *testing.T) {
	dev := inject.NewDevice()
	dev.RespondFunc = inject.NewReceiverResponder(m8Version)
	opts := DefaultOptions()
	opts.HardwareReset = true
	opts.ResetMode = ubx.ResetColdStart
	newTestDriver(t, dev, logging.NewTestLogger(t), opts)

	written := dev.Written()
	rst, ok := written[0].(*ubx.CfgRst)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rst.Action, test.ShouldEqual, ubx.ResetActionHardware)
	test.That(t, rst.NavBbrMask, test.ShouldEqual, 0xFFFF)
	test.That(t, written[1].Name(), test.ShouldEqual, "UBX-MON-VER")
}

func TestNakIsNotFatal(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	dev := inject.NewDevice()
	healthy := inject.NewReceiverResponder(m8Version)
	dev.RespondFunc = func(msg ubx.Message) []ubx.Message {
		if set, ok := msg.(*ubx.CfgMsg); ok && set.MsgClass == ubx.ClassNAV {
			return []ubx.Message{&ubx.AckNak{ClassID: ubx.ClassCFG, MsgID: ubx.IDCfgMsg}}
		}
		return healthy(msg)
	}
	newTestDriver(t, dev, logger, DefaultOptions())

	test.That(t, observed.FilterMessage("receiver rejected command").Len(), test.ShouldEqual,
		len(subscriptionPlan("18.00")))
}

func TestCommandsAreSerialized(t *testing.T) {
	dev := inject.NewDevice()
	dev.RespondFunc = inject.NewReceiverResponder(nil)
	d := newManualDriver(t, dev)

	const callers = 10
	var wg sync.WaitGroup
	replies := make([]ubx.Message, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i], errs[i] = d.SendMessage(context.Background(), ubx.PollCfgMsg(ubx.ClassNAV, uint8(i)), false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		test.That(t, errs[i], test.ShouldBeNil)
		reply, ok := replies[i].(*ubx.CfgMsg)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, reply.MsgID, test.ShouldEqual, i)
	}
}

func TestCommandTimeout(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	mock := clock.NewMock()
	dev := inject.NewDevice()
	d := newTestDriver(t, dev, logger, Options{Clock: mock})
	test.That(t, d.Run(), test.ShouldBeNil)

	type result struct {
		msg ubx.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := d.SendMessage(context.Background(), ubx.PollMonVer(), false)
		done <- result{msg, err}
	}()

	var res result
	for waiting := true; waiting; {
		select {
		case res = <-done:
			waiting = false
		default:
			mock.Add(commandTimeout)
		}
	}
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.msg, test.ShouldBeNil)
	test.That(t, observed.FilterMessage("command timed out").Len(), test.ShouldEqual, 1)

	// The command mutex was released.
	test.That(t, d.SendRawMessage(ubx.PollMonVer()), test.ShouldBeNil)
	_, err := d.SendMessage(context.Background(), ubx.PollMonVer(), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Written(), test.ShouldHaveLength, 3)
}

func TestCommandContextCanceled(t *testing.T) {
	dev := inject.NewDevice()
	d := newManualDriver(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.SendMessage(ctx, ubx.PollMonVer(), false)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestRunAndClose(t *testing.T) {
	dev := inject.NewDevice()
	dev.RespondFunc = inject.NewReceiverResponder(m8Version)
	d := newTestDriver(t, dev, logging.NewTestLogger(t), Options{})

	_, err := d.SendMessage(context.Background(), ubx.PollMonVer(), false)
	test.That(t, err, test.ShouldEqual, ErrNotRunning)

	test.That(t, d.Run(), test.ShouldBeNil)
	test.That(t, d.Run(), test.ShouldBeNil)
	version, err := d.DetectDeviceVersion(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, version, test.ShouldEqual, "18.00")

	test.That(t, d.Close(), test.ShouldBeNil)
	test.That(t, d.Close(), test.ShouldBeNil)
	_, err = d.SendMessage(context.Background(), ubx.PollMonVer(), false)
	test.That(t, err, test.ShouldEqual, ErrNotRunning)

	// Nothing is consumed once the loop is closed.
	test.That(t, dev.Feed(testPvt(), &ubx.NavSol{}), test.ShouldBeNil)
	time.Sleep(50 * time.Millisecond)
	_, ok := d.LatestMessage("UBX-NAV-SOL")
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = d.Location()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, dev.ResetInputBuffer(), test.ShouldBeNil)

	test.That(t, d.Run(), test.ShouldBeNil)
	reply, err := d.SendMessage(context.Background(), ubx.PollMonVer(), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reply, test.ShouldResemble, m8Version)
}

func TestLinkFailureStopsLoop(t *testing.T) {
	dev := inject.NewDevice()
	d := newManualDriver(t, dev)

	test.That(t, dev.Close(), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, d.Err(), test.ShouldEqual, io.ErrClosedPipe)
	})
	_, err := d.SendMessage(context.Background(), ubx.PollMonVer(), false)
	test.That(t, err, test.ShouldEqual, io.ErrClosedPipe)

	// Run replaces the dead loop without a Close first.
	dev.Reopen()
	dev.RespondFunc = inject.NewReceiverResponder(m8Version)
	test.That(t, d.Run(), test.ShouldBeNil)
	test.That(t, d.Err(), test.ShouldBeNil)
	reply, err := d.SendMessage(context.Background(), ubx.PollMonVer(), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reply, test.ShouldResemble, m8Version)
}

func TestReset(t *testing.T) {
	dev := inject.NewDevice()
	d := newManualDriver(t, dev)

	test.That(t, d.Reset(context.Background(), ubx.ResetWarmStart), test.ShouldBeNil)
	written := dev.Written()
	test.That(t, written, test.ShouldHaveLength, 1)
	rst, ok := written[0].(*ubx.CfgRst)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rst.Action, test.ShouldEqual, ubx.ResetActionSoftware)
	test.That(t, rst.NavBbrMask, test.ShouldEqual, 0x0001)
}

func TestSendRawBytes(t *testing.T) {
	dev := inject.NewDevice()
	d := newManualDriver(t, dev)

	frame, err := ubx.Encode(&ubx.CfgMsg{MsgClass: ubx.ClassNAV, MsgID: ubx.IDNavPvt, Rates: [6]uint8{1}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.SendRawBytes(frame), test.ShouldBeNil)
	test.That(t, writtenNames(dev), test.ShouldResemble, []string{"UBX-CFG-MSG"})
}

func TestLatestMessageCache(t *testing.T) {
	dev := inject.NewDevice()
	d := newManualDriver(t, dev)

	_, ok := d.LatestMessage("UBX-NAV-SOL")
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, dev.Feed(
		&ubx.NavSol{GpsFix: ubx.Fix2D, NumSV: 4},
		&ubx.Unknown{MsgClass: 0x0D, MsgID: 0x01, Payload: []byte{1, 2}},
		&ubx.NavSol{GpsFix: ubx.Fix3D, NumSV: 9},
	), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		msg, ok := d.LatestMessage("UBX-NAV-SOL")
		test.That(tb, ok, test.ShouldBeTrue)
		test.That(tb, msg.(*ubx.NavSol).NumSV, test.ShouldEqual, 9)
	})
	test.That(t, d.MessageTypes(), test.ShouldResemble, []string{"UBX-0D-01", "UBX-NAV-SOL"})
	test.That(t, d.LatestMessages(), test.ShouldHaveLength, 2)
}

func TestDeviceTextIsLogged(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	dev := inject.NewDevice()
	d := newTestDriver(t, dev, logger, Options{})
	test.That(t, d.Run(), test.ShouldBeNil)

	test.That(t, dev.Feed(
		&ubx.Inf{Severity: ubx.InfWarning, Text: "antenna open"},
		&ubx.Inf{Severity: ubx.InfDebug, Text: "tracking"},
	), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, observed.FilterMessage("tracking").Len(), test.ShouldEqual, 1)
	})
	warnings := observed.FilterMessage("antenna open").All()
	test.That(t, warnings, test.ShouldHaveLength, 1)
	test.That(t, warnings[0].LoggerName, test.ShouldEndWith, "device")
}
