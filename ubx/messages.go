package ubx

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// AckAck acknowledges a CFG message identified by ClassID/MsgID.
type AckAck struct {
	ClassID uint8
	MsgID   uint8
}

// AckNak rejects a CFG message identified by ClassID/MsgID.
type AckNak struct {
	ClassID uint8
	MsgID   uint8
}

// CfgMsg sets or reports the output rate of one message type on each of the six I/O ports.
type CfgMsg struct {
	MsgClass uint8
	MsgID    uint8
	// Rates is indexed by port: 0 I2C (DDC), 1 UART1, 2 UART2, 3 USB, 4 SPI, 5 reserved.
	Rates [6]uint8
}

// Port indices into CfgMsg.Rates and InfBlock.InfMsgMask.
const (
	PortI2C   = 0
	PortUART1 = 1
	PortUART2 = 2
	PortUSB   = 3
	PortSPI   = 4
)

// InfBlock is the per-protocol section of a CFG-INF message.
type InfBlock struct {
	ProtocolID uint8
	_          [3]uint8
	// InfMsgMask is a bitmask of enabled INF severities per port, see the InfMask constants.
	InfMsgMask [6]uint8
}

// Protocol ids used in InfBlock.ProtocolID.
const (
	ProtocolUBX  = 0
	ProtocolNMEA = 1
)

// Bits of InfBlock.InfMsgMask.
const (
	InfMaskError   = 0x01
	InfMaskWarning = 0x02
	InfMaskNotice  = 0x04
	InfMaskTest    = 0x08
	InfMaskDebug   = 0x10
)

// CfgInf configures which INF messages are output, per protocol and port.
type CfgInf struct {
	Blocks []InfBlock
}

// CfgRst resets the receiver. NavBbrMask selects which battery-backed data is cleared.
type CfgRst struct {
	NavBbrMask uint16
	Action     uint8
	_          uint8
}

// CFG-RST resetMode values.
const (
	ResetActionHardware     = 0x00
	ResetActionSoftware     = 0x01
	ResetActionSoftwareGNSS = 0x02
)

// MonVer reports receiver and software versions. Extensions carry strings such as
// "PROTVER=18.00" or "FWVER=SPG 3.01".
type MonVer struct {
	SwVersion  string
	HwVersion  string
	Extensions []string
}

const (
	monVerSwLength  = 30
	monVerHwLength  = 10
	monVerExtLength = 30
)

// NavPvt is the combined position, velocity and time solution.
type NavPvt struct {
	ITOW    uint32
	Year    uint16
	Month   uint8
	Day     uint8
	Hour    uint8
	Min     uint8
	Sec     uint8
	Valid   uint8
	TAcc    uint32
	Nano    int32
	FixType uint8
	Flags   uint8
	Flags2  uint8
	NumSV   uint8
	// Lon and Lat are in 1e-7 degrees.
	Lon int32
	Lat int32
	// Height, HMSL, HAcc and VAcc are in millimeters.
	Height int32
	HMSL   int32
	HAcc   uint32
	VAcc   uint32
	// VelN, VelE, VelD and GSpeed are in mm/s.
	VelN    int32
	VelE    int32
	VelD    int32
	GSpeed  int32
	HeadMot int32
	SAcc    uint32
	HeadAcc uint32
	PDOP    uint16
	Flags3  uint16
	_       [4]uint8
	HeadVeh int32
	MagDec  int16
	MagAcc  uint16
}

// NavPvt.Valid and NavPvt.Flags bits.
const (
	NavPvtValidDate = 0x01
	NavPvtValidTime = 0x02
	NavPvtFullyRes  = 0x04

	NavPvtGnssFixOK = 0x01
)

// GnssFixOK reports whether the receiver considers the fix valid.
func (m *NavPvt) GnssFixOK() bool {
	return m.Flags&NavPvtGnssFixOK != 0
}

// NavStatus reports the receiver navigation status.
type NavStatus struct {
	ITOW    uint32
	GpsFix  uint8
	Flags   uint8
	FixStat uint8
	Flags2  uint8
	// TTFF and Msss are in milliseconds.
	TTFF uint32
	Msss uint32
}

// Fix types reported by NavStatus.GpsFix, NavSol.GpsFix and NavPvt.FixType.
const (
	FixNone         = 0x00
	FixDeadReckon   = 0x01
	Fix2D           = 0x02
	Fix3D           = 0x03
	FixGPSDeadRecon = 0x04
	FixTimeOnly     = 0x05
)

// NavPosllh is the geodetic position solution of receivers without NAV-PVT.
type NavPosllh struct {
	ITOW   uint32
	Lon    int32
	Lat    int32
	Height int32
	HMSL   int32
	HAcc   uint32
	VAcc   uint32
}

// NavSol is the navigation solution information of older receivers.
type NavSol struct {
	ITOW    uint32
	FTOW    int32
	Week    int16
	GpsFix  uint8
	Flags   uint8
	EcefX   int32
	EcefY   int32
	EcefZ   int32
	PAcc    uint32
	EcefVX  int32
	EcefVY  int32
	EcefVZ  int32
	SAcc    uint32
	PDOP    uint16
	_       uint8
	NumSV   uint8
	_       uint32
}

// NavTimeUTC is the UTC time solution.
type NavTimeUTC struct {
	ITOW  uint32
	TAcc  uint32
	Nano  int32
	Year  uint16
	Month uint8
	Day   uint8
	Hour  uint8
	Min   uint8
	Sec   uint8
	Valid uint8
}

// NavSvInfoChannel is one tracking channel of NAV-SVINFO.
type NavSvInfoChannel struct {
	Chn     uint8
	SvID    uint8
	Flags   uint8
	Quality uint8
	CNO     uint8
	Elev    int8
	Azim    int16
	PrRes   int32
}

// NavSvInfo is the legacy satellite tracking report.
type NavSvInfo struct {
	ITOW        uint32
	GlobalFlags uint8
	Channels    []NavSvInfoChannel
}

type navSvInfoHeader struct {
	ITOW        uint32
	NumCh       uint8
	GlobalFlags uint8
	_           uint16
}

// CNOs returns the carrier-to-noise ratio of every channel, in dBHz.
func (m *NavSvInfo) CNOs() []uint8 {
	cnos := make([]uint8, 0, len(m.Channels))
	for _, ch := range m.Channels {
		cnos = append(cnos, ch.CNO)
	}
	return cnos
}

// NavSatInfo is one satellite of NAV-SAT.
type NavSatInfo struct {
	GnssID uint8
	SvID   uint8
	CNO    uint8
	Elev   int8
	Azim   int16
	PrRes  int16
	Flags  uint32
}

// NavSat is the satellite tracking report of protocol 15 and later.
type NavSat struct {
	ITOW    uint32
	Version uint8
	Svs     []NavSatInfo
}

type navSatHeader struct {
	ITOW    uint32
	Version uint8
	NumSvs  uint8
	_       uint16
}

// CNOs returns the carrier-to-noise ratio of every satellite, in dBHz.
func (m *NavSat) CNOs() []uint8 {
	cnos := make([]uint8, 0, len(m.Svs))
	for _, sv := range m.Svs {
		cnos = append(cnos, sv.CNO)
	}
	return cnos
}

// InfSeverity is the id of an INF message.
type InfSeverity uint8

// INF message ids.
const (
	InfError   InfSeverity = 0x00
	InfWarning InfSeverity = 0x01
	InfNotice  InfSeverity = 0x02
	InfDebug   InfSeverity = 0x04
)

// Inf is a printf-style text message emitted by the receiver.
type Inf struct {
	Severity InfSeverity
	Text     string
}

// Unknown holds any frame whose class/id the codec does not model.
type Unknown struct {
	MsgClass uint8
	MsgID    uint8
	Payload  []byte
}

// Poll requests the current value of a message type. The payload selects what to poll, e.g. the
// message class and id for CFG-MSG, and is empty for most NAV and MON messages.
type Poll struct {
	MsgClass uint8
	MsgID    uint8
	Payload  []byte
}

// PollCfgMsg polls the output rates of msgClass/msgID.
func PollCfgMsg(msgClass, msgID uint8) *Poll {
	return &Poll{MsgClass: ClassCFG, MsgID: IDCfgMsg, Payload: []byte{msgClass, msgID}}
}

// PollCfgInf polls the INF configuration of one protocol.
func PollCfgInf(protocolID uint8) *Poll {
	return &Poll{MsgClass: ClassCFG, MsgID: IDCfgInf, Payload: []byte{protocolID}}
}

// PollMonVer polls the receiver version.
func PollMonVer() *Poll {
	return &Poll{MsgClass: ClassMON, MsgID: IDMonVer}
}

func (m *AckAck) Class() byte     { return ClassACK }
func (m *AckNak) Class() byte     { return ClassACK }
func (m *CfgMsg) Class() byte     { return ClassCFG }
func (m *CfgInf) Class() byte     { return ClassCFG }
func (m *CfgRst) Class() byte     { return ClassCFG }
func (m *MonVer) Class() byte     { return ClassMON }
func (m *NavPvt) Class() byte     { return ClassNAV }
func (m *NavStatus) Class() byte  { return ClassNAV }
func (m *NavPosllh) Class() byte  { return ClassNAV }
func (m *NavSol) Class() byte     { return ClassNAV }
func (m *NavTimeUTC) Class() byte { return ClassNAV }
func (m *NavSvInfo) Class() byte  { return ClassNAV }
func (m *NavSat) Class() byte     { return ClassNAV }
func (m *Inf) Class() byte        { return ClassINF }
func (m *Unknown) Class() byte    { return m.MsgClass }
func (m *Poll) Class() byte       { return m.MsgClass }

func (m *AckAck) ID() byte     { return IDAckAck }
func (m *AckNak) ID() byte     { return IDAckNak }
func (m *CfgMsg) ID() byte     { return IDCfgMsg }
func (m *CfgInf) ID() byte     { return IDCfgInf }
func (m *CfgRst) ID() byte     { return IDCfgRst }
func (m *MonVer) ID() byte     { return IDMonVer }
func (m *NavPvt) ID() byte     { return IDNavPvt }
func (m *NavStatus) ID() byte  { return IDNavStatus }
func (m *NavPosllh) ID() byte  { return IDNavPosllh }
func (m *NavSol) ID() byte     { return IDNavSol }
func (m *NavTimeUTC) ID() byte { return IDNavTimeUTC }
func (m *NavSvInfo) ID() byte  { return IDNavSvInfo }
func (m *NavSat) ID() byte     { return IDNavSat }
func (m *Inf) ID() byte        { return byte(m.Severity) }
func (m *Unknown) ID() byte    { return m.MsgID }
func (m *Poll) ID() byte       { return m.MsgID }

func (m *AckAck) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *AckNak) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *CfgMsg) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *CfgInf) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *CfgRst) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *MonVer) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *NavPvt) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *NavStatus) Name() string  { return TypeName(m.Class(), m.ID()) }
func (m *NavPosllh) Name() string  { return TypeName(m.Class(), m.ID()) }
func (m *NavSol) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *NavTimeUTC) Name() string { return TypeName(m.Class(), m.ID()) }
func (m *NavSvInfo) Name() string  { return TypeName(m.Class(), m.ID()) }
func (m *NavSat) Name() string     { return TypeName(m.Class(), m.ID()) }
func (m *Inf) Name() string        { return TypeName(m.Class(), m.ID()) }
func (m *Unknown) Name() string    { return TypeName(m.Class(), m.ID()) }
func (m *Poll) Name() string       { return TypeName(m.Class(), m.ID()) }

func (m *AckAck) marshalPayload() ([]byte, error)     { return marshalFixed(m) }
func (m *AckNak) marshalPayload() ([]byte, error)     { return marshalFixed(m) }
func (m *CfgMsg) marshalPayload() ([]byte, error)     { return marshalFixed(m) }
func (m *CfgRst) marshalPayload() ([]byte, error)     { return marshalFixed(m) }
func (m *NavPvt) marshalPayload() ([]byte, error)     { return marshalFixed(m) }
func (m *NavStatus) marshalPayload() ([]byte, error)  { return marshalFixed(m) }
func (m *NavPosllh) marshalPayload() ([]byte, error)  { return marshalFixed(m) }
func (m *NavSol) marshalPayload() ([]byte, error)     { return marshalFixed(m) }
func (m *NavTimeUTC) marshalPayload() ([]byte, error) { return marshalFixed(m) }
func (m *Unknown) marshalPayload() ([]byte, error)    { return m.Payload, nil }
func (m *Poll) marshalPayload() ([]byte, error)       { return m.Payload, nil }
func (m *Inf) marshalPayload() ([]byte, error)        { return []byte(m.Text), nil }

func (m *CfgInf) marshalPayload() ([]byte, error) {
	return marshalFixed(m.Blocks)
}

func (m *MonVer) marshalPayload() ([]byte, error) {
	buf := make([]byte, 0, monVerSwLength+monVerHwLength+monVerExtLength*len(m.Extensions))
	buf = appendPadded(buf, m.SwVersion, monVerSwLength)
	buf = appendPadded(buf, m.HwVersion, monVerHwLength)
	for _, ext := range m.Extensions {
		buf = appendPadded(buf, ext, monVerExtLength)
	}
	return buf, nil
}

func (m *NavSvInfo) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	if len(m.Channels) > maxRepeatedBlocks {
		return nil, errors.Errorf("%d channels exceed %d", len(m.Channels), maxRepeatedBlocks)
	}
	header := navSvInfoHeader{ITOW: m.ITOW, NumCh: uint8(len(m.Channels)), GlobalFlags: m.GlobalFlags}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.Channels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *NavSat) marshalPayload() ([]byte, error) {
	var buf bytes.Buffer
	if len(m.Svs) > maxRepeatedBlocks {
		return nil, errors.Errorf("%d satellites exceed %d", len(m.Svs), maxRepeatedBlocks)
	}
	header := navSatHeader{ITOW: m.ITOW, Version: m.Version, NumSvs: uint8(len(m.Svs))}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.Svs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// maxRepeatedBlocks is the most repeated blocks a one-byte count field can describe.
const maxRepeatedBlocks = math.MaxUint8

func marshalFixed(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendPadded(buf []byte, s string, width int) []byte {
	field := make([]byte, width)
	copy(field, s)
	return append(buf, field...)
}

func trimNul(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
