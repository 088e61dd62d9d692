// Package ubx implements the u-blox UBX binary protocol: frame decoding with sync and checksum
// validation, encoding, and typed values for the message kinds the driver consumes.
//
// A frame is laid out as
//
//	0xB5 0x62 | class | id | length (u16 LE) | payload | ck_a ck_b
//
// where the 8-bit Fletcher checksum covers class through the end of the payload.
package ubx

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Frame constants.
const (
	Sync1 = 0xB5
	Sync2 = 0x62

	headerLength   = 6
	checksumLength = 2

	// MaxPayloadLength bounds the length field accepted while decoding. Anything larger is taken
	// to be line noise rather than a frame worth waiting for.
	MaxPayloadLength = 4096
)

// Message classes.
const (
	ClassNAV = 0x01
	ClassINF = 0x04
	ClassACK = 0x05
	ClassCFG = 0x06
	ClassMON = 0x0A

	// ClassNMEA is the class NMEA sentences are configured under with CFG-MSG.
	ClassNMEA = 0xF0
)

// Message ids, grouped by class.
const (
	IDNavPosllh  = 0x02
	IDNavStatus  = 0x03
	IDNavSol     = 0x06
	IDNavPvt     = 0x07
	IDNavTimeUTC = 0x21
	IDNavSvInfo  = 0x30
	IDNavSat     = 0x35

	IDAckNak = 0x00
	IDAckAck = 0x01

	IDCfgMsg = 0x01
	IDCfgInf = 0x02
	IDCfgRst = 0x04

	IDMonVer = 0x04
)

// Message is a decoded UBX message. The set of implementations is closed: every kind the codec
// understands has its own type and anything else decodes to Unknown.
type Message interface {
	Class() byte
	ID() byte
	// Name is the stable type name, e.g. "UBX-NAV-PVT".
	Name() string

	marshalPayload() ([]byte, error)
}

type kind uint16

func kindOf(class, id byte) kind {
	return kind(uint16(class)<<8 | uint16(id))
}

var kindNames = map[kind]string{
	kindOf(ClassNAV, IDNavPosllh):  "UBX-NAV-POSLLH",
	kindOf(ClassNAV, IDNavStatus):  "UBX-NAV-STATUS",
	kindOf(ClassNAV, IDNavSol):     "UBX-NAV-SOL",
	kindOf(ClassNAV, IDNavPvt):     "UBX-NAV-PVT",
	kindOf(ClassNAV, IDNavTimeUTC): "UBX-NAV-TIMEUTC",
	kindOf(ClassNAV, IDNavSvInfo):  "UBX-NAV-SVINFO",
	kindOf(ClassNAV, IDNavSat):     "UBX-NAV-SAT",

	kindOf(ClassINF, byte(InfError)):   "UBX-INF-ERROR",
	kindOf(ClassINF, byte(InfWarning)): "UBX-INF-WARNING",
	kindOf(ClassINF, byte(InfNotice)):  "UBX-INF-NOTICE",
	kindOf(ClassINF, byte(InfDebug)):   "UBX-INF-DEBUG",

	kindOf(ClassACK, IDAckNak): "UBX-ACK-NAK",
	kindOf(ClassACK, IDAckAck): "UBX-ACK-ACK",

	kindOf(ClassCFG, IDCfgMsg): "UBX-CFG-MSG",
	kindOf(ClassCFG, IDCfgInf): "UBX-CFG-INF",
	kindOf(ClassCFG, IDCfgRst): "UBX-CFG-RST",

	kindOf(ClassMON, IDMonVer): "UBX-MON-VER",
}

// TypeName returns the stable type name for a class/id pair. Pairs the codec does not know are
// named by their hex values, e.g. "UBX-0D-01".
func TypeName(class, id byte) string {
	if name, ok := kindNames[kindOf(class, id)]; ok {
		return name
	}
	return fmt.Sprintf("UBX-%02X-%02X", class, id)
}

// Checksum computes the 8-bit Fletcher checksum UBX uses over class, id, length and payload.
func Checksum(data []byte) (ckA, ckB byte) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// Encode returns the full wire frame for a message.
func Encode(m Message) ([]byte, error) {
	payload, err := m.marshalPayload()
	if err != nil {
		return nil, err
	}
	return EncodeFrame(m.Class(), m.ID(), payload)
}

// EncodeFrame frames an arbitrary payload.
func EncodeFrame(class, id byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return nil, errors.Errorf("%s payload of %d bytes exceeds %d", TypeName(class, id), len(payload), MaxPayloadLength)
	}
	buf := make([]byte, 0, headerLength+len(payload)+checksumLength)
	buf = append(buf, Sync1, Sync2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	ckA, ckB := Checksum(buf[2:])
	return append(buf, ckA, ckB), nil
}
