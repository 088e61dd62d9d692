package ubx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// DecodeError reports a frame that could not be decoded: missing sync bytes, a bad checksum, an
// oversized length or a payload that does not fit its message type. It is recoverable; the
// stream can be resynchronized by skipping ahead.
type DecodeError struct {
	Class  byte
	ID     byte
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Class == 0 && e.ID == 0 {
		return "ubx decode: " + e.Reason
	}
	return fmt.Sprintf("ubx decode %s: %s", TypeName(e.Class, e.ID), e.Reason)
}

// Peeker gives read-ahead access to a byte stream without consuming it.
type Peeker interface {
	// Peek returns the next n bytes. Errors, including timeouts, are returned as is.
	Peek(n int) ([]byte, error)
}

// DecodeFrame decodes the frame at the head of p and returns it along with the number of bytes it
// occupies. Nothing is consumed from p; the caller skips the returned length on success. Errors
// from p are returned unwrapped, while malformed frames produce a *DecodeError.
func DecodeFrame(p Peeker) (Message, int, error) {
	head, err := p.Peek(headerLength)
	if err != nil {
		return nil, 0, err
	}
	if head[0] != Sync1 || head[1] != Sync2 {
		return nil, 0, &DecodeError{Reason: fmt.Sprintf("bad sync bytes %#02x %#02x", head[0], head[1])}
	}
	length := int(binary.LittleEndian.Uint16(head[4:6]))
	if length > MaxPayloadLength {
		return nil, 0, &DecodeError{Class: head[2], ID: head[3], Reason: fmt.Sprintf("length %d too large", length)}
	}

	total := headerLength + length + checksumLength
	frame, err := p.Peek(total)
	if err != nil {
		return nil, 0, err
	}
	msg, err := Decode(frame)
	if err != nil {
		return nil, 0, err
	}
	return msg, total, nil
}

// Decode decodes exactly one complete frame.
func Decode(frame []byte) (Message, error) {
	if len(frame) < headerLength+checksumLength {
		return nil, &DecodeError{Reason: fmt.Sprintf("frame of %d bytes is too short", len(frame))}
	}
	if frame[0] != Sync1 || frame[1] != Sync2 {
		return nil, &DecodeError{Reason: fmt.Sprintf("bad sync bytes %#02x %#02x", frame[0], frame[1])}
	}
	class, id := frame[2], frame[3]
	length := int(binary.LittleEndian.Uint16(frame[4:6]))
	if len(frame) != headerLength+length+checksumLength {
		return nil, &DecodeError{
			Class: class, ID: id,
			Reason: fmt.Sprintf("length field %d does not match frame of %d bytes", length, len(frame)),
		}
	}
	ckA, ckB := Checksum(frame[2 : headerLength+length])
	if ckA != frame[len(frame)-2] || ckB != frame[len(frame)-1] {
		return nil, &DecodeError{Class: class, ID: id, Reason: "checksum mismatch"}
	}

	payload := make([]byte, length)
	copy(payload, frame[headerLength:headerLength+length])
	return decodePayload(class, id, payload)
}

// pollLengths is the payload length of a poll request for each pollable kind.
var pollLengths = map[kind]int{
	kindOf(ClassCFG, IDCfgMsg):     2,
	kindOf(ClassCFG, IDCfgInf):     1,
	kindOf(ClassMON, IDMonVer):     0,
	kindOf(ClassNAV, IDNavPvt):     0,
	kindOf(ClassNAV, IDNavStatus):  0,
	kindOf(ClassNAV, IDNavPosllh):  0,
	kindOf(ClassNAV, IDNavSol):     0,
	kindOf(ClassNAV, IDNavTimeUTC): 0,
	kindOf(ClassNAV, IDNavSvInfo):  0,
	kindOf(ClassNAV, IDNavSat):     0,
}

func decodePayload(class, id byte, payload []byte) (Message, error) {
	k := kindOf(class, id)
	if n, ok := pollLengths[k]; ok && n == len(payload) {
		return &Poll{MsgClass: class, MsgID: id, Payload: payload}, nil
	}

	var msg Message
	var err error
	switch k {
	case kindOf(ClassACK, IDAckAck):
		m := &AckAck{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassACK, IDAckNak):
		m := &AckNak{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassCFG, IDCfgMsg):
		m := &CfgMsg{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassCFG, IDCfgInf):
		msg, err = decodeCfgInf(payload)
	case kindOf(ClassCFG, IDCfgRst):
		m := &CfgRst{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassMON, IDMonVer):
		msg, err = decodeMonVer(payload)
	case kindOf(ClassNAV, IDNavPvt):
		m := &NavPvt{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassNAV, IDNavStatus):
		m := &NavStatus{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassNAV, IDNavPosllh):
		m := &NavPosllh{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassNAV, IDNavSol):
		m := &NavSol{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassNAV, IDNavTimeUTC):
		m := &NavTimeUTC{}
		msg, err = m, unmarshalFixed(payload, m)
	case kindOf(ClassNAV, IDNavSvInfo):
		msg, err = decodeNavSvInfo(payload)
	case kindOf(ClassNAV, IDNavSat):
		msg, err = decodeNavSat(payload)
	case kindOf(ClassINF, byte(InfError)), kindOf(ClassINF, byte(InfWarning)),
		kindOf(ClassINF, byte(InfNotice)), kindOf(ClassINF, byte(InfDebug)):
		msg = &Inf{Severity: InfSeverity(id), Text: trimNul(payload)}
	default:
		msg = &Unknown{MsgClass: class, MsgID: id, Payload: payload}
	}
	if err != nil {
		return nil, &DecodeError{Class: class, ID: id, Reason: err.Error()}
	}
	return msg, nil
}

// unmarshalFixed reads a fixed-layout payload. Trailing bytes are tolerated since newer firmware
// versions append fields.
func unmarshalFixed(payload []byte, into interface{}) error {
	size := binary.Size(into)
	if len(payload) < size {
		return errors.Errorf("payload of %d bytes is shorter than %d", len(payload), size)
	}
	return binary.Read(bytes.NewReader(payload[:size]), binary.LittleEndian, into)
}

func decodeCfgInf(payload []byte) (*CfgInf, error) {
	blockSize := binary.Size(InfBlock{})
	if len(payload)%blockSize != 0 {
		return nil, errors.Errorf("payload of %d bytes is not a multiple of %d", len(payload), blockSize)
	}
	blocks := make([]InfBlock, len(payload)/blockSize)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, blocks); err != nil {
		return nil, err
	}
	return &CfgInf{Blocks: blocks}, nil
}

func decodeMonVer(payload []byte) (*MonVer, error) {
	fixed := monVerSwLength + monVerHwLength
	if len(payload) < fixed || (len(payload)-fixed)%monVerExtLength != 0 {
		return nil, errors.Errorf("payload of %d bytes is not %d plus a multiple of %d", len(payload), fixed, monVerExtLength)
	}
	m := &MonVer{
		SwVersion: trimNul(payload[:monVerSwLength]),
		HwVersion: trimNul(payload[monVerSwLength:fixed]),
	}
	for off := fixed; off < len(payload); off += monVerExtLength {
		m.Extensions = append(m.Extensions, trimNul(payload[off:off+monVerExtLength]))
	}
	return m, nil
}

func decodeNavSvInfo(payload []byte) (*NavSvInfo, error) {
	var header navSvInfoHeader
	if err := unmarshalFixed(payload, &header); err != nil {
		return nil, err
	}
	channelSize := binary.Size(NavSvInfoChannel{})
	headerSize := binary.Size(header)
	if want := headerSize + int(header.NumCh)*channelSize; len(payload) != want {
		return nil, errors.Errorf("%d channels need %d bytes, got %d", header.NumCh, want, len(payload))
	}
	channels := make([]NavSvInfoChannel, header.NumCh)
	if err := binary.Read(bytes.NewReader(payload[headerSize:]), binary.LittleEndian, channels); err != nil {
		return nil, err
	}
	return &NavSvInfo{ITOW: header.ITOW, GlobalFlags: header.GlobalFlags, Channels: channels}, nil
}

func decodeNavSat(payload []byte) (*NavSat, error) {
	var header navSatHeader
	if err := unmarshalFixed(payload, &header); err != nil {
		return nil, err
	}
	svSize := binary.Size(NavSatInfo{})
	headerSize := binary.Size(header)
	if want := headerSize + int(header.NumSvs)*svSize; len(payload) != want {
		return nil, errors.Errorf("%d satellites need %d bytes, got %d", header.NumSvs, want, len(payload))
	}
	svs := make([]NavSatInfo, header.NumSvs)
	if err := binary.Read(bytes.NewReader(payload[headerSize:]), binary.LittleEndian, svs); err != nil {
		return nil, err
	}
	return &NavSat{ITOW: header.ITOW, Version: header.Version, Svs: svs}, nil
}
