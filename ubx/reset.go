package ubx

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ResetMode selects how much navigation state a reset clears.
type ResetMode int

// Reset modes, from least to most state cleared.
const (
	ResetHotStart ResetMode = iota
	ResetWarmStart
	ResetColdStart
)

// CFG-RST navBbrMask values for each reset mode.
const (
	navBbrHot  = 0x0000
	navBbrWarm = 0x0001
	navBbrCold = 0xFFFF
)

func (m ResetMode) String() string {
	switch m {
	case ResetHotStart:
		return "hot"
	case ResetWarmStart:
		return "warm"
	case ResetColdStart:
		return "cold"
	default:
		return fmt.Sprintf("ResetMode(%d)", int(m))
	}
}

// ParseResetMode parses "hot", "warm" or "cold".
func ParseResetMode(s string) (ResetMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hot", "":
		return ResetHotStart, nil
	case "warm":
		return ResetWarmStart, nil
	case "cold":
		return ResetColdStart, nil
	}
	return ResetHotStart, errors.Errorf("unknown reset mode %q", s)
}

// NavBbrMask returns the battery-backed RAM sections cleared by this mode.
func (m ResetMode) NavBbrMask() uint16 {
	switch m {
	case ResetWarmStart:
		return navBbrWarm
	case ResetColdStart:
		return navBbrCold
	default:
		return navBbrHot
	}
}

// NewCfgRst builds a reset command for the given mode and CFG-RST action.
func NewCfgRst(mode ResetMode, action uint8) *CfgRst {
	return &CfgRst{NavBbrMask: mode.NavBbrMask(), Action: action}
}
