package mode

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownMode = errors.New("mode: unknown run mode")

// RunMode selects which loop the process drives.
type RunMode uint8

const (
	ModeUnknown RunMode = iota
	// ModeMining only deposits and settles.
	ModeMining
	// ModeClaim only drains outstanding reward claims.
	ModeClaim
	// ModeExit only withdraws or cancels pending deposits.
	ModeExit
	// ModeInteractive prompts for one of the other modes.
	ModeInteractive
)

func (m RunMode) String() string {
	switch m {
	case ModeMining:
		return "mining"
	case ModeClaim:
		return "claim"
	case ModeExit:
		return "exit"
	case ModeInteractive:
		return "interactive"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Parse maps a user-supplied mode name to a RunMode.
func Parse(s string) (RunMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mining", "mine":
		return ModeMining, nil
	case "claim":
		return ModeClaim, nil
	case "exit", "withdraw":
		return ModeExit, nil
	case "interactive", "":
		return ModeInteractive, nil
	default:
		return ModeUnknown, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}
