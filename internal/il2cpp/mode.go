package il2cpp

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how the registration roots are found.
type Mode int

// Numeric values match the historical command-line codes.
const (
	ModeManual Mode = iota
	ModeAuto
	ModeAdvanced
	ModePlus
	ModeSymbol
)

var modeNames = [...]string{"manual", "auto", "advanced", "plus", "symbol"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode accepts a mode name or its numeric code 0-4.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range modeNames {
		if s == n {
			return Mode(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(modeNames) {
		return Mode(n), nil
	}
	return ModePlus, fmt.Errorf("il2cpp: unknown mode %q", s)
}
