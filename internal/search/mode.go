package search

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how an expression is matched.
type Mode int

const (
	// Substr matches documents containing the expression.
	Substr Mode = iota
	// Prefix matches documents starting with the expression.
	Prefix
	// Suffix matches documents ending with the expression.
	Suffix
	// Full matches documents equal to the expression.
	Full
	// Token matches documents containing every token of the expression.
	Token
	// TokenPrefix matches documents with a token starting with the expression.
	TokenPrefix
	// TokenSuffix matches documents with a token ending with the expression.
	TokenSuffix
)

var modeNames = [...]string{"SUBSTR", "PREFIX", "SUFFIX", "FULL", "TOKEN", "TOKPRE", "TOKSUF"}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= Substr && m <= TokenSuffix
}

func (m Mode) String() string {
	if m.Valid() {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode keyword (case-insensitive) or its numeric value.
func ParseMode(s string) (Mode, error) {
	up := strings.ToUpper(s)
	for i, name := range modeNames {
		if up == name {
			return Mode(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Mode(n).Valid() {
		return Mode(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
