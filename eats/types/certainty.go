package types

import "github.com/artefact/eats/errors"

// Certainty is the two-valued confidence marker on assertions and date parts.
type Certainty string

const (
	CertaintyFull Certainty = "full"
	CertaintyNone Certainty = "none"
)

// ParseCertainty reads the EATSML literal. Empty means full.
func ParseCertainty(s string) (Certainty, error) {
	switch s {
	case "", string(CertaintyFull):
		return CertaintyFull, nil
	case string(CertaintyNone):
		return CertaintyNone, nil
	default:
		return "", errors.Newf("invalid certainty %q (want \"full\" or \"none\")", s)
	}
}

// OrFull returns c, defaulting the zero value to full certainty.
func (c Certainty) OrFull() Certainty {
	if c == "" {
		return CertaintyFull
	}
	return c
}
