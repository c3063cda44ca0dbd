// internal/pzem/shunt.go
package pzem

import (
	"fmt"
	"strings"
)

// ShuntCode is the device-internal value of the current range register.
type ShuntCode uint16

const (
	Shunt100A ShuntCode = 0x0000
	Shunt50A  ShuntCode = 0x0001
	Shunt200A ShuntCode = 0x0002
	Shunt300A ShuntCode = 0x0003
)

// shuntRatings is the closed rating table. All shunts are the 75 mV class.
var shuntRatings = map[string]ShuntCode{
	"50A":  Shunt50A,
	"100A": Shunt100A,
	"200A": Shunt200A,
	"300A": Shunt300A,
}

// ParseShuntRating resolves a physical rating such as "100A" or "100A/75mV".
func ParseShuntRating(rating string) (ShuntCode, error) {
	r := strings.ToUpper(strings.TrimSpace(rating))
	r = strings.ReplaceAll(r, " ", "")

	if amps, mv, ok := strings.Cut(r, "/"); ok {
		if mv != "75MV" {
			return 0, fmt.Errorf("pzem: unsupported shunt voltage %q (only 75mV)", rating)
		}
		r = amps
	}

	code, ok := shuntRatings[r]
	if !ok {
		return 0, fmt.Errorf("pzem: unknown shunt rating %q", rating)
	}
	return code, nil
}

// Valid reports whether c is one of the four codes the device accepts.
func (c ShuntCode) Valid() bool {
	return c <= Shunt300A
}

// Amps returns the nominal current of the shunt.
func (c ShuntCode) Amps() int {
	switch c {
	case Shunt50A:
		return 50
	case Shunt100A:
		return 100
	case Shunt200A:
		return 200
	case Shunt300A:
		return 300
	default:
		return 0
	}
}

func (c ShuntCode) String() string {
	if !c.Valid() {
		return fmt.Sprintf("shunt(0x%04x)", uint16(c))
	}
	return fmt.Sprintf("%dA/75mV", c.Amps())
}

// EncodeShuntCode returns the register words for RegShuntCode.
func EncodeShuntCode(c ShuntCode) []uint16 {
	return []uint16{uint16(c)}
}

// DecodeShuntCode is the inverse of EncodeShuntCode for a read-back of RegShuntCode.
func DecodeShuntCode(words []uint16) (ShuntCode, error) {
	if len(words) != 1 {
		return 0, &DecodeError{Kind: KindWordCount, Detail: fmt.Sprintf("shunt code: got %d words, want 1", len(words))}
	}
	c := ShuntCode(words[0])
	if !c.Valid() {
		return 0, malformed("shunt code 0x%04x out of range", words[0])
	}
	return c, nil
}
