// internal/pzem/errors.go
package pzem

import "fmt"

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind int

const (
	// KindMalformedPayload means the words decoded to implausible values.
	KindMalformedPayload DecodeErrorKind = iota + 1
	// KindWordCount means the payload had the wrong number of registers.
	KindWordCount
)

func (k DecodeErrorKind) String() string {
	switch k {
	case KindMalformedPayload:
		return "malformed_payload"
	case KindWordCount:
		return "word_count"
	default:
		return "unknown"
	}
}

// DecodeError is returned by the codec. It is always local to one reading.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pzem decode: %s: %s", e.Kind, e.Detail)
}

func malformed(format string, args ...any) *DecodeError {
	return &DecodeError{Kind: KindMalformedPayload, Detail: fmt.Sprintf(format, args...)}
}
