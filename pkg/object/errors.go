package object

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling. Callers branch
// on Kind (and, for KindMissing, on Missing) rather than on error strings.
type Kind string

const (
	// KindDecode marks malformed bytes, unknown codes and non-canonical tries.
	KindDecode Kind = "decode"
	// KindMissing marks a referenced hash that is absent from the available
	// atoms. Fetching more data may resolve it.
	KindMissing Kind = "missing"
	// KindStructure marks protocol violations or tampering. Never retried.
	KindStructure Kind = "structure"
	// KindAuth marks unregistered requirement types and failed proofs.
	KindAuth Kind = "auth"
	// KindNetwork marks transient relay failures.
	KindNetwork Kind = "network"
)

// Missing names what was being looked up when a KindMissing error occurred.
type Missing string

const (
	MissingPrevious   Missing = "previous"
	MissingSuccessor  Missing = "successor"
	MissingHoist      Missing = "hoist"
	MissingPostEntry  Missing = "post-entry"
	MissingHashPacket Missing = "hash-packet"
)

// Sentinels for errors.Is. Structured errors wrap them as Cause.
var (
	ErrShape                  = errors.New("non-canonical packet shape")
	ErrHashMismatch           = errors.New("hash does not match packet content")
	ErrConflictingSuccessor   = errors.New("conflicting successor")
	ErrReqSatMismatch         = errors.New("requirement/satisfaction keys differ")
	ErrUnfastenedMeet         = errors.New("meet is not fastened to lead")
	ErrLoose                  = errors.New("twist is loose")
	ErrNotAncestor            = errors.New("hash is not an ancestor")
	ErrUnsupportedRequirement = errors.New("unsupported requirement")
	ErrCouldNotHoist          = errors.New("could not obtain hoist")
	ErrNoShield               = errors.New("twist has no shield")
	ErrRelayCycle             = errors.New("relay chain revisits a lead")
)

// Error is the structured error shared by the codec, chain and interpreter
// packages. Message is for humans; do not match on it.
type Error struct {
	Kind    Kind
	Missing Missing
	Hash    Hash
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Kind == KindMissing && e.Missing != "" {
		msg = fmt.Sprintf("missing %s: %s", e.Missing, msg)
	}
	if e.Hash != "" && !e.Hash.IsNull() {
		msg = fmt.Sprintf("%s (%s)", msg, e.Hash.Hex())
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Errorf builds a structured error of the given kind.
func Errorf(kind Kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// DecodeErrorf builds a KindDecode error.
func DecodeErrorf(format string, args ...any) error {
	return &Error{Kind: KindDecode, Message: fmt.Sprintf(format, args...)}
}

// MissingError reports that the packet for h could not be found while looking
// for what.
func MissingError(what Missing, h Hash, msg string) error {
	return &Error{Kind: KindMissing, Missing: what, Hash: h, Message: msg}
}

// StructureError wraps one of the structure sentinels with context.
func StructureError(cause error, h Hash, format string, args ...any) error {
	return &Error{Kind: KindStructure, Hash: h, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// IsMissing reports whether err is a KindMissing error for what.
func IsMissing(err error, what Missing) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindMissing && e.Missing == what
}
