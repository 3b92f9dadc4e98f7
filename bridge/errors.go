package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies driver errors so callers can react without string matching.
// The driver never retries internally; LightClientLag in particular signals
// "wait for the light client to catch up and call again".
type Kind uint8

const (
	// KindConfiguration means a required setting is missing or malformed.
	KindConfiguration Kind = iota + 1
	// KindEthRPC is a transport or deserialization failure against Ethereum.
	KindEthRPC
	// KindNearRPC is a transport or deserialization failure against NEAR.
	KindNearRPC
	// KindProofBuild covers trie root mismatches and missing receipts, logs
	// or storage proof entries.
	KindProofBuild
	// KindProofSerialize means the canonical proof encoding failed. This
	// should be impossible for well-typed input and is treated as fatal.
	KindProofSerialize
	// KindLightClientLag means the required proof block height exceeds the
	// destination light client's sync height.
	KindLightClientLag
	// KindFinalizationTimeout means an outcome polling window was exceeded.
	KindFinalizationTimeout
	// KindInvalidInput means a caller-supplied hash or id was unparseable
	// or out of range.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindEthRPC:
		return "ethereum rpc"
	case KindNearRPC:
		return "near rpc"
	case KindProofBuild:
		return "proof build"
	case KindProofSerialize:
		return "proof serialize"
	case KindLightClientLag:
		return "light client lag"
	case KindFinalizationTimeout:
		return "finalization timeout"
	case KindInvalidInput:
		return "invalid input"
	default:
		return "unknown"
	}
}

// Error is the uniform error surface of the driver: a kind plus a cause
// chain. It supports errors.Is against other *Error values of the same kind
// and errors.Unwrap for the cause.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "ethconnector.FinalizeDeposit"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: KindLightClientLag})
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// WrapErr attaches a kind and operation to a cause.
func WrapErr(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from an error chain, or zero if none is attached.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
