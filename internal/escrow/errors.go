package escrow

import (
	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/accounts"
)

// Kind classifies a failure for callers that only care about its category.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindInvalidInput
	KindUnauthorized
	KindInsufficientFunds
	KindCounterOverflow
)

var kindNames = [...]string{
	KindInternal:          "Internal",
	KindNotFound:          "NotFound",
	KindInvalidState:      "InvalidState",
	KindInvalidInput:      "InvalidInput",
	KindUnauthorized:      "Unauthorized",
	KindInsufficientFunds: "InsufficientFunds",
	KindCounterOverflow:   "CounterOverflow",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Error is a ledger rejection with a stable code.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

var (
	ErrGameDoesNotExist    = newError(KindNotFound, "GameDoesNotExist", "game does not exist")
	ErrGameAlreadyEnded    = newError(KindInvalidState, "GameAlreadyEnded", "game has already ended")
	ErrGameFull            = newError(KindInvalidState, "GameFull", "game is full")
	ErrHandshakeAlreadySet = newError(KindInvalidState, "HandshakeAlreadySet", "winner already proposed by this player")
	ErrOwnGame             = newError(KindInvalidState, "OwnGame", "host cannot join its own game")
	ErrCantBeZero          = newError(KindInvalidInput, "CantBeZero", "amount must be greater than zero")
	ErrBadAddress          = newError(KindInvalidInput, "BadAddress", "game seats are not filled")
	ErrNotAPlayer          = newError(KindUnauthorized, "NotAPlayer", "account is not a player of the game")
	ErrNotSigned           = newError(KindUnauthorized, "NotSigned", "a signed origin is required")
	ErrNotPrivileged       = newError(KindUnauthorized, "BadOrigin", "a privileged origin is required")
	ErrIndexOverflow       = newError(KindCounterOverflow, "IndexOverflow", "game index overflow")
)

// KindOf classifies err, looking through wrapping. Currency failures surface as
// InsufficientFunds or InvalidInput; anything unknown is Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, accounts.ErrInsufficientFunds), errors.Is(err, accounts.ErrBelowExistential):
		return KindInsufficientFunds
	case errors.Is(err, accounts.ErrBalanceOverflow), errors.Is(err, accounts.ErrSameAccount), errors.Is(err, accounts.ErrEmptyAccount):
		return KindInvalidInput
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or an empty string for internal failures.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, accounts.ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, accounts.ErrBelowExistential):
		return "ExistentialDeposit"
	case errors.Is(err, accounts.ErrBalanceOverflow):
		return "Overflow"
	case errors.Is(err, accounts.ErrSameAccount):
		return "SameAccount"
	case errors.Is(err, accounts.ErrEmptyAccount):
		return "EmptyAccount"
	}
	return ""
}
