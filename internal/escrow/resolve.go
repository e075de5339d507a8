package escrow

import "github.com/playmatatu/escrow/internal/accounts"

// Outcome is the state of the winner handshake.
type Outcome uint8

const (
	Pending Outcome = iota
	Agreed
	Disputed
)

func (o Outcome) String() string {
	switch o {
	case Agreed:
		return "agreed"
	case Disputed:
		return "disputed"
	}
	return "pending"
}

// Resolution is the result of evaluating a handshake. Winner is set only when
// the players agreed.
type Resolution struct {
	Outcome Outcome
	Winner  accounts.AccountID
}

// Resolve evaluates the proposals of a full table. It has no side effects.
func Resolve(seats Seats, proposals Proposals) Resolution {
	host, okHost := seats.Host()
	joiner, okJoiner := seats.Joiner()
	if !okHost || !okJoiner {
		return Resolution{Outcome: Pending}
	}
	a, okA := proposals[host]
	b, okB := proposals[joiner]
	switch {
	case !okA || !okB:
		return Resolution{Outcome: Pending}
	case a != b:
		return Resolution{Outcome: Disputed}
	default:
		return Resolution{Outcome: Agreed, Winner: a}
	}
}
