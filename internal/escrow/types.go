package escrow

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/playmatatu/escrow/internal/accounts"
)

// GameID identifies a game. IDs are allocated from the game index and never reused.
type GameID uint32

func (id GameID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseGameID parses a decimal game id.
func ParseGameID(s string) (GameID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return GameID(n), nil
}

// Origin is the caller of an operation: a signed account, or the root origin
// acting through an administrator.
type Origin struct {
	Signer accounts.AccountID
	Root   bool
}

// Signed returns the origin of an ordinary account.
func Signed(id accounts.AccountID) Origin { return Origin{Signer: id} }

// Root returns the privileged origin; by names the administrator for the journal.
func Root(by accounts.AccountID) Origin { return Origin{Signer: by, Root: true} }

func (o Origin) String() string {
	if o.Root {
		if o.Signer == "" {
			return "root"
		}
		return "root:" + string(o.Signer)
	}
	return "signed:" + string(o.Signer)
}

// SeatState is the occupancy of a game.
type SeatState uint8

const (
	SeatsEmpty SeatState = iota
	SeatsHost
	SeatsFull
)

// Seats holds the host and the joiner of a game. The joiner can only be seated
// next to a host, and only once.
type Seats struct {
	host   accounts.AccountID
	joiner accounts.AccountID
}

// HostSeats returns seats occupied by the host alone.
func HostSeats(host accounts.AccountID) Seats { return Seats{host: host} }

func (s Seats) State() SeatState {
	switch {
	case s.host == "":
		return SeatsEmpty
	case s.joiner == "":
		return SeatsHost
	default:
		return SeatsFull
	}
}

func (s Seats) Host() (accounts.AccountID, bool) { return s.host, s.host != "" }

func (s Seats) Joiner() (accounts.AccountID, bool) { return s.joiner, s.joiner != "" }

// Players lists the seated accounts, host first.
func (s Seats) Players() []accounts.AccountID {
	switch s.State() {
	case SeatsHost:
		return []accounts.AccountID{s.host}
	case SeatsFull:
		return []accounts.AccountID{s.host, s.joiner}
	}
	return nil
}

func (s Seats) IsSeated(id accounts.AccountID) bool {
	return id != "" && (id == s.host || id == s.joiner)
}

// Seat returns the seats with joiner added.
func (s Seats) Seat(joiner accounts.AccountID) (Seats, error) {
	switch s.State() {
	case SeatsEmpty:
		return s, ErrBadAddress
	case SeatsFull:
		return s, ErrGameFull
	}
	if joiner == "" {
		return s, ErrBadAddress
	}
	if joiner == s.host {
		return s, ErrOwnGame
	}
	return Seats{host: s.host, joiner: joiner}, nil
}

type seatsJSON struct {
	Host   accounts.AccountID `json:"host,omitempty"`
	Joiner accounts.AccountID `json:"joiner,omitempty"`
}

func (s Seats) MarshalJSON() ([]byte, error) {
	return json.Marshal(seatsJSON{Host: s.host, Joiner: s.joiner})
}

func (s *Seats) UnmarshalJSON(b []byte) error {
	var v seatsJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v.Host == "" && v.Joiner != "" {
		return ErrBadAddress
	}
	s.host, s.joiner = v.Host, v.Joiner
	return nil
}

// Proposals maps each seated player to the winner it proposed. A player may
// propose once; only a forced resolution rewrites the map.
type Proposals map[accounts.AccountID]accounts.AccountID

// Propose returns a copy of p with player's proposal recorded.
func (p Proposals) Propose(player, winner accounts.AccountID) (Proposals, error) {
	if _, ok := p[player]; ok {
		return p, ErrHandshakeAlreadySet
	}
	out := make(Proposals, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[player] = winner
	return out, nil
}

// Game is the escrow record of one wager.
type Game struct {
	ID        GameID                                  `json:"id"`
	Bet       accounts.Balance                        `json:"bet"`
	Seats     Seats                                   `json:"seats"`
	Ended     bool                                    `json:"ended"`
	Proposals Proposals                               `json:"proposals,omitempty"`
	Deposits  map[accounts.AccountID]accounts.Balance `json:"deposits,omitempty"`
	Slashed   accounts.Balance                        `json:"slashed,omitempty"`
	CreatedAt time.Time                               `json:"created_at"`
	UpdatedAt time.Time                               `json:"updated_at"`
}

// Clone returns a deep copy so cached records cannot be mutated by callers.
func (g *Game) Clone() *Game {
	c := *g
	if g.Proposals != nil {
		c.Proposals = make(Proposals, len(g.Proposals))
		for k, v := range g.Proposals {
			c.Proposals[k] = v
		}
	}
	if g.Deposits != nil {
		c.Deposits = make(map[accounts.AccountID]accounts.Balance, len(g.Deposits))
		for k, v := range g.Deposits {
			c.Deposits[k] = v
		}
	}
	return &c
}

// Jackpot is the bet of every seated player.
func (g *Game) Jackpot() (accounts.Balance, bool) {
	return g.Bet.Mul(uint64(len(g.Seats.Players())))
}

// forfeit splits the held safeguard deposits for a forced resolution: the
// beneficiary gets the deposit of its own seat, or the host's when it is not
// seated, and the rest stays in custody.
func (g *Game) forfeit(beneficiary accounts.AccountID) (refund, slashed accounts.Balance) {
	from := beneficiary
	if !g.Seats.IsSeated(from) {
		from, _ = g.Seats.Host()
	}
	for player, d := range g.Deposits {
		if player == from {
			refund = d
			continue
		}
		slashed = slashed.SaturatingAdd(d)
	}
	return refund, slashed
}
