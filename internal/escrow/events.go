package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/playmatatu/escrow/internal/accounts"
)

// EventKind names a ledger event.
type EventKind string

const (
	KindGameCreated         EventKind = "GameCreated"
	KindPlayerJoined        EventKind = "PlayerJoined"
	KindWinnerProposed      EventKind = "WinnerProposed"
	KindMediationRequested  EventKind = "MediationRequested"
	KindGameEnded           EventKind = "GameEnded"
	KindSafeguardDepositSet EventKind = "SafeguardDepositSet"
	KindFundsWithdrawn      EventKind = "FundsWithdrawn"
)

// Event is emitted once per successful mutating call.
type Event interface {
	Kind() EventKind
}

type GameCreated struct {
	GameID GameID             `json:"game_id"`
	Host   accounts.AccountID `json:"host"`
	Bet    accounts.Balance   `json:"bet"`
}

type PlayerJoined struct {
	GameID GameID             `json:"game_id"`
	Player accounts.AccountID `json:"player"`
}

type WinnerProposed struct {
	GameID   GameID             `json:"game_id"`
	Winner   accounts.AccountID `json:"winner"`
	Proposer accounts.AccountID `json:"proposer"`
}

type MediationRequested struct {
	GameID   GameID             `json:"game_id"`
	Proposer accounts.AccountID `json:"proposer"`
}

type GameEnded struct {
	GameID  GameID             `json:"game_id"`
	Winner  accounts.AccountID `json:"winner"`
	Jackpot accounts.Balance   `json:"jackpot"`
	Forced  bool               `json:"forced,omitempty"`
}

type SafeguardDepositSet struct {
	Deposit accounts.Balance `json:"deposit"`
}

type FundsWithdrawn struct {
	Amount      accounts.Balance   `json:"amount"`
	Beneficiary accounts.AccountID `json:"beneficiary"`
}

func (GameCreated) Kind() EventKind         { return KindGameCreated }
func (PlayerJoined) Kind() EventKind        { return KindPlayerJoined }
func (WinnerProposed) Kind() EventKind      { return KindWinnerProposed }
func (MediationRequested) Kind() EventKind  { return KindMediationRequested }
func (GameEnded) Kind() EventKind           { return KindGameEnded }
func (SafeguardDepositSet) Kind() EventKind { return KindSafeguardDepositSet }
func (FundsWithdrawn) Kind() EventKind      { return KindFundsWithdrawn }

// Record is a journaled event. Seq is assigned by the store on append.
type Record struct {
	Seq    uint64    `json:"seq"`
	ID     string    `json:"id"`
	Kind   EventKind `json:"kind"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
	Event  Event     `json:"event"`
}

type recordJSON struct {
	Seq    uint64          `json:"seq"`
	ID     string          `json:"id"`
	Kind   EventKind       `json:"kind"`
	Origin string          `json:"origin"`
	At     time.Time       `json:"at"`
	Event  json.RawMessage `json:"event"`
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var v recordJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	ev, err := DecodeEvent(v.Kind, v.Event)
	if err != nil {
		return err
	}
	*r = Record{Seq: v.Seq, ID: v.ID, Kind: v.Kind, Origin: v.Origin, At: v.At, Event: ev}
	return nil
}

// DecodeEvent decodes the payload of an event of the given kind.
func DecodeEvent(kind EventKind, raw []byte) (Event, error) {
	var ev Event
	switch kind {
	case KindGameCreated:
		ev = &GameCreated{}
	case KindPlayerJoined:
		ev = &PlayerJoined{}
	case KindWinnerProposed:
		ev = &WinnerProposed{}
	case KindMediationRequested:
		ev = &MediationRequested{}
	case KindGameEnded:
		ev = &GameEnded{}
	case KindSafeguardDepositSet:
		ev = &SafeguardDepositSet{}
	case KindFundsWithdrawn:
		ev = &FundsWithdrawn{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, err
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *GameCreated:
		return *e
	case *PlayerJoined:
		return *e
	case *WinnerProposed:
		return *e
	case *MediationRequested:
		return *e
	case *GameEnded:
		return *e
	case *SafeguardDepositSet:
		return *e
	case *FundsWithdrawn:
		return *e
	}
	return ev
}

// Sink receives committed events.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Record) error { return nil }
