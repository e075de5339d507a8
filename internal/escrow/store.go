package escrow

import (
	"context"

	"github.com/playmatatu/escrow/internal/accounts"
)

// Memo describes why a transfer happened. Stores that keep a transfer history
// record it next to the movement.
type Memo struct {
	Reference string
	GameID    *GameID
	Note      string
}

// Reader is the read side of the ledger state.
type Reader interface {
	GameIndex() (GameID, error)
	SafeguardDeposit() (accounts.Balance, error)
	// Game returns ErrGameDoesNotExist for unknown ids.
	Game(id GameID) (*Game, error)
	Balance(id accounts.AccountID) (accounts.Balance, error)
}

// Tx is one atomic unit of work. Nothing written through a Tx is visible to
// others until the surrounding Update returns nil.
type Tx interface {
	Reader
	SetGameIndex(next GameID) error
	SetSafeguardDeposit(deposit accounts.Balance) error
	PutGame(g *Game) error
	// Transfer moves funds under the existence rules of the store's currency.
	Transfer(from, to accounts.AccountID, amount accounts.Balance, memo Memo) error
	// Endow credits a genesis endowment once per account.
	Endow(id accounts.AccountID, accountType string, amount accounts.Balance) (bool, error)
	// Append journals rec and assigns its sequence number.
	Append(rec *Record) error
}

// Store is the persistent mapping behind the ledger.
type Store interface {
	// Update runs fn in a transaction and commits only if fn returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Reader) error) error
	// Events returns journaled records with Seq greater than after, oldest first.
	Events(ctx context.Context, after uint64, limit int) ([]Record, error)
	Close() error
}

// Authority decides whether an origin may call privileged operations.
type Authority interface {
	IsPrivileged(ctx context.Context, origin Origin) bool
}

// Locker serializes work on one key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
