package escrow

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/lock"
	gometrics "github.com/rcrowley/go-metrics"
)

// DefaultCustody is the account that holds escrowed funds unless configured otherwise.
const DefaultCustody accounts.AccountID = "escrow/custody"

// Ledger is the game registry and state transition engine. Every operation runs
// under a per-game lock and inside one store transaction, so a failed call
// leaves games, counters and balances exactly as they were.
type Ledger struct {
	store   Store
	auth    Authority
	locker  Locker
	sink    Sink
	custody accounts.AccountID
	ended   *lru.Cache
	metrics *opMetrics
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger) error

func WithLocker(l Locker) Option {
	return func(led *Ledger) error { led.locker = l; return nil }
}

func WithSink(s Sink) Option {
	return func(led *Ledger) error { led.sink = s; return nil }
}

func WithCustody(id accounts.AccountID) Option {
	return func(led *Ledger) error {
		if id == "" {
			return accounts.ErrEmptyAccount
		}
		led.custody = id
		return nil
	}
}

// WithCacheSize sets how many ended games are kept in memory. Ended games
// never change, so cached copies cannot go stale.
func WithCacheSize(n int) Option {
	return func(led *Ledger) error {
		c, err := lru.New(n)
		if err != nil {
			return err
		}
		led.ended = c
		return nil
	}
}

func WithRegistry(r gometrics.Registry) Option {
	return func(led *Ledger) error { led.metrics = newOpMetrics(r); return nil }
}

func WithClock(now func() time.Time) Option {
	return func(led *Ledger) error { led.now = now; return nil }
}

// New returns a ledger over store. auth decides privileged calls.
func New(store Store, auth Authority, opts ...Option) (*Ledger, error) {
	if store == nil || auth == nil {
		return nil, errors.New("escrow: store and authority are required")
	}
	l := &Ledger{
		store:   store,
		auth:    auth,
		locker:  lock.NewLocal(),
		sink:    nopSink{},
		custody: DefaultCustody,
		metrics: newOpMetrics(gometrics.DefaultRegistry),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.ended == nil {
		l.ended, _ = lru.New(1024)
	}
	return l, nil
}

// Endowment is a genesis balance.
type Endowment struct {
	Account accounts.AccountID `toml:"account"`
	Balance accounts.Balance   `toml:"balance"`
}

// Bootstrap funds the custody account with the existential deposit, so payouts can
// drain every escrowed amount while keeping it alive, and credits the genesis
// endowments. Running it again is a no-op.
func (l *Ledger) Bootstrap(ctx context.Context, existential accounts.Balance, endowments []Endowment) error {
	return l.store.Update(ctx, func(tx Tx) error {
		if _, err := tx.Endow(l.custody, accounts.AccountCustody, existential); err != nil {
			return errors.Wrap(err, "endow custody")
		}
		for _, e := range endowments {
			if e.Account == l.custody {
				return errors.Errorf("genesis endowment targets the custody account %s", l.custody)
			}
			if _, err := tx.Endow(e.Account, accounts.AccountPlayer, e.Balance); err != nil {
				return errors.Wrapf(err, "endow %s", e.Account)
			}
		}
		return nil
	})
}

// CustodyAccount returns the account holding escrowed funds.
func (l *Ledger) CustodyAccount() accounts.AccountID { return l.custody }

// CreateGame opens a game hosted by the caller and escrows bet plus the current
// safeguard deposit.
func (l *Ledger) CreateGame(ctx context.Context, origin Origin, bet accounts.Balance) (id GameID, err error) {
	defer l.metrics.measure("create_game", time.Now(), &err)

	caller, err := ensureSigned(origin)
	if err != nil {
		return 0, err
	}
	if bet.IsZero() {
		return 0, ErrCantBeZero
	}

	unlock, err := l.locker.Lock(ctx, "game-index")
	if err != nil {
		return 0, err
	}
	defer unlock()

	b := l.newBatch(origin)
	err = l.store.Update(ctx, func(tx Tx) error {
		idx, err := tx.GameIndex()
		if err != nil {
			return err
		}
		if idx == math.MaxUint32 {
			return ErrIndexOverflow
		}
		deposit, err := tx.SafeguardDeposit()
		if err != nil {
			return err
		}

		id = idx
		if err := tx.Transfer(caller, l.custody, bet.SaturatingAdd(deposit), Memo{Reference: "create", GameID: &id, Note: "Bet and safeguard deposit escrowed by host"}); err != nil {
			return err
		}

		now := l.now().UTC()
		g := &Game{
			ID:        id,
			Bet:       bet,
			Seats:     HostSeats(caller),
			Deposits:  map[accounts.AccountID]accounts.Balance{caller: deposit},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.PutGame(g); err != nil {
			return err
		}
		if err := tx.SetGameIndex(idx + 1); err != nil {
			return err
		}
		return b.emit(tx, GameCreated{GameID: id, Host: caller, Bet: bet})
	})
	if err != nil {
		log.Printf("[LEDGER] create_game rejected: caller=%s bet=%s err=%v", caller, bet, err)
		return 0, err
	}

	log.Printf("[LEDGER] Game %d created by %s (bet=%s)", id, caller, bet)
	l.publish(ctx, b)
	return id, nil
}

// JoinGame seats the caller as joiner and escrows the bet plus the current
// safeguard deposit.
func (l *Ledger) JoinGame(ctx context.Context, origin Origin, id GameID) (err error) {
	defer l.metrics.measure("join_game", time.Now(), &err)

	caller, err := ensureSigned(origin)
	if err != nil {
		return err
	}

	unlock, err := l.locker.Lock(ctx, gameKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	b := l.newBatch(origin)
	err = l.store.Update(ctx, func(tx Tx) error {
		g, err := tx.Game(id)
		if err != nil {
			return err
		}
		if g.Ended {
			return ErrGameAlreadyEnded
		}
		seats, err := g.Seats.Seat(caller)
		if err != nil {
			return err
		}
		deposit, err := tx.SafeguardDeposit()
		if err != nil {
			return err
		}
		if err := tx.Transfer(caller, l.custody, g.Bet.SaturatingAdd(deposit), Memo{Reference: "join", GameID: &id, Note: "Bet and safeguard deposit escrowed by joiner"}); err != nil {
			return err
		}

		g.Seats = seats
		if g.Deposits == nil {
			g.Deposits = make(map[accounts.AccountID]accounts.Balance)
		}
		g.Deposits[caller] = deposit
		g.UpdatedAt = l.now().UTC()
		if err := tx.PutGame(g); err != nil {
			return err
		}
		return b.emit(tx, PlayerJoined{GameID: id, Player: caller})
	})
	if err != nil {
		log.Printf("[LEDGER] join_game rejected: game=%d caller=%s err=%v", id, caller, err)
		return err
	}

	log.Printf("[LEDGER] %s joined game %d", caller, id)
	l.publish(ctx, b)
	return nil
}

// EndGame records the caller's proposed winner. When both players agree the
// game ends and funds are paid out; when they disagree mediation is requested
// and funds stay in custody.
func (l *Ledger) EndGame(ctx context.Context, origin Origin, id GameID, winner accounts.AccountID) (res Resolution, err error) {
	defer l.metrics.measure("end_game", time.Now(), &err)

	caller, err := ensureSigned(origin)
	if err != nil {
		return Resolution{}, err
	}

	unlock, err := l.locker.Lock(ctx, gameKey(id))
	if err != nil {
		return Resolution{}, err
	}
	defer unlock()

	var ended *Game
	b := l.newBatch(origin)
	err = l.store.Update(ctx, func(tx Tx) error {
		g, err := tx.Game(id)
		if err != nil {
			return err
		}
		if g.Ended {
			return ErrGameAlreadyEnded
		}
		if g.Seats.State() != SeatsFull {
			return ErrBadAddress
		}
		if !g.Seats.IsSeated(caller) || !g.Seats.IsSeated(winner) {
			return ErrNotAPlayer
		}
		proposals, err := g.Proposals.Propose(caller, winner)
		if err != nil {
			return err
		}
		g.Proposals = proposals
		g.UpdatedAt = l.now().UTC()

		res = Resolve(g.Seats, proposals)
		switch res.Outcome {
		case Pending:
			if err := tx.PutGame(g); err != nil {
				return err
			}
			return b.emit(tx, WinnerProposed{GameID: id, Winner: winner, Proposer: caller})
		case Disputed:
			if err := tx.PutGame(g); err != nil {
				return err
			}
			return b.emit(tx, MediationRequested{GameID: id, Proposer: caller})
		}

		g.Ended = true
		if err := tx.PutGame(g); err != nil {
			return err
		}
		jackpot, ok := g.Jackpot()
		if !ok {
			return accounts.ErrBalanceOverflow
		}
		for _, player := range g.Seats.Players() {
			if err := tx.Transfer(l.custody, player, g.Deposits[player], Memo{Reference: "refund", GameID: &id, Note: "Safeguard deposit returned"}); err != nil {
				return errors.Wrapf(err, "refund deposit to %s", player)
			}
		}
		if err := tx.Transfer(l.custody, res.Winner, jackpot, Memo{Reference: "payout", GameID: &id, Note: "Jackpot paid to agreed winner"}); err != nil {
			return errors.Wrapf(err, "pay jackpot to %s", res.Winner)
		}
		ended = g
		return b.emit(tx, GameEnded{GameID: id, Winner: res.Winner, Jackpot: jackpot})
	})
	if err != nil {
		log.Printf("[LEDGER] end_game rejected: game=%d caller=%s winner=%s err=%v", id, caller, winner, err)
		return Resolution{}, err
	}

	switch res.Outcome {
	case Agreed:
		l.ended.Add(id, ended.Clone())
		log.Printf("[LEDGER] Game %d ended by agreement, winner=%s", id, res.Winner)
	case Disputed:
		log.Printf("[LEDGER] Game %d disputed, mediation requested by %s", id, caller)
	default:
		log.Printf("[LEDGER] Game %d: %s proposed %s as winner", id, caller, winner)
	}
	l.publish(ctx, b)
	return res, nil
}

// ForceEndGame resolves a game by administrative decision. The jackpot goes to
// winner; depositBeneficiary receives one safeguard deposit and any other deposit
// stays in custody as slashed funds.
func (l *Ledger) ForceEndGame(ctx context.Context, origin Origin, id GameID, winner, depositBeneficiary accounts.AccountID) (err error) {
	defer l.metrics.measure("force_end_game", time.Now(), &err)

	if !l.auth.IsPrivileged(ctx, origin) {
		return ErrNotPrivileged
	}
	if winner == "" || depositBeneficiary == "" {
		return ErrBadAddress
	}

	unlock, err := l.locker.Lock(ctx, gameKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	var ended *Game
	b := l.newBatch(origin)
	err = l.store.Update(ctx, func(tx Tx) error {
		g, err := tx.Game(id)
		if err != nil {
			return err
		}
		if g.Ended {
			return ErrGameAlreadyEnded
		}

		g.Ended = true
		g.Proposals = make(Proposals)
		for _, player := range g.Seats.Players() {
			g.Proposals[player] = winner
		}
		refund, slashed := g.forfeit(depositBeneficiary)
		g.Slashed = slashed
		g.UpdatedAt = l.now().UTC()
		if err := tx.PutGame(g); err != nil {
			return err
		}

		jackpot, ok := g.Jackpot()
		if !ok {
			return accounts.ErrBalanceOverflow
		}
		if err := tx.Transfer(l.custody, depositBeneficiary, refund, Memo{Reference: "refund", GameID: &id, Note: "Safeguard deposit awarded by mediation"}); err != nil {
			return errors.Wrapf(err, "award deposit to %s", depositBeneficiary)
		}
		if err := tx.Transfer(l.custody, winner, jackpot, Memo{Reference: "payout", GameID: &id, Note: "Jackpot awarded by mediation"}); err != nil {
			return errors.Wrapf(err, "pay jackpot to %s", winner)
		}
		ended = g
		return b.emit(tx, GameEnded{GameID: id, Winner: winner, Jackpot: jackpot, Forced: true})
	})
	if err != nil {
		log.Printf("[LEDGER] force_end_game rejected: game=%d origin=%s err=%v", id, origin, err)
		return err
	}

	l.ended.Add(id, ended.Clone())
	log.Printf("[LEDGER] Game %d force-ended by %s: winner=%s deposit_beneficiary=%s slashed=%s", id, origin, winner, depositBeneficiary, ended.Slashed)
	l.publish(ctx, b)
	return nil
}

// SetSafeguardDeposit changes the deposit collected by future creates and joins.
func (l *Ledger) SetSafeguardDeposit(ctx context.Context, origin Origin, deposit accounts.Balance) (err error) {
	defer l.metrics.measure("set_safeguard_deposit", time.Now(), &err)

	if !l.auth.IsPrivileged(ctx, origin) {
		return ErrNotPrivileged
	}

	unlock, err := l.locker.Lock(ctx, "params")
	if err != nil {
		return err
	}
	defer unlock()

	b := l.newBatch(origin)
	err = l.store.Update(ctx, func(tx Tx) error {
		if err := tx.SetSafeguardDeposit(deposit); err != nil {
			return err
		}
		return b.emit(tx, SafeguardDepositSet{Deposit: deposit})
	})
	if err != nil {
		return err
	}

	log.Printf("[LEDGER] Safeguard deposit set to %s by %s", deposit, origin)
	l.publish(ctx, b)
	return nil
}

// WithdrawFunds moves funds out of custody with no game linkage. It exists to
// recover slashed or orphaned balances and is journaled like every other call.
func (l *Ledger) WithdrawFunds(ctx context.Context, origin Origin, amount accounts.Balance, beneficiary accounts.AccountID) (err error) {
	defer l.metrics.measure("withdraw_funds", time.Now(), &err)

	if !l.auth.IsPrivileged(ctx, origin) {
		return ErrNotPrivileged
	}
	if amount.IsZero() {
		return ErrCantBeZero
	}

	unlock, err := l.locker.Lock(ctx, "custody")
	if err != nil {
		return err
	}
	defer unlock()

	b := l.newBatch(origin)
	err = l.store.Update(ctx, func(tx Tx) error {
		if err := tx.Transfer(l.custody, beneficiary, amount, Memo{Reference: "withdraw", Note: "Administrative custody withdrawal"}); err != nil {
			return err
		}
		return b.emit(tx, FundsWithdrawn{Amount: amount, Beneficiary: beneficiary})
	})
	if err != nil {
		log.Printf("[LEDGER] withdraw_funds rejected: amount=%s beneficiary=%s origin=%s err=%v", amount, beneficiary, origin, err)
		return err
	}

	log.Printf("[LEDGER] %s withdrawn from custody to %s by %s", amount, beneficiary, origin)
	l.publish(ctx, b)
	return nil
}

// GameIndex returns the next unused game id.
func (l *Ledger) GameIndex(ctx context.Context) (idx GameID, err error) {
	err = l.store.View(ctx, func(r Reader) error {
		idx, err = r.GameIndex()
		return err
	})
	return idx, err
}

// SafeguardDeposit returns the deposit currently collected on create and join.
func (l *Ledger) SafeguardDeposit(ctx context.Context) (d accounts.Balance, err error) {
	err = l.store.View(ctx, func(r Reader) error {
		d, err = r.SafeguardDeposit()
		return err
	})
	return d, err
}

// Game returns a copy of the game record, or ErrGameDoesNotExist.
func (l *Ledger) Game(ctx context.Context, id GameID) (*Game, error) {
	if v, ok := l.ended.Get(id); ok {
		return v.(*Game).Clone(), nil
	}
	var g *Game
	err := l.store.View(ctx, func(r Reader) error {
		var err error
		g, err = r.Game(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if g.Ended {
		l.ended.Add(id, g.Clone())
	}
	return g, nil
}

// Balance returns the free balance of an account.
func (l *Ledger) Balance(ctx context.Context, id accounts.AccountID) (bal accounts.Balance, err error) {
	err = l.store.View(ctx, func(r Reader) error {
		bal, err = r.Balance(id)
		return err
	})
	return bal, err
}

// Events returns journaled events after the given sequence number.
func (l *Ledger) Events(ctx context.Context, after uint64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.Events(ctx, after, limit)
}

func ensureSigned(origin Origin) (accounts.AccountID, error) {
	if origin.Root || origin.Signer == "" {
		return "", ErrNotSigned
	}
	return origin.Signer, nil
}

func gameKey(id GameID) string { return fmt.Sprintf("game:%d", id) }

// batch collects the events of one call until its transaction commits.
type batch struct {
	l       *Ledger
	origin  Origin
	records []Record
}

func (l *Ledger) newBatch(origin Origin) *batch {
	return &batch{l: l, origin: origin}
}

func (b *batch) emit(tx Tx, ev Event) error {
	rec := Record{
		ID:     uuid.New().String(),
		Kind:   ev.Kind(),
		Origin: b.origin.String(),
		At:     b.l.now().UTC(),
		Event:  ev,
	}
	if err := tx.Append(&rec); err != nil {
		return errors.Wrap(err, "journal event")
	}
	b.records = append(b.records, rec)
	return nil
}

// publish hands committed events to the sink. The journal already holds them,
// so a sink failure is logged and not returned.
func (l *Ledger) publish(ctx context.Context, b *batch) {
	for _, rec := range b.records {
		if err := l.sink.Publish(ctx, rec); err != nil {
			log.Printf("[LEDGER] publish %s (seq=%d) failed: %v", rec.Kind, rec.Seq, err)
		}
	}
}
