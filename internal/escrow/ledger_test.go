package escrow_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/authority"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/storage/kvstore"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice   accounts.AccountID = "alice"
	bob     accounts.AccountID = "bob"
	carol   accounts.AccountID = "carol"
	custody                    = escrow.DefaultCustody

	existential accounts.Balance = 1
	endowment   accounts.Balance = 1000
)

var root = escrow.Root("ops")

type recordingSink struct {
	mu   sync.Mutex
	recs []escrow.Record
}

func (s *recordingSink) Publish(_ context.Context, rec escrow.Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) kinds() []escrow.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]escrow.EventKind, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r.Kind)
	}
	return out
}

func (s *recordingSink) last() escrow.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[len(s.recs)-1]
}

type fixture struct {
	ctx   context.Context
	led   *escrow.Ledger
	store *kvstore.Store
	sink  *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := kvstore.OpenMemory(accounts.Rules{ExistentialDeposit: existential})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sink := &recordingSink{}
	led, err := escrow.New(store, authority.RootOnly{},
		escrow.WithSink(sink),
		escrow.WithRegistry(gometrics.NewRegistry()),
		escrow.WithCacheSize(16),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, led.Bootstrap(ctx, existential, []escrow.Endowment{
		{Account: alice, Balance: endowment},
		{Account: bob, Balance: endowment},
		{Account: carol, Balance: endowment},
	}))
	return &fixture{ctx: ctx, led: led, store: store, sink: sink}
}

func (f *fixture) balance(t *testing.T, id accounts.AccountID) accounts.Balance {
	t.Helper()
	b, err := f.led.Balance(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) total(t *testing.T) accounts.Balance {
	var sum accounts.Balance
	for _, id := range []accounts.AccountID{alice, bob, carol, custody} {
		sum += f.balance(t, id)
	}
	return sum
}

// seat creates game 0 hosted by alice with bet 10 and deposit 1, joined by bob.
func (f *fixture) seat(t *testing.T) escrow.GameID {
	t.Helper()
	require.NoError(t, f.led.SetSafeguardDeposit(f.ctx, root, 1))
	id, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	require.NoError(t, err)
	require.NoError(t, f.led.JoinGame(f.ctx, escrow.Signed(bob), id))
	return id
}

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.led.Bootstrap(f.ctx, existential, []escrow.Endowment{{Account: alice, Balance: endowment}}))
	assert.Equal(t, endowment, f.balance(t, alice))
	assert.Equal(t, existential, f.balance(t, custody))

	err := f.led.Bootstrap(f.ctx, existential, []escrow.Endowment{{Account: custody, Balance: 5}})
	assert.Error(t, err)
}

func TestScenarioAgreement(t *testing.T) {
	f := newFixture(t)
	before := f.total(t)

	require.NoError(t, f.led.SetSafeguardDeposit(f.ctx, root, 1))
	id, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	require.NoError(t, err)
	assert.Equal(t, escrow.GameID(0), id)
	assert.Equal(t, endowment-11, f.balance(t, alice))

	g, err := f.led.Game(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, accounts.Balance(10), g.Bet)
	assert.Equal(t, escrow.SeatsHost, g.Seats.State())

	require.NoError(t, f.led.JoinGame(f.ctx, escrow.Signed(bob), id))
	assert.Equal(t, endowment-11, f.balance(t, bob))
	assert.Equal(t, existential+22, f.balance(t, custody))

	res, err := f.led.EndGame(f.ctx, escrow.Signed(alice), id, alice)
	require.NoError(t, err)
	assert.Equal(t, escrow.Pending, res.Outcome)
	assert.Equal(t, escrow.KindWinnerProposed, f.sink.last().Kind)

	res, err = f.led.EndGame(f.ctx, escrow.Signed(bob), id, alice)
	require.NoError(t, err)
	assert.Equal(t, escrow.Agreed, res.Outcome)
	assert.Equal(t, escrow.GameEnded{GameID: id, Winner: alice, Jackpot: 20}, f.sink.last().Event)

	assert.Equal(t, endowment+10, f.balance(t, alice))
	assert.Equal(t, endowment-10, f.balance(t, bob))
	assert.Equal(t, existential, f.balance(t, custody))
	assert.Equal(t, before, f.total(t))

	g, err = f.led.Game(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, g.Ended)

	assert.Equal(t, []escrow.EventKind{
		escrow.KindSafeguardDepositSet,
		escrow.KindGameCreated,
		escrow.KindPlayerJoined,
		escrow.KindWinnerProposed,
		escrow.KindGameEnded,
	}, f.sink.kinds())
}

func TestScenarioDisputeAndForceEnd(t *testing.T) {
	f := newFixture(t)
	before := f.total(t)
	id := f.seat(t)

	_, err := f.led.EndGame(f.ctx, escrow.Signed(alice), id, alice)
	require.NoError(t, err)
	res, err := f.led.EndGame(f.ctx, escrow.Signed(bob), id, bob)
	require.NoError(t, err)
	assert.Equal(t, escrow.Disputed, res.Outcome)
	assert.Equal(t, escrow.MediationRequested{GameID: id, Proposer: bob}, f.sink.last().Event)

	g, err := f.led.Game(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, g.Ended)
	assert.Equal(t, existential+22, f.balance(t, custody))

	// a disputed game cannot be settled by the players any more
	_, err = f.led.EndGame(f.ctx, escrow.Signed(bob), id, alice)
	assert.Equal(t, escrow.ErrHandshakeAlreadySet, err)

	require.NoError(t, f.led.ForceEndGame(f.ctx, root, id, alice, alice))
	assert.Equal(t, escrow.GameEnded{GameID: id, Winner: alice, Jackpot: 20, Forced: true}, f.sink.last().Event)

	assert.Equal(t, endowment+10, f.balance(t, alice))
	assert.Equal(t, endowment-11, f.balance(t, bob))
	assert.Equal(t, existential+1, f.balance(t, custody))
	assert.Equal(t, before, f.total(t))

	g, err = f.led.Game(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, g.Ended)
	assert.Equal(t, accounts.Balance(1), g.Slashed)
	assert.Equal(t, alice, g.Proposals[alice])
	assert.Equal(t, alice, g.Proposals[bob])

	// slashed funds can be recovered from custody
	require.NoError(t, f.led.WithdrawFunds(f.ctx, root, 1, carol))
	assert.Equal(t, endowment+1, f.balance(t, carol))
	assert.Equal(t, existential, f.balance(t, custody))
}

func TestForceEndHostOnlyGameRefundsHost(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.led.SetSafeguardDeposit(f.ctx, root, 3))
	id, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	require.NoError(t, err)

	require.NoError(t, f.led.ForceEndGame(f.ctx, root, id, alice, alice))
	assert.Equal(t, endowment, f.balance(t, alice))
	assert.Equal(t, existential, f.balance(t, custody))

	err = f.led.ForceEndGame(f.ctx, root, id, alice, alice)
	assert.Equal(t, escrow.ErrGameAlreadyEnded, err)
}

func TestRejectionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	id := f.seat(t)
	before := f.total(t)
	events := len(f.sink.kinds())
	game, err := f.led.Game(f.ctx, id)
	require.NoError(t, err)

	_, err = f.led.CreateGame(f.ctx, escrow.Signed(carol), 0)
	assert.Equal(t, escrow.ErrCantBeZero, err)
	assert.Equal(t, escrow.KindInvalidInput, escrow.KindOf(err))

	err = f.led.JoinGame(f.ctx, escrow.Signed(carol), 99)
	assert.Equal(t, escrow.KindNotFound, escrow.KindOf(err))

	err = f.led.JoinGame(f.ctx, escrow.Signed(carol), id)
	assert.Equal(t, escrow.ErrGameFull, err)

	_, err = f.led.EndGame(f.ctx, escrow.Signed(carol), id, alice)
	assert.Equal(t, escrow.ErrNotAPlayer, err)
	assert.Equal(t, escrow.KindUnauthorized, escrow.KindOf(err))

	_, err = f.led.EndGame(f.ctx, escrow.Signed(alice), id, carol)
	assert.Equal(t, escrow.ErrNotAPlayer, err)

	_, err = f.led.EndGame(f.ctx, root, id, alice)
	assert.Equal(t, escrow.ErrNotSigned, err)

	_, err = f.led.CreateGame(f.ctx, escrow.Signed("pauper"), 10)
	assert.Equal(t, escrow.KindInsufficientFunds, escrow.KindOf(err))

	assert.Equal(t, escrow.ErrNotPrivileged, f.led.SetSafeguardDeposit(f.ctx, escrow.Signed(alice), 5))
	assert.Equal(t, escrow.ErrNotPrivileged, f.led.ForceEndGame(f.ctx, escrow.Signed(alice), id, alice, alice))
	assert.Equal(t, escrow.ErrNotPrivileged, f.led.WithdrawFunds(f.ctx, escrow.Signed(alice), 1, alice))
	assert.Equal(t, escrow.ErrCantBeZero, f.led.WithdrawFunds(f.ctx, root, 0, alice))
	assert.Equal(t, escrow.ErrBadAddress, f.led.ForceEndGame(f.ctx, root, id, "", alice))

	// custody is kept alive
	err = f.led.WithdrawFunds(f.ctx, root, f.balance(t, custody), carol)
	assert.Equal(t, escrow.KindInsufficientFunds, escrow.KindOf(err))

	assert.Equal(t, before, f.total(t))
	assert.Len(t, f.sink.kinds(), events)
	idx, err := f.led.GameIndex(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, escrow.GameID(1), idx)
	after, err := f.led.Game(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game, after)
}

func TestOwnGameCannotBeJoined(t *testing.T) {
	f := newFixture(t)
	id, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	require.NoError(t, err)

	err = f.led.JoinGame(f.ctx, escrow.Signed(alice), id)
	assert.Equal(t, escrow.ErrOwnGame, err)
	assert.Equal(t, endowment-10, f.balance(t, alice))
}

func TestEndGameNeedsFullTable(t *testing.T) {
	f := newFixture(t)
	id, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	require.NoError(t, err)

	_, err = f.led.EndGame(f.ctx, escrow.Signed(alice), id, alice)
	assert.Equal(t, escrow.ErrBadAddress, err)

	_, err = f.led.EndGame(f.ctx, escrow.Signed(alice), 42, alice)
	assert.Equal(t, escrow.ErrGameDoesNotExist, err)
}

func TestRepeatedHandshake(t *testing.T) {
	f := newFixture(t)
	id := f.seat(t)

	_, err := f.led.EndGame(f.ctx, escrow.Signed(alice), id, alice)
	require.NoError(t, err)
	before, err := f.led.Game(f.ctx, id)
	require.NoError(t, err)

	_, err = f.led.EndGame(f.ctx, escrow.Signed(alice), id, bob)
	assert.Equal(t, escrow.ErrHandshakeAlreadySet, err)

	after, err := f.led.Game(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEndedGameRejectsEverything(t *testing.T) {
	f := newFixture(t)
	id := f.seat(t)
	require.NoError(t, f.led.ForceEndGame(f.ctx, root, id, bob, bob))

	assert.Equal(t, escrow.ErrGameAlreadyEnded, f.led.JoinGame(f.ctx, escrow.Signed(carol), id))
	_, err := f.led.EndGame(f.ctx, escrow.Signed(alice), id, alice)
	assert.Equal(t, escrow.ErrGameAlreadyEnded, err)
}

func TestDepositIsSnapshotPerSeat(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.led.SetSafeguardDeposit(f.ctx, root, 2))
	id, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	require.NoError(t, err)
	require.NoError(t, f.led.SetSafeguardDeposit(f.ctx, root, 5))
	require.NoError(t, f.led.JoinGame(f.ctx, escrow.Signed(bob), id))
	require.NoError(t, f.led.SetSafeguardDeposit(f.ctx, root, 100))

	_, err = f.led.EndGame(f.ctx, escrow.Signed(alice), id, bob)
	require.NoError(t, err)
	_, err = f.led.EndGame(f.ctx, escrow.Signed(bob), id, bob)
	require.NoError(t, err)

	assert.Equal(t, endowment-10, f.balance(t, alice))
	assert.Equal(t, endowment+10, f.balance(t, bob))
	assert.Equal(t, existential, f.balance(t, custody))
}

func TestGameIndexOverflow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Update(f.ctx, func(tx escrow.Tx) error {
		return tx.SetGameIndex(math.MaxUint32)
	}))

	_, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	assert.Equal(t, escrow.ErrIndexOverflow, err)
	assert.Equal(t, escrow.KindCounterOverflow, escrow.KindOf(err))
	assert.Equal(t, endowment, f.balance(t, alice))
}

func TestConcurrentJoinsSeatExactlyOne(t *testing.T) {
	f := newFixture(t)
	id, err := f.led.CreateGame(f.ctx, escrow.Signed(alice), 10)
	require.NoError(t, err)
	before := f.total(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, who := range []accounts.AccountID{bob, carol} {
		wg.Add(1)
		go func(i int, who accounts.AccountID) {
			defer wg.Done()
			errs[i] = f.led.JoinGame(f.ctx, escrow.Signed(who), id)
		}(i, who)
	}
	wg.Wait()

	joined := 0
	for _, err := range errs {
		if err == nil {
			joined++
			continue
		}
		assert.Equal(t, escrow.ErrGameFull, err)
	}
	assert.Equal(t, 1, joined)
	assert.Equal(t, before, f.total(t))
	assert.Equal(t, existential+20, f.balance(t, custody))
}

func TestEventsJournal(t *testing.T) {
	f := newFixture(t)
	f.seat(t)

	recs, err := f.led.Events(f.ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, escrow.KindSafeguardDepositSet, recs[0].Kind)
	assert.Equal(t, "root:ops", recs[0].Origin)
	assert.Equal(t, escrow.GameCreated{GameID: 0, Host: alice, Bet: 10}, recs[1].Event)
	assert.Equal(t, escrow.PlayerJoined{GameID: 0, Player: bob}, recs[2].Event)
	assert.NotEmpty(t, recs[2].ID)

	recs, err = f.led.Events(f.ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(3), recs[0].Seq)
}
