package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rules = accounts.Rules{ExistentialDeposit: 1}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory(rules)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpdateDiscardsOnError(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx escrow.Tx) error {
		require.NoError(t, tx.SetGameIndex(5))
		require.NoError(t, tx.PutGame(&escrow.Game{ID: 4, Bet: 10, Seats: escrow.HostSeats("alice")}))
		_, err := tx.Endow("alice", accounts.AccountPlayer, 100)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(r escrow.Reader) error {
		idx, err := r.GameIndex()
		require.NoError(t, err)
		assert.Equal(t, escrow.GameID(0), idx)

		_, err = r.Game(4)
		assert.ErrorIs(t, err, escrow.ErrGameDoesNotExist)

		bal, err := r.Balance("alice")
		require.NoError(t, err)
		assert.Zero(t, bal)
		return nil
	}))
}

func TestUpdateCommitsTogether(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx escrow.Tx) error {
		if _, err := tx.Endow("alice", accounts.AccountPlayer, 100); err != nil {
			return err
		}
		if _, err := tx.Endow("custody", accounts.AccountCustody, 1); err != nil {
			return err
		}
		if err := tx.Transfer("alice", "custody", 40, escrow.Memo{Reference: "bet"}); err != nil {
			return err
		}
		if err := tx.SetSafeguardDeposit(7); err != nil {
			return err
		}
		return tx.PutGame(&escrow.Game{ID: 0, Bet: 40, Seats: escrow.HostSeats("alice")})
	}))

	require.NoError(t, s.View(ctx, func(r escrow.Reader) error {
		bal, _ := r.Balance("alice")
		assert.Equal(t, accounts.Balance(60), bal)
		bal, _ = r.Balance("custody")
		assert.Equal(t, accounts.Balance(41), bal)

		d, err := r.SafeguardDeposit()
		require.NoError(t, err)
		assert.Equal(t, accounts.Balance(7), d)

		g, err := r.Game(0)
		require.NoError(t, err)
		host, ok := g.Seats.Host()
		assert.True(t, ok)
		assert.Equal(t, accounts.AccountID("alice"), host)
		return nil
	}))
}

func TestEventsRange(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx escrow.Tx) error {
		for i := 0; i < 3; i++ {
			rec := &escrow.Record{
				ID:    "ev",
				Kind:  escrow.KindGameCreated,
				At:    time.Now().UTC(),
				Event: escrow.GameCreated{GameID: escrow.GameID(i), Host: "alice", Bet: 10},
			}
			if err := tx.Append(rec); err != nil {
				return err
			}
			assert.Equal(t, uint64(i+1), rec.Seq)
		}
		return nil
	}))

	recs, err := s.Events(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(2), recs[0].Seq)
	assert.Equal(t, escrow.GameCreated{GameID: 1, Host: "alice", Bet: 10}, recs[0].Event)

	recs, err = s.Events(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), recs[0].Seq)

	recs, err = s.Events(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestReopenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	ctx := context.Background()

	s, err := Open(path, rules)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx escrow.Tx) error { return tx.SetGameIndex(9) }))
	require.NoError(t, s.Close())

	s, err = Open(path, rules)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(ctx, func(r escrow.Reader) error {
		idx, err := r.GameIndex()
		assert.Equal(t, escrow.GameID(9), idx)
		return err
	}))
}

func TestCredentials(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.GetCredential(ctx, "ops")
	assert.ErrorIs(t, err, admin.ErrCredentialNotFound)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutCredential(ctx, &models.Credential{
		AccountID: "ops", KeyHash: "hash-1", Roles: []string{admin.RoleRoot}, CreatedAt: first, UpdatedAt: first,
	}))
	require.NoError(t, s.PutCredential(ctx, &models.Credential{
		AccountID: "ops", KeyHash: "hash-2", Roles: []string{admin.RoleRoot}, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))

	c, err := s.GetCredential(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", c.KeyHash)
	assert.True(t, c.CreatedAt.Equal(first))
	assert.Equal(t, []string{admin.RoleRoot}, []string(c.Roles))
}

func TestAuditLogs(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for i, account := range []string{"ops", "alice", "ops", "ops"} {
		require.NoError(t, s.AppendAudit(ctx, &models.AdminAudit{
			Account: account, Action: "withdraw_funds", Details: []byte(`{}`), Success: i%2 == 0,
		}))
	}

	all, err := s.AuditLogs(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(4), all[0].ID)
	assert.Equal(t, int64(1), all[3].ID)

	ops, err := s.AuditLogs(ctx, "ops", 10, 1)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, int64(3), ops[0].ID)
	assert.Equal(t, int64(1), ops[1].ID)

	page, err := s.AuditLogs(ctx, "", 1, 0)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
