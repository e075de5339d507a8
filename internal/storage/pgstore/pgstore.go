// Package pgstore keeps the ledger in PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/models"
)

// Store is an escrow.Store over the schema in internal/migrations.
type Store struct {
	db    *sqlx.DB
	rules accounts.Rules
}

func New(db *sqlx.DB, rules accounts.Rules) *Store {
	return &Store{db: db, rules: rules}
}

// Close is a no-op; the caller owns the connection pool.
func (s *Store) Close() error { return nil }

func (s *Store) Update(ctx context.Context, fn func(escrow.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	if err := fn(&pgTx{reader: reader{q: tx, forUpdate: true}, tx: tx, rules: s.rules}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	tx = nil
	return nil
}

func (s *Store) View(ctx context.Context, fn func(escrow.Reader) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return errors.Wrap(err, "begin read-only transaction")
	}
	defer tx.Rollback()
	return fn(reader{q: tx})
}

func (s *Store) Events(ctx context.Context, after uint64, limit int) ([]escrow.Record, error) {
	var rows []models.LedgerEvent
	err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, event_id, kind, origin, payload, created_at
		FROM ledger_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, int64(after), limit)
	if err != nil {
		return nil, errors.Wrap(err, "load events")
	}

	out := make([]escrow.Record, 0, len(rows))
	for _, r := range rows {
		ev, err := escrow.DecodeEvent(escrow.EventKind(r.Kind), r.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "decode event %d", r.Seq)
		}
		out = append(out, escrow.Record{
			Seq:    uint64(r.Seq),
			ID:     r.EventID,
			Kind:   escrow.EventKind(r.Kind),
			Origin: r.Origin,
			At:     r.CreatedAt.UTC(),
			Event:  ev,
		})
	}
	return out, nil
}

// querier is satisfied by *sqlx.Tx.
type querier interface {
	sqlx.Queryer
	sqlx.Execer
}

type reader struct {
	q querier
	// rows read inside an update are locked until commit
	forUpdate bool
}

func (r reader) lock(query string) string {
	if r.forUpdate {
		return query + " FOR UPDATE"
	}
	return query
}

func (r reader) GameIndex() (escrow.GameID, error) {
	var idx int64
	if err := sqlx.Get(r.q, &idx, r.lock(`SELECT game_index FROM ledger_params WHERE id=1`)); err != nil {
		return 0, errors.Wrap(err, "load game index")
	}
	return escrow.GameID(idx), nil
}

func (r reader) SafeguardDeposit() (accounts.Balance, error) {
	var d accounts.Balance
	if err := sqlx.Get(r.q, &d, r.lock(`SELECT safeguard_deposit FROM ledger_params WHERE id=1`)); err != nil {
		return 0, errors.Wrap(err, "load safeguard deposit")
	}
	return d, nil
}

func (r reader) Game(id escrow.GameID) (*escrow.Game, error) {
	var row models.GameRow
	err := sqlx.Get(r.q, &row, r.lock(`
		SELECT id, bet, host, joiner, ended, host_proposal, joiner_proposal,
		       host_deposit, joiner_deposit, slashed, created_at, updated_at
		FROM games WHERE id=$1`), int64(id))
	if err == sql.ErrNoRows {
		return nil, escrow.ErrGameDoesNotExist
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load game %d", id)
	}
	return gameFromRow(&row)
}

func (r reader) Balance(id accounts.AccountID) (accounts.Balance, error) {
	return accounts.GetBalance(r.q, id)
}

type pgTx struct {
	reader
	tx    *sqlx.Tx
	rules accounts.Rules
}

func (t *pgTx) SetGameIndex(next escrow.GameID) error {
	_, err := t.tx.Exec(`UPDATE ledger_params SET game_index=$1, updated_at=NOW() WHERE id=1`, int64(next))
	return errors.Wrap(err, "store game index")
}

func (t *pgTx) SetSafeguardDeposit(deposit accounts.Balance) error {
	_, err := t.tx.Exec(`UPDATE ledger_params SET safeguard_deposit=$1, updated_at=NOW() WHERE id=1`, deposit)
	return errors.Wrap(err, "store safeguard deposit")
}

func (t *pgTx) PutGame(g *escrow.Game) error {
	row := rowFromGame(g)
	_, err := t.tx.NamedExec(`
		INSERT INTO games (id, bet, host, joiner, ended, host_proposal, joiner_proposal,
		                   host_deposit, joiner_deposit, slashed, created_at, updated_at)
		VALUES (:id, :bet, :host, :joiner, :ended, :host_proposal, :joiner_proposal,
		        :host_deposit, :joiner_deposit, :slashed, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			joiner = EXCLUDED.joiner,
			ended = EXCLUDED.ended,
			host_proposal = EXCLUDED.host_proposal,
			joiner_proposal = EXCLUDED.joiner_proposal,
			joiner_deposit = EXCLUDED.joiner_deposit,
			slashed = EXCLUDED.slashed,
			updated_at = EXCLUDED.updated_at
	`, row)
	return errors.Wrapf(err, "store game %d", g.ID)
}

func (t *pgTx) Transfer(from, to accounts.AccountID, amount accounts.Balance, memo escrow.Memo) error {
	refType := accounts.RefWithdraw
	var refID sql.NullInt64
	if memo.GameID != nil {
		refType = accounts.RefGame
		refID = sql.NullInt64{Int64: int64(*memo.GameID), Valid: true}
	}
	desc := memo.Note
	if memo.Reference != "" {
		desc = fmt.Sprintf("%s: %s", memo.Reference, memo.Note)
	}
	return accounts.Transfer(t.tx, t.rules, from, to, amount, refType, refID, desc)
}

func (t *pgTx) Endow(id accounts.AccountID, accountType string, amount accounts.Balance) (bool, error) {
	return accounts.Endow(t.tx, id, accountType, amount)
}

func (t *pgTx) Append(rec *escrow.Record) error {
	payload, err := json.Marshal(rec.Event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	var seq int64
	err = t.tx.Get(&seq, `
		INSERT INTO ledger_events (event_id, kind, origin, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`, rec.ID, string(rec.Kind), rec.Origin, payload, rec.At)
	if err != nil {
		return errors.Wrap(err, "journal event")
	}
	rec.Seq = uint64(seq)
	return nil
}

func nullAccount(id accounts.AccountID, ok bool) sql.NullString {
	return sql.NullString{String: string(id), Valid: ok && id != ""}
}

func rowFromGame(g *escrow.Game) *models.GameRow {
	host, hasHost := g.Seats.Host()
	joiner, hasJoiner := g.Seats.Joiner()
	row := &models.GameRow{
		ID:        int64(g.ID),
		Bet:       g.Bet,
		Host:      nullAccount(host, hasHost),
		Joiner:    nullAccount(joiner, hasJoiner),
		Ended:     g.Ended,
		Slashed:   g.Slashed,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
	if hasHost {
		p, ok := g.Proposals[host]
		row.HostProposal = nullAccount(p, ok)
		row.HostDeposit = g.Deposits[host]
	}
	if hasJoiner {
		p, ok := g.Proposals[joiner]
		row.JoinerProposal = nullAccount(p, ok)
		row.JoinerDeposit = g.Deposits[joiner]
	}
	return row
}

func gameFromRow(row *models.GameRow) (*escrow.Game, error) {
	g := &escrow.Game{
		ID:        escrow.GameID(row.ID),
		Bet:       row.Bet,
		Ended:     row.Ended,
		Slashed:   row.Slashed,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if !row.Host.Valid {
		return g, nil
	}

	host := accounts.AccountID(row.Host.String)
	g.Seats = escrow.HostSeats(host)
	g.Deposits = map[accounts.AccountID]accounts.Balance{host: row.HostDeposit}
	g.Proposals = make(escrow.Proposals)
	if row.HostProposal.Valid {
		g.Proposals[host] = accounts.AccountID(row.HostProposal.String)
	}
	if row.Joiner.Valid {
		joiner := accounts.AccountID(row.Joiner.String)
		seats, err := g.Seats.Seat(joiner)
		if err != nil {
			return nil, errors.Wrapf(err, "game %d has invalid seats", row.ID)
		}
		g.Seats = seats
		g.Deposits[joiner] = row.JoinerDeposit
		if row.JoinerProposal.Valid {
			g.Proposals[joiner] = accounts.AccountID(row.JoinerProposal.String)
		}
	}
	return g, nil
}
