// Package kvstore keeps the ledger in a goleveldb database, on disk or in memory.
//
// Every Update runs in a leveldb transaction, so the game record, the counters,
// the account records and the journaled events it writes become visible together
// or not at all. Views read from a snapshot.
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"

	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	keyGameIndex = []byte("escrow-index")
	keyDeposit   = []byte("escrow-deposit")
	keyEventSeq  = []byte("escrow-eventseq")
	prefixEvent  = []byte("escrow-event-")
)

func gameKey(id escrow.GameID) []byte {
	return []byte(fmt.Sprintf("escrow-game-%010d", uint32(id)))
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("escrow-event-%020d", seq))
}

// Store is an escrow.Store backed by goleveldb.
type Store struct {
	db    *leveldb.DB
	rules accounts.Rules
}

// Open opens or creates the database at path.
func Open(path string, rules accounts.Rules) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	log.Printf("[STORE] leveldb opened at %s", path)
	return &Store{db: db, rules: rules}, nil
}

// OpenMemory returns a store that lives in memory only.
func OpenMemory(rules accounts.Rules) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory leveldb")
	}
	return &Store{db: db, rules: rules}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Update runs fn in a leveldb transaction. Only one transaction is open at a
// time; others wait for it.
func (s *Store) Update(ctx context.Context, fn func(escrow.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return errors.Wrap(err, "open transaction")
	}
	tx := &kvTx{reader: reader{g: tr}, tr: tr}
	tx.book = accounts.NewKVBook(kvAdapter{g: tr, tr: tr}, s.rules)
	tx.reader.book = tx.book

	if err := fn(tx); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		tr.Discard()
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(escrow.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return errors.Wrap(err, "snapshot")
	}
	defer snap.Release()
	return fn(reader{g: snap, book: accounts.NewKVBook(kvAdapter{g: snap}, s.rules)})
}

func (s *Store) Events(ctx context.Context, after uint64, limit int) ([]escrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng := &util.Range{Start: eventKey(after + 1), Limit: util.BytesPrefix(prefixEvent).Limit}
	it := s.db.NewIterator(rng, nil)
	defer it.Release()

	var out []escrow.Record
	for it.Next() && len(out) < limit {
		var rec escrow.Record
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, errors.Wrapf(err, "decode event %s", it.Key())
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(it.Error(), "iterate events")
}

// getter is the read side shared by transactions and snapshots.
type getter interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

// get returns nil for missing keys.
func get(g getter, key []byte) ([]byte, error) {
	v, err := g.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return v, err
}

// kvAdapter exposes a transaction or a snapshot as an accounts.KV. Snapshots are read-only.
type kvAdapter struct {
	g  getter
	tr *leveldb.Transaction
}

func (a kvAdapter) Get(key []byte) ([]byte, error) { return get(a.g, key) }

func (a kvAdapter) Put(key, value []byte) error {
	if a.tr == nil {
		return errors.New("kvstore: write in a read-only view")
	}
	return a.tr.Put(key, value, nil)
}

type reader struct {
	g    getter
	book *accounts.KVBook
}

func (r reader) GameIndex() (escrow.GameID, error) {
	v, err := get(r.g, keyGameIndex)
	if err != nil || v == nil {
		return 0, errors.Wrap(err, "load game index")
	}
	return escrow.GameID(binary.BigEndian.Uint32(v)), nil
}

func (r reader) SafeguardDeposit() (accounts.Balance, error) {
	v, err := get(r.g, keyDeposit)
	if err != nil || v == nil {
		return 0, errors.Wrap(err, "load safeguard deposit")
	}
	return accounts.Balance(binary.BigEndian.Uint64(v)), nil
}

func (r reader) Game(id escrow.GameID) (*escrow.Game, error) {
	v, err := get(r.g, gameKey(id))
	if err != nil {
		return nil, errors.Wrapf(err, "load game %d", id)
	}
	if v == nil {
		return nil, escrow.ErrGameDoesNotExist
	}
	var g escrow.Game
	if err := json.Unmarshal(v, &g); err != nil {
		return nil, errors.Wrapf(err, "decode game %d", id)
	}
	return &g, nil
}

func (r reader) Balance(id accounts.AccountID) (accounts.Balance, error) {
	return r.book.Balance(id)
}

type kvTx struct {
	reader
	tr   *leveldb.Transaction
	book *accounts.KVBook
}

func (t *kvTx) SetGameIndex(next escrow.GameID) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(next))
	return t.tr.Put(keyGameIndex, b, nil)
}

func (t *kvTx) SetSafeguardDeposit(deposit accounts.Balance) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(deposit))
	return t.tr.Put(keyDeposit, b, nil)
}

func (t *kvTx) PutGame(g *escrow.Game) error {
	v, err := json.Marshal(g)
	if err != nil {
		return errors.Wrapf(err, "encode game %d", g.ID)
	}
	return t.tr.Put(gameKey(g.ID), v, nil)
}

func (t *kvTx) Transfer(from, to accounts.AccountID, amount accounts.Balance, memo escrow.Memo) error {
	if err := t.book.Transfer(from, to, amount); err != nil {
		return err
	}
	if !amount.IsZero() {
		log.Printf("[ACCT] Transfer completed: debit=%s credit=%s amount=%s ref=%s desc=%s", from, to, amount, memo.Reference, memo.Note)
	}
	return nil
}

func (t *kvTx) Endow(id accounts.AccountID, accountType string, amount accounts.Balance) (bool, error) {
	ok, err := t.book.Endow(id, accountType, amount)
	if ok {
		log.Printf("[ACCT] Genesis endowment: account=%s amount=%s", id, amount)
	}
	return ok, err
}

func (t *kvTx) Append(rec *escrow.Record) error {
	v, err := get(t.tr, keyEventSeq)
	if err != nil {
		return errors.Wrap(err, "load event sequence")
	}
	var seq uint64
	if v != nil {
		seq = binary.BigEndian.Uint64(v)
	}
	seq++
	rec.Seq = seq

	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	if err := t.tr.Put(keyEventSeq, b, nil); err != nil {
		return err
	}
	return t.tr.Put(eventKey(seq), raw, nil)
}
