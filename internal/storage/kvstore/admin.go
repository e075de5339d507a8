package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/models"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	keyAuditSeq = []byte("auditseq")
	prefixAudit = []byte("audit-")
)

func credentialKey(accountID string) []byte { return []byte("cred-" + accountID) }

func auditKey(seq int64) []byte { return []byte(fmt.Sprintf("audit-%020d", seq)) }

func (s *Store) GetCredential(ctx context.Context, accountID string) (*models.Credential, error) {
	v, err := get(s.db, credentialKey(accountID))
	if err != nil {
		return nil, errors.Wrapf(err, "load credential %s", accountID)
	}
	if v == nil {
		return nil, admin.ErrCredentialNotFound
	}
	c := &models.Credential{}
	w := credentialJSON{Credential: c}
	if err := json.Unmarshal(v, &w); err != nil {
		return nil, errors.Wrapf(err, "decode credential %s", accountID)
	}
	c.KeyHash = w.KeyHash
	return c, nil
}

func (s *Store) PutCredential(ctx context.Context, c *models.Credential) error {
	if old, err := s.GetCredential(ctx, c.AccountID); err == nil {
		c.CreatedAt = old.CreatedAt
	}
	v, err := json.Marshal(credentialJSON{Credential: c, KeyHash: c.KeyHash})
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.Put(credentialKey(c.AccountID), v, nil), "save credential %s", c.AccountID)
}

// credentialJSON keeps the hash, which the API form of Credential hides.
type credentialJSON struct {
	*models.Credential
	KeyHash string `json:"key_hash"`
}

func (s *Store) AppendAudit(ctx context.Context, entry *models.AdminAudit) error {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return errors.Wrap(err, "open transaction")
	}
	v, err := get(tr, keyAuditSeq)
	if err != nil {
		tr.Discard()
		return err
	}
	var seq int64
	if v != nil {
		seq = int64(binary.BigEndian.Uint64(v))
	}
	seq++
	entry.ID = seq

	raw, err := json.Marshal(entry)
	if err != nil {
		tr.Discard()
		return err
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	if err := tr.Put(keyAuditSeq, b, nil); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Put(auditKey(seq), raw, nil); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		tr.Discard()
		return errors.Wrap(err, "commit audit entry")
	}
	return nil
}

func (s *Store) AuditLogs(ctx context.Context, account string, limit, offset int) ([]models.AdminAudit, error) {
	it := s.db.NewIterator(util.BytesPrefix(prefixAudit), nil)
	defer it.Release()

	var out []models.AdminAudit
	skipped := 0
	for ok := it.Last(); ok && len(out) < limit; ok = it.Prev() {
		var e models.AdminAudit
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, errors.Wrapf(err, "decode audit entry %s", it.Key())
		}
		if account != "" && e.Account != account {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, errors.Wrap(it.Error(), "iterate audit log")
}
