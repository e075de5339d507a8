package pgstore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/models"
)

func (s *Store) GetCredential(ctx context.Context, accountID string) (*models.Credential, error) {
	var c models.Credential
	err := s.db.GetContext(ctx, &c, `SELECT account_id, key_hash, roles, created_at, updated_at FROM credentials WHERE account_id=$1`, accountID)
	if err == sql.ErrNoRows {
		return nil, admin.ErrCredentialNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load credential %s", accountID)
	}
	return &c, nil
}

func (s *Store) PutCredential(ctx context.Context, c *models.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (account_id, key_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			roles = EXCLUDED.roles,
			updated_at = NOW()
	`, c.AccountID, c.KeyHash, c.Roles)
	return errors.Wrapf(err, "save credential %s", c.AccountID)
}

func (s *Store) AppendAudit(ctx context.Context, entry *models.AdminAudit) error {
	err := s.db.GetContext(ctx, &entry.ID, `
		INSERT INTO admin_audit (account, ip, route, action, details, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id
	`, entry.Account, entry.IP, entry.Route, entry.Action, []byte(entry.Details), entry.Success)
	return errors.Wrap(err, "append audit entry")
}

func (s *Store) AuditLogs(ctx context.Context, account string, limit, offset int) ([]models.AdminAudit, error) {
	var logs []models.AdminAudit
	var err error
	if account == "" {
		err = s.db.SelectContext(ctx, &logs, `
			SELECT id, account, ip, route, action, details, success, created_at
			FROM admin_audit
			ORDER BY id DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &logs, `
			SELECT id, account, ip, route, action, details, success, created_at
			FROM admin_audit
			WHERE account = $1
			ORDER BY id DESC
			LIMIT $2 OFFSET $3
		`, account, limit, offset)
	}
	return logs, errors.Wrap(err, "load audit log")
}
