package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/playmatatu/escrow/internal/accounts"
)

// GameRow is a row of the games table. Seats and proposals are flattened into
// nullable columns; the escrow package owns the structured form.
type GameRow struct {
	ID             int64            `db:"id"`
	Bet            accounts.Balance `db:"bet"`
	Host           sql.NullString   `db:"host"`
	Joiner         sql.NullString   `db:"joiner"`
	Ended          bool             `db:"ended"`
	HostProposal   sql.NullString   `db:"host_proposal"`
	JoinerProposal sql.NullString   `db:"joiner_proposal"`
	HostDeposit    accounts.Balance `db:"host_deposit"`
	JoinerDeposit  accounts.Balance `db:"joiner_deposit"`
	Slashed        accounts.Balance `db:"slashed"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

// LedgerEvent is a journaled ledger event.
type LedgerEvent struct {
	Seq       int64           `db:"seq" json:"seq"`
	EventID   string          `db:"event_id" json:"event_id"`
	Kind      string          `db:"kind" json:"kind"`
	Origin    string          `db:"origin" json:"origin"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Credential is an API credential used to obtain access tokens.
type Credential struct {
	AccountID string         `db:"account_id" json:"account_id"`
	KeyHash   string         `db:"key_hash" json:"-"`
	Roles     pq.StringArray `db:"roles" json:"roles"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// AdminAudit is one entry of the privileged-call audit trail.
type AdminAudit struct {
	ID        int64           `db:"id" json:"id"`
	Account   string          `db:"account" json:"account"`
	IP        string          `db:"ip" json:"ip"`
	Route     string          `db:"route" json:"route"`
	Action    string          `db:"action" json:"action"`
	Details   json.RawMessage `db:"details" json:"details"`
	Success   bool            `db:"success" json:"success"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
