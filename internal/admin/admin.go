package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/playmatatu/escrow/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// roles carried by credentials and access tokens
const (
	RolePlayer = "player"
	RoleRoot   = "root"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidKey         = errors.New("invalid key")
)

// Store persists API credentials and the admin audit trail.
type Store interface {
	// GetCredential returns ErrCredentialNotFound for unknown accounts.
	GetCredential(ctx context.Context, accountID string) (*models.Credential, error)
	PutCredential(ctx context.Context, c *models.Credential) error
	AppendAudit(ctx context.Context, entry *models.AdminAudit) error
	// AuditLogs returns entries newest first, optionally for one account only.
	AuditLogs(ctx context.Context, account string, limit, offset int) ([]models.AdminAudit, error)
}

// VerifyKey checks if the provided key matches the stored hash
func VerifyKey(hashedKey, plainKey string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(plainKey))
	return err == nil
}

// CreateCredential creates or replaces the credential of an account.
func CreateCredential(ctx context.Context, store Store, accountID, plainKey string, roles []string) error {
	if accountID == "" || plainKey == "" {
		return errors.New("account and key are required")
	}
	if len(roles) == 0 {
		roles = []string{RolePlayer}
	}
	for _, r := range roles {
		if r != RolePlayer && r != RoleRoot {
			return fmt.Errorf("unknown role %q", r)
		}
	}

	hashedKey, err := bcrypt.GenerateFromPassword([]byte(plainKey), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}

	now := time.Now().UTC()
	return store.PutCredential(ctx, &models.Credential{
		AccountID: accountID,
		KeyHash:   string(hashedKey),
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// ValidateCredential validates an account + key combination.
func ValidateCredential(ctx context.Context, store Store, accountID, key string) (*models.Credential, error) {
	cred, err := store.GetCredential(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			log.Printf("[ADMIN] No credential found for account: %s", accountID)
			return nil, ErrCredentialNotFound
		}
		log.Printf("[ADMIN] Store error: %v", err)
		return nil, fmt.Errorf("store error: %w", err)
	}

	if !VerifyKey(cred.KeyHash, key) {
		log.Printf("[ADMIN] Key verification failed for account: %s", accountID)
		return nil, ErrInvalidKey
	}
	return cred, nil
}

// HasRole reports whether the credential carries role.
func HasRole(cred *models.Credential, role string) bool {
	for _, r := range cred.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// LogAction records a privileged call in the audit log. Failures are logged and returned.
func LogAction(ctx context.Context, store Store, account, ip, route, action string, details map[string]interface{}, success bool) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		log.Printf("Failed to marshal admin audit details: %v", err)
		detailsJSON = []byte("{}")
	}

	err = store.AppendAudit(ctx, &models.AdminAudit{
		Account:   account,
		IP:        ip,
		Route:     route,
		Action:    action,
		Details:   detailsJSON,
		Success:   success,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Failed to log admin action: %v", err)
	}
	return err
}
