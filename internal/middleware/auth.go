package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/escrow"
)

// context keys set by AuthMiddleware
const (
	ctxAccount = "account_id"
	ctxRoles   = "roles"
)

// Claims are the claims of an access token.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for account.
func IssueToken(secret, account string, roles []string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return signed, exp, err
}

// ParseToken validates token and returns its claims.
func ParseToken(secret, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// AuthMiddleware validates the bearer JWT and stores the account and its roles in the context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(secret, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxAccount, claims.Subject)
		c.Set(ctxRoles, claims.Roles)
		c.Next()
	}
}

// Account returns the authenticated account.
func Account(c *gin.Context) accounts.AccountID {
	return accounts.AccountID(c.GetString(ctxAccount))
}

// HasRole reports whether the authenticated token carries role.
func HasRole(c *gin.Context, role string) bool {
	for _, r := range c.GetStringSlice(ctxRoles) {
		if r == role {
			return true
		}
	}
	return false
}

// SignedOrigin is the origin of an ordinary call by the authenticated account.
func SignedOrigin(c *gin.Context) escrow.Origin {
	return escrow.Signed(Account(c))
}

// PrivilegedOrigin is the origin of an administrative call: root for root
// tokens, otherwise the signed account, which the ledger's authority may
// still accept.
func PrivilegedOrigin(c *gin.Context) escrow.Origin {
	if HasRole(c, admin.RoleRoot) {
		return escrow.Root(Account(c))
	}
	return escrow.Signed(Account(c))
}
