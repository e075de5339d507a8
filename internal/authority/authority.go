// Package authority decides which origins may call privileged ledger operations.
package authority

import (
	"context"
	"sync"

	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/escrow"
)

// RootOnly grants privilege to the root origin and nobody else.
type RootOnly struct{}

func (RootOnly) IsPrivileged(_ context.Context, origin escrow.Origin) bool {
	return origin.Root
}

// Council grants privilege to the root origin and to signed calls from its
// members. Membership can change at runtime.
type Council struct {
	mu      sync.RWMutex
	members map[accounts.AccountID]struct{}
}

func NewCouncil(members ...accounts.AccountID) *Council {
	c := &Council{members: make(map[accounts.AccountID]struct{}, len(members))}
	for _, m := range members {
		c.Add(m)
	}
	return c
}

func (c *Council) IsPrivileged(_ context.Context, origin escrow.Origin) bool {
	if origin.Root {
		return true
	}
	return c.IsMember(origin.Signer)
}

func (c *Council) IsMember(id accounts.AccountID) bool {
	if id == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[id]
	return ok
}

func (c *Council) Add(id accounts.AccountID) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.members[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Council) Remove(id accounts.AccountID) {
	c.mu.Lock()
	delete(c.members, id)
	c.mu.Unlock()
}
