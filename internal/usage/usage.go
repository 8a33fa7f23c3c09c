// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package usage counts free interactions per user.
package usage

import (
	"context"
	"sync"

	"go.leyla.chat/leyla/internal/entitlement"
)

// DefaultFreeQuota is the number of messages a user can send before being
// asked to subscribe.
const DefaultFreeQuota = 3

// Counter tracks how many free interactions each user has had.
//
// Counts don't have to survive a restart. Implementations must be safe for
// concurrent use and must not lose increments of the same user.
type Counter interface {
	// ConsumeOne increments the count of id and returns the value it had before
	// the increment.
	ConsumeOne(ctx context.Context, id entitlement.UserID) int
	// Reset sets the count of id back to zero.
	Reset(ctx context.Context, id entitlement.UserID)
	// Used returns the current count of id without changing it.
	Used(ctx context.Context, id entitlement.UserID) int
}

// MemCounter is an in-memory [Counter].
type MemCounter struct {
	mu     sync.Mutex
	counts map[entitlement.UserID]int
}

// NewMemCounter returns an empty [MemCounter].
func NewMemCounter() *MemCounter {
	return &MemCounter{counts: make(map[entitlement.UserID]int)}
}

// ConsumeOne implements [Counter].
func (c *MemCounter) ConsumeOne(_ context.Context, id entitlement.UserID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	used := c.counts[id]
	c.counts[id] = used + 1
	return used
}

// Reset implements [Counter].
func (c *MemCounter) Reset(_ context.Context, id entitlement.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, id)
}

// Used implements [Counter].
func (c *MemCounter) Used(_ context.Context, id entitlement.UserID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}
