// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package convcache keeps recent conversation history per chat in memory.
package convcache

import (
	"slices"
	"sync"
	"time"
)

// Cache holds the last turns of each conversation. Conversations that haven't
// been touched for longer than the TTL are forgotten.
//
// Methods of Cache can be safely called by multiple goroutines.
type Cache[T any] struct {
	mu       sync.Mutex
	cache    map[int64]cacheEntry[T]
	ttl      time.Duration
	maxTurns int

	now func() time.Time // used in tests
}

type cacheEntry[T any] struct {
	value        []T
	lastAccessed time.Time
}

// New returns an empty [Cache] that keeps at most maxTurns items per chat for
// ttl since the last access.
func New[T any](ttl time.Duration, maxTurns int) *Cache[T] {
	return &Cache[T]{
		cache:    make(map[int64]cacheEntry[T]),
		ttl:      ttl,
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// Get returns a copy of the history of chatID, oldest first.
func (c *Cache[T]) Get(chatID int64) []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[chatID]
	if !ok {
		return nil
	}
	if c.now().Sub(entry.lastAccessed) > c.ttl {
		delete(c.cache, chatID)
		return nil
	}
	entry.lastAccessed = c.now()
	c.cache[chatID] = entry
	return slices.Clone(entry.value)
}

// Append adds items to the history of chatID, dropping the oldest ones when
// the history grows past the limit.
func (c *Cache[T]) Append(chatID int64, items ...T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[chatID]
	if ok && c.now().Sub(entry.lastAccessed) > c.ttl {
		entry = cacheEntry[T]{}
	}
	entry.value = append(entry.value, items...)
	if c.maxTurns > 0 && len(entry.value) > c.maxTurns {
		entry.value = slices.Clone(entry.value[len(entry.value)-c.maxTurns:])
	}
	entry.lastAccessed = c.now()
	c.cache[chatID] = entry
}

// Reset forgets the history of chatID.
func (c *Cache[T]) Reset(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, chatID)
}

// Len returns the number of conversations currently held.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Cleanup removes expired conversations.
func (c *Cache[T]) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.cache {
		if c.now().Sub(entry.lastAccessed) > c.ttl {
			delete(c.cache, id)
		}
	}
}
