// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package entitlement records which users have paid for premium access.
//
// Entitlement is a plain yes/no flag per user: there are no tiers and no
// expiry dates. Grants and revocations come from billing events; reads come
// from the access gate on every user message.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// UserID identifies a messaging platform account. It is opaque: the same
// account must always map to the same UserID, whether it arrived as a number
// (Telegram updates) or as a string (query parameters, Stripe metadata).
type UserID string

// ParseUserID canonicalises s into a [UserID]. Surrounding whitespace is
// removed, and decimal numbers lose a leading plus sign and leading zeros so
// that "42", " 42 " and "+042" are the same user. Anything else is kept
// verbatim.
func ParseUserID(s string) UserID {
	s = strings.TrimSpace(s)
	if !isDecimal(s) {
		return UserID(s)
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg, s = true, s[1:]
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	if neg {
		s = "-" + s
	}
	return UserID(s)
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// UserIDFromInt64 returns the [UserID] of a numeric account ID.
func UserIDFromInt64(id int64) UserID { return UserID(strconv.FormatInt(id, 10)) }

// IsZero reports whether id is empty.
func (id UserID) IsZero() bool { return id == "" }

// Int64 returns id as a number, if it is one.
func (id UserID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

func (id UserID) String() string { return string(id) }

// Store holds the set of entitled users.
//
// Grant and Revoke are idempotent and return only after the change is durable.
// Implementations must be safe for concurrent use, and concurrent mutations of
// the same user must not be lost.
type Store interface {
	// IsEntitled reports whether id has premium access. It never fails: if the
	// backend can't be read, the answer is false.
	IsEntitled(ctx context.Context, id UserID) bool
	// Grant gives id premium access. Granting an entitled user is not an error.
	Grant(ctx context.Context, id UserID) error
	// Revoke takes premium access away from id. Revoking a user that isn't
	// entitled is not an error.
	Revoke(ctx context.Context, id UserID) error
	// List returns all entitled users, sorted.
	List(ctx context.Context) ([]UserID, error)
	// Close releases the resources held by the store.
	Close() error
}

// Pinger is implemented by stores that can check their backend connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrStoreWrite is matched by every [StoreWriteError].
var ErrStoreWrite = errors.New("entitlement store write failed")

// ErrEmptyUserID is returned when Grant or Revoke get an empty [UserID].
var ErrEmptyUserID = errors.New("empty user ID")

// StoreWriteError is returned when a grant or revocation couldn't be persisted.
// The store's view is unchanged in that case.
type StoreWriteError struct {
	Op   string // "grant" or "revoke"
	User UserID
	Err  error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.User, e.Err)
}

func (e *StoreWriteError) Unwrap() []error { return []error{ErrStoreWrite, e.Err} }
