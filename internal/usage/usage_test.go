// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go.leyla.chat/leyla/internal/entitlement"
	"go.leyla.chat/leyla/internal/testutil"
)

func testCounter(t *testing.T, c Counter) {
	ctx := context.Background()

	testutil.AssertEqual(t, c.Used(ctx, "42"), 0)
	for want := range 4 {
		testutil.AssertEqual(t, c.ConsumeOne(ctx, "42"), want)
	}
	testutil.AssertEqual(t, c.Used(ctx, "42"), 4)
	testutil.AssertEqual(t, c.Used(ctx, "7"), 0)

	c.Reset(ctx, "42")
	testutil.AssertEqual(t, c.Used(ctx, "42"), 0)
	testutil.AssertEqual(t, c.ConsumeOne(ctx, "42"), 0)

	// No lost updates under contention.
	const n = 100
	var wg sync.WaitGroup
	seen := make([]bool, n)
	var mu sync.Mutex
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			before := c.ConsumeOne(ctx, "busy")
			mu.Lock()
			defer mu.Unlock()
			if before < 0 || before >= n || seen[before] {
				t.Errorf("ConsumeOne returned %d twice or out of range", before)
				return
			}
			seen[before] = true
		}()
	}
	wg.Wait()
	testutil.AssertEqual(t, c.Used(ctx, "busy"), n)
}

func TestMemCounter(t *testing.T) {
	testCounter(t, NewMemCounter())
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCounter(t *testing.T) {
	_, client := newMiniredis(t)
	testCounter(t, NewRedisCounter(client, RedisOptions{}, zerolog.Nop()))
}

func TestRedisCounterKeysAndTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	c := NewRedisCounter(client, RedisOptions{TTL: time.Hour}, zerolog.Nop())

	c.ConsumeOne(t.Context(), entitlement.UserID("100"))
	c.ConsumeOne(t.Context(), entitlement.UserID("100"))

	got, err := mr.Get("leyla:usage:100")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, "2")
	testutil.AssertEqual(t, mr.TTL("leyla:usage:100"), time.Hour)

	mr.FastForward(2 * time.Hour)
	testutil.AssertEqual(t, c.Used(t.Context(), "100"), 0)
}

func TestRedisCounterFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := NewRedisCounter(client, RedisOptions{}, zerolog.Nop())
	mr.Close()

	testutil.AssertEqual(t, c.ConsumeOne(t.Context(), "42"), 0)
	testutil.AssertEqual(t, c.Used(t.Context(), "42"), 0)
	c.Reset(t.Context(), "42")
}

func TestDialRedis(t *testing.T) {
	mr, _ := newMiniredis(t)
	client, err := DialRedis(t.Context(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if _, err := DialRedis(t.Context(), "not a url"); err == nil {
		t.Fatal("want error for a bad URL")
	}
}
