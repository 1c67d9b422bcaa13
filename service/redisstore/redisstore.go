// Package redisstore keeps daily-limit counters and processing leases in Redis
// for deployments where several API and worker processes share them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "remit:"

	// Counter and reservation keys outlive their calendar day so late releases
	// still find them.
	keyTTL = 72 * time.Hour
)

// reserveScript adds an amount to a user's daily counter unless that would pass
// the limit, and records the reservation under the transaction. A transaction
// that already has a record adds nothing.
//
// KEYS[1] counter, KEYS[2] reservation. ARGV amount, limit, ttl seconds.
var reserveScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[2], 'state')
if state then
  if state == 'held' then return 1 end
  return 0
end
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if used + amount > tonumber(ARGV[2]) then return 0 end
redis.call('INCRBY', KEYS[1], amount)
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('HSET', KEYS[2], 'state', 'held', 'counter', KEYS[1], 'amount', amount)
redis.call('EXPIRE', KEYS[2], ARGV[3])
return 1
`)

// releaseScript returns a held reservation to its counter exactly once.
//
// KEYS[1] reservation, KEYS[2] the counter the reservation was taken from.
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'held' then return 0 end
if redis.call('HGET', KEYS[1], 'counter') ~= KEYS[2] then
  return redis.error_reply('reservation belongs to another counter')
end
local amount = tonumber(redis.call('HGET', KEYS[1], 'amount'))
redis.call('DECRBY', KEYS[2], amount)
redis.call('HSET', KEYS[1], 'state', 'released')
return 1
`)

// Every key a script touches carries the user as its hash tag, so on Redis
// Cluster a user's counters and reservations share one slot.
func userTag(userID string) string {
	return keyPrefix + "{" + userID + "}:"
}

func counterKey(userID, day string) string {
	return userTag(userID) + "limits:" + day
}

func reservationKey(userID, transactionID string) string {
	return userTag(userID) + "reservations:" + transactionID
}

func leaseKey(transactionID string) string {
	return keyPrefix + "lease:" + transactionID
}

// Counters implements remittance.CounterStore with Lua scripts, so each
// reservation and release is one atomic server-side step.
type Counters struct {
	rdb redis.UniversalClient
}

// NewCounters creates a counter store on rdb.
func NewCounters(rdb redis.UniversalClient) *Counters {
	return &Counters{rdb: rdb}
}

// Reserve implements remittance.CounterStore.
func (c *Counters) Reserve(ctx context.Context, r remittance.Reservation, limit int64) (bool, error) {
	n, err := reserveScript.Run(ctx, c.rdb,
		[]string{counterKey(r.UserID, r.Day), reservationKey(r.UserID, r.TransactionID)},
		r.Amount, limit, int(keyTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("reserve script failed: %w", err)
	}
	return n == 1, nil
}

// Release implements remittance.CounterStore. The counter is read from the
// reservation record, so r.Day may be empty.
func (c *Counters) Release(ctx context.Context, r remittance.Reservation) (bool, error) {
	key := reservationKey(r.UserID, r.TransactionID)
	counter, err := c.rdb.HGet(ctx, key, "counter").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read reservation: %w", err)
	}

	n, err := releaseScript.Run(ctx, c.rdb, []string{key, counter}).Int()
	if err != nil {
		return false, fmt.Errorf("release script failed: %w", err)
	}
	return n == 1, nil
}

// Usage implements remittance.CounterStore.
func (c *Counters) Usage(ctx context.Context, userID, day string) (int64, error) {
	used, err := c.rdb.Get(ctx, counterKey(userID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return used, err
}

// Locker implements remittance.Locker with redsync mutexes that expire after
// the lease TTL.
type Locker struct {
	rs *redsync.Redsync
}

// NewLocker creates a locker on rdb.
func NewLocker(rdb redis.UniversalClient) *Locker {
	return &Locker{rs: redsync.New(goredis.NewPool(rdb))}
}

// TryAcquire implements remittance.Locker. It makes a single attempt.
func (l *Locker) TryAcquire(ctx context.Context, transactionID string, ttl time.Duration) (remittance.Lease, bool, error) {
	mutex := l.rs.NewMutex(leaseKey(transactionID),
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to acquire lease for %s: %w", transactionID, err)
	}
	return &mutexLease{mutex: mutex}, true, nil
}

// isContention reports whether err only means another holder has the lock.
func isContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed)
}

type mutexLease struct {
	mutex *redsync.Mutex
}

// Release unlocks the mutex. A lease that already expired is not an error.
func (l *mutexLease) Release(ctx context.Context) error {
	if _, err := l.mutex.UnlockContext(ctx); err != nil && !errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
