package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	ErrAlreadyClaimed  = errors.New("report or call already claimed by another attempt")
	ErrLockNotObtained = errors.New("could not obtain report lock")
)

// Guard is the claim step in front of artifact work. A claim is a conditional
// write on both the report id and the call id; it fails if either is held.
type Guard interface {
	Claim(ctx context.Context, reportId, callId string) (release func(context.Context), err error)
	// Lock serialises the final store update for one report.
	Lock(ctx context.Context, reportId string) (unlock func(context.Context), err error)
}

const (
	claimReportPrefix = "correlation:claim:report:"
	claimCallPrefix   = "correlation:claim:call:"
	lockReportPrefix  = "lock:correlation:report:"
)

// releaseScript deletes a key only while it still holds our value, so an
// expired claim taken over by another attempt is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisGuard struct {
	rdb     *redis.Client
	locker  *redislock.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewRedisGuard(rdb *redis.Client, locker *redislock.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if locker == nil && rdb != nil {
		locker = redislock.New(rdb)
	}
	return &RedisGuard{rdb: rdb, locker: locker, ttl: ttl, lockTTL: 30 * time.Second}
}

func (g *RedisGuard) Claim(ctx context.Context, reportId, callId string) (func(context.Context), error) {
	reportKey := claimReportPrefix + reportId
	callKey := claimCallPrefix + callId

	ok, err := g.rdb.SetNX(ctx, reportKey, callId, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim report %s: %w", reportId, err)
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}
	ok, err = g.rdb.SetNX(ctx, callKey, reportId, g.ttl).Result()
	if err != nil || !ok {
		_ = releaseScript.Run(ctx, g.rdb, []string{reportKey}, callId).Err()
		if err != nil {
			return nil, fmt.Errorf("claim call %s: %w", callId, err)
		}
		return nil, ErrAlreadyClaimed
	}

	return func(ctx context.Context) {
		_ = releaseScript.Run(ctx, g.rdb, []string{callKey}, reportId).Err()
		_ = releaseScript.Run(ctx, g.rdb, []string{reportKey}, callId).Err()
	}, nil
}

func (g *RedisGuard) Lock(ctx context.Context, reportId string) (func(context.Context), error) {
	lock, err := g.locker.Obtain(ctx, lockReportPrefix+reportId, g.lockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 25),
	})
	if errors.Is(err, redislock.ErrNotObtained) || (err != nil && ctx.Err() != nil) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) { _ = lock.Release(ctx) }, nil
}

// LocalGuard gives the same guarantees within one process. It is used when
// Redis is not configured. Expired claims are dropped on the next Claim and a
// report's lock entry lives only while someone holds or waits for it.
type LocalGuard struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]localClaim
	locks  map[string]*localLock
}

type localClaim struct {
	owner   string
	expires time.Time
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalGuard(ttl time.Duration) *LocalGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LocalGuard{ttl: ttl, now: time.Now, claims: map[string]localClaim{}, locks: map[string]*localLock{}}
}

func (g *LocalGuard) Claim(_ context.Context, reportId, callId string) (func(context.Context), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, c := range g.claims {
		if !now.Before(c.expires) {
			delete(g.claims, k)
		}
	}
	reportKey := claimReportPrefix + reportId
	callKey := claimCallPrefix + callId
	for _, k := range []string{reportKey, callKey} {
		if _, ok := g.claims[k]; ok {
			return nil, ErrAlreadyClaimed
		}
	}
	expires := now.Add(g.ttl)
	g.claims[reportKey] = localClaim{owner: callId, expires: expires}
	g.claims[callKey] = localClaim{owner: reportId, expires: expires}

	return func(context.Context) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if c, ok := g.claims[reportKey]; ok && c.owner == callId && c.expires.Equal(expires) {
			delete(g.claims, reportKey)
		}
		if c, ok := g.claims[callKey]; ok && c.owner == reportId && c.expires.Equal(expires) {
			delete(g.claims, callKey)
		}
	}, nil
}

func (g *LocalGuard) Lock(ctx context.Context, reportId string) (func(context.Context), error) {
	g.mu.Lock()
	l, ok := g.locks[reportId]
	if !ok {
		l = &localLock{ch: make(chan struct{}, 1)}
		g.locks[reportId] = l
	}
	l.refs++
	g.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func(context.Context) {
			<-l.ch
			g.dropLock(reportId, l)
		}, nil
	case <-ctx.Done():
		g.dropLock(reportId, l)
		return nil, ErrLockNotObtained
	}
}

func (g *LocalGuard) dropLock(reportId string, l *localLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(g.locks, reportId)
	}
}
