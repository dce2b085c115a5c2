package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eleven-am/scribe-backend/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL  = 2 * time.Minute
	countersTTL = 30 * 24 * time.Hour
)

// ErrHeld is returned when another instance owns the session lease.
var ErrHeld = errors.New("session lease held by another instance")

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store keeps cross-instance ownership of live transcription sessions and
// daily activity counters in redis.
type Store struct {
	redis *redis.Client
	owner string
	ttl   time.Duration
}

func NewStore(redisClient *redis.Client, owner string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{redis: redisClient, owner: owner, ttl: ttl}
}

func (s *Store) Owner() string {
	return s.owner
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

func leaseKey(id int64) string {
	return "scribe:lease:" + strconv.FormatInt(id, 10)
}

func countersKey(date string) string {
	return "scribe:metrics:" + date
}

func (s *Store) Claim(ctx context.Context, id int64) error {
	ok, err := s.redis.SetNX(ctx, leaseKey(id), s.owner, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim lease: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Refresh extends a lease this instance holds. It returns ErrHeld if the
// lease expired and was taken by someone else, or shared.ErrNotFound if it
// lapsed entirely.
func (s *Store) Refresh(ctx context.Context, id int64) error {
	n, err := refreshScript.Run(ctx, s.redis, []string{leaseKey(id)}, s.owner, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Holder(ctx, id); err != nil {
		return err
	}
	return ErrHeld
}

// Release drops the lease if this instance still holds it.
func (s *Store) Release(ctx context.Context, id int64) error {
	if err := releaseScript.Run(ctx, s.redis, []string{leaseKey(id)}, s.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *Store) Holder(ctx context.Context, id int64) (string, error) {
	owner, err := s.redis.Get(ctx, leaseKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

type Counter string

const (
	CounterSessions      Counter = "sessions"
	CounterCompleted     Counter = "completed"
	CounterFailed        Counter = "failed"
	CounterChunks        Counter = "chunks"
	CounterDroppedChunks Counter = "dropped_chunks"
)

type DailyCounts struct {
	Date          string `json:"date"`
	Sessions      int64  `json:"sessions"`
	Completed     int64  `json:"completed"`
	Failed        int64  `json:"failed"`
	Chunks        int64  `json:"chunks"`
	DroppedChunks int64  `json:"dropped_chunks"`
}

func (s *Store) Increment(ctx context.Context, field Counter, value int64) error {
	key := countersKey(time.Now().UTC().Format("2006-01-02"))

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, string(field), value)
	pipe.Expire(ctx, key, countersTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// DailyCounts returns the counters for the last n days, newest first,
// skipping days without activity.
func (s *Store) DailyCounts(ctx context.Context, days int) ([]*DailyCounts, error) {
	now := time.Now().UTC()
	var out []*DailyCounts

	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		data, err := s.redis.HGetAll(ctx, countersKey(date)).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		c := &DailyCounts{Date: date}
		c.Sessions, _ = strconv.ParseInt(data[string(CounterSessions)], 10, 64)
		c.Completed, _ = strconv.ParseInt(data[string(CounterCompleted)], 10, 64)
		c.Failed, _ = strconv.ParseInt(data[string(CounterFailed)], 10, 64)
		c.Chunks, _ = strconv.ParseInt(data[string(CounterChunks)], 10, 64)
		c.DroppedChunks, _ = strconv.ParseInt(data[string(CounterDroppedChunks)], 10, 64)
		out = append(out, c)
	}

	return out, nil
}
