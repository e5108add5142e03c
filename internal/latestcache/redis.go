package latestcache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	telemetry "workspace-mood-monitor/internal/telemetry/domain"
)

const defaultKeyPrefix = "moodmon:latest"

// Redis shares the cache between workers. Each (room, desk) is one hash:
// field <metric> holds the value, <metric>:at the cache time and <metric>:obs
// the observation time, both in unix ms.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *log.Logger
}

// RedisOption configures the redis cache.
type RedisOption func(*Redis)

// WithRedisTTL overrides the freshness window.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithKeyPrefix overrides the hash key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedisClient builds a go-redis client.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// NewRedis constructs a redis-backed cache.
func NewRedis(client *redis.Client, logger *log.Logger, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("latest cache: nil redis client")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Redis{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// putNewerScript writes a metric only when it is not older than the stored one.
// KEYS[1] = hash key
// ARGV[1] = metric field
// ARGV[2] = value
// ARGV[3] = cache time (unix ms)
// ARGV[4] = observation time (unix ms)
// ARGV[5] = hash ttl (ms)
var putNewerScript = redis.NewScript(`
local key = KEYS[1]
local field = ARGV[1]
local observed = tonumber(ARGV[4])

local prev = tonumber(redis.call("HGET", key, field .. ":obs"))
if prev and observed < prev then
    return 0
end

redis.call("HSET", key, field, ARGV[2], field .. ":at", ARGV[3], field .. ":obs", ARGV[4])
redis.call("PEXPIRE", key, ARGV[5])
return 1
`)

func (r *Redis) hashKey(room, desk string) string {
	return fmt.Sprintf("%s:%s::%s", r.prefix, room, desk)
}

// Put stores value and refreshes the hash expiry unless a newer observation
// is already cached.
func (r *Redis) Put(ctx context.Context, room, desk string, metric telemetry.Metric, value float64, observedAt time.Time) error {
	now := r.now()
	if observedAt.IsZero() {
		observedAt = now
	}
	err := putNewerScript.Run(ctx, r.client, []string{r.hashKey(room, desk)},
		string(metric),
		strconv.FormatFloat(value, 'f', -1, 64),
		now.UnixMilli(),
		observedAt.UnixMilli(),
		r.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("latest cache: redis put: %w", err)
	}
	return nil
}

// Get returns the cached value when it is present and fresh. Redis errors are
// logged and read as a miss.
func (r *Redis) Get(ctx context.Context, room, desk string, metric telemetry.Metric) (float64, bool) {
	field := string(metric)
	vals, err := r.client.HMGet(ctx, r.hashKey(room, desk), field, field+":at").Result()
	if err != nil {
		r.logger.Printf("latest cache: redis get: %v", err)
		return 0, false
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, false
	}
	rawValue, _ := vals[0].(string)
	rawAt, _ := vals[1].(string)
	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return 0, false
	}
	at, err := strconv.ParseInt(rawAt, 10, 64)
	if err != nil {
		return 0, false
	}
	if r.now().Sub(time.UnixMilli(at)) >= r.ttl {
		return 0, false
	}
	return value, true
}
