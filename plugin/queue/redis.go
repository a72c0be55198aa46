package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the queue keys.
	KeyPrefix string
	// PollInterval is how long Receive waits between empty polls.
	PollInterval time.Duration
	// VisibilityTimeout returns a claimed but unacknowledged message to the queue.
	VisibilityTimeout time.Duration
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:              "localhost:6379",
		KeyPrefix:         "assetvault:queue:embedding",
		PollInterval:      500 * time.Millisecond,
		VisibilityTimeout: 5 * time.Minute,
	}
}

// claimScript moves up to ARGV[2] visible messages from the ready set into the
// processing set, scored by their visibility deadline.
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, item in ipairs(items) do
  redis.call('ZREM', KEYS[1], item)
  redis.call('ZADD', KEYS[2], ARGV[3], item)
end
return items
`)

// reclaimScript returns expired processing entries to the ready set.
var reclaimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, item in ipairs(items) do
  redis.call('ZREM', KEYS[2], item)
  redis.call('ZADD', KEYS[1], ARGV[1], item)
end
return #items
`)

// RedisQueue is a delayed queue stored in two Redis sorted sets.
// The ready set is scored by the time a message becomes visible, the
// processing set by the time a claim expires.
type RedisQueue struct {
	client            *redis.Client
	readyKey          string
	processingKey     string
	pollInterval      time.Duration
	visibilityTimeout time.Duration
}

// NewRedisQueue connects to Redis and returns a queue.
func NewRedisQueue(ctx context.Context, config *RedisConfig) (*RedisQueue, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	defaults := DefaultRedisConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	slog.Info("redis queue connected", "addr", config.Addr)

	return &RedisQueue{
		client:            client,
		readyKey:          config.KeyPrefix + ":ready",
		processingKey:     config.KeyPrefix + ":processing",
		pollInterval:      config.PollInterval,
		visibilityTimeout: config.VisibilityTimeout,
	}, nil
}

func (q *RedisQueue) Send(ctx context.Context, msg Message) error {
	return q.sendAt(ctx, msg, time.Now())
}

func (q *RedisQueue) sendAt(ctx context.Context, msg Message, visibleAt time.Time) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	if err := q.client.ZAdd(ctx, q.readyKey, redis.Z{
		Score:  float64(visibleAt.UnixMilli()),
		Member: string(data),
	}).Err(); err != nil {
		return errors.Wrap(err, "failed to enqueue message")
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		deliveries, err := q.claim(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(deliveries) > 0 {
			return deliveries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context, max int) ([]Delivery, error) {
	now := time.Now()
	nowMillis := strconv.FormatInt(now.UnixMilli(), 10)
	keys := []string{q.readyKey, q.processingKey}

	if err := reclaimScript.Run(ctx, q.client, keys, nowMillis).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to reclaim expired messages")
	}

	deadline := strconv.FormatInt(now.Add(q.visibilityTimeout).UnixMilli(), 10)
	members, err := claimScript.Run(ctx, q.client, keys, nowMillis, max, deadline).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "failed to claim messages")
	}

	deliveries := []Delivery{}
	for _, member := range members {
		var msg Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			slog.Error("dropping malformed queue message", slog.String("member", member), slog.String("error", err.Error()))
			q.client.ZRem(ctx, q.processingKey, member)
			continue
		}
		deliveries = append(deliveries, &redisDelivery{queue: q, member: member, msg: msg})
	}
	return deliveries, nil
}

// Len returns the number of messages waiting in the ready set.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.readyKey).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

type redisDelivery struct {
	queue  *RedisQueue
	member string
	msg    Message
}

func (d *redisDelivery) Message() Message {
	return d.msg
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	if err := d.queue.client.ZRem(ctx, d.queue.processingKey, d.member).Err(); err != nil {
		return errors.Wrap(err, "failed to ack message")
	}
	return nil
}

func (d *redisDelivery) Retry(ctx context.Context, delay time.Duration) error {
	msg := d.msg
	msg.RetryCount++
	if err := d.queue.sendAt(ctx, msg, time.Now().Add(delay)); err != nil {
		return err
	}
	return d.Ack(ctx)
}

func (d *redisDelivery) Release(ctx context.Context) error {
	if err := d.queue.sendAt(ctx, d.msg, time.Now()); err != nil {
		return err
	}
	return d.Ack(ctx)
}

var _ Queue = (*RedisQueue)(nil)
