package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
)

// relayMessage is the wire form on the relay channel.
type relayMessage struct {
	Subject string            `json:"subject"`
	Event   model.ReportReady `json:"event"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Resubscribe backoff bounds.
const (
	relayRetryMin = 500 * time.Millisecond
	relayRetryMax = 30 * time.Second
)

// RedisRelay fans notifications out through a Redis pub/sub channel. Every
// replica subscribes and delivers to the sessions it holds, so a session
// connected to any replica receives events produced on any other. While this
// replica is not subscribed, Publish refuses so callers deliver locally.
type RedisRelay struct {
	client     *redis.Client
	pub        redisPublisher
	channel    string
	registry   *Registry
	logger     logger.Logger
	retry      time.Duration
	subscribed atomic.Bool
}

// NewRedisRelay creates a relay on channel delivering into r.
func NewRedisRelay(client *redis.Client, channel string, r *Registry, log logger.Logger) *RedisRelay {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisRelay{client: client, pub: client, channel: channel, registry: r, logger: log, retry: relayRetryMin}
}

// Subscribed reports whether relayed events currently reach this replica.
func (rr *RedisRelay) Subscribed() bool { return rr.subscribed.Load() }

// Attach sets the registry relayed events are delivered to. Call it before Run.
func (rr *RedisRelay) Attach(r *Registry) { rr.registry = r }

// Ping checks connectivity.
func (rr *RedisRelay) Ping(ctx context.Context) error {
	return rr.client.Ping(ctx).Err()
}

// Publish sends n to every subscribed replica. It returns ErrNotSubscribed
// while this replica's own subscription is down.
func (rr *RedisRelay) Publish(ctx context.Context, n model.Notification) error { //nolint:gocritic // hugeParam: matches Publisher
	if !rr.subscribed.Load() {
		return ErrNotSubscribed
	}
	b, err := json.Marshal(relayMessage{Subject: string(n.Subject), Event: n.Event})
	if err != nil {
		return err
	}
	if err := rr.pub.Publish(ctx, rr.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes and delivers relayed notifications until ctx ends. A failed
// or dropped subscription is retried with exponential backoff.
func (rr *RedisRelay) Run(ctx context.Context) error {
	wait := rr.retry
	if wait <= 0 {
		wait = relayRetryMin
	}
	for {
		subscribed, err := rr.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			wait = rr.retry
		}
		rr.logger.Warn(ctx, "notification relay unsubscribed; delivering locally until it recovers",
			logger.String("channel", rr.channel),
			logger.Duration("retry_in", wait),
			logger.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, relayRetryMax)
	}
}

// listen holds one subscription until it fails or ctx ends. It reports
// whether the subscription was ever established.
func (rr *RedisRelay) listen(ctx context.Context) (bool, error) {
	sub := rr.client.Subscribe(ctx, rr.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("redis subscribe %s: %w", rr.channel, err)
	}
	rr.subscribed.Store(true)
	defer rr.subscribed.Store(false)
	rr.logger.Info(ctx, "notification relay subscribed", logger.String("channel", rr.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errRelayChannelClosed
			}
			rr.handle(ctx, msg.Payload)
		}
	}
}

var errRelayChannelClosed = errors.New("relay channel closed")

func (rr *RedisRelay) handle(ctx context.Context, payload string) int {
	if rr.registry == nil {
		return 0
	}
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		rr.logger.Warn(ctx, "malformed relay message", logger.Error(err))
		return 0
	}
	b, err := m.Event.Encode()
	if err != nil {
		return 0
	}
	return rr.registry.Notify(ctx, model.Subject(m.Subject), b)
}

// Close closes the Redis client.
func (rr *RedisRelay) Close() error {
	return rr.client.Close()
}
