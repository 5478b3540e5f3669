// Package relay implements the realtime relay Stave clients synchronize
// through: named broadcast topics, presence tracking, a cursor store for late
// joiners and a per-project message mirror, all on Redis.
//
// All Redis keys and channels are namespaced (see protocol.TopicChannel and
// friends) so several deployments can share one Redis server.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dyluth/stave/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// Envelope types.
const (
	TypeBroadcast = "broadcast"
	TypePresence  = "presence"
)

// Presence envelope events.
const (
	PresenceEventJoin  = "join"
	PresenceEventLeave = "leave"
)

// Envelope is one frame on a relay topic.
// Broadcast frames carry an application event name and payload; presence
// frames carry Key plus the member's PresenceMeta as payload.
type Envelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Broadcast builds a broadcast envelope with a JSON-encoded payload.
func Broadcast(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return Envelope{Type: TypeBroadcast, Event: event, Payload: data}, nil
}

// Client provides namespaced relay operations on Redis.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	namespace    string
	mirrorMaxLen int64
}

// NewClient creates a relay client for the given namespace.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - namespace: deployment identifier (must not be empty)
//
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		namespace:    namespace,
		mirrorMaxLen: 1000,
	}, nil
}

// SetMirrorMaxLen caps the per-project message mirror. Zero disables trimming.
func (c *Client) SetMirrorMaxLen(n int64) {
	c.mirrorMaxLen = n
}

// Namespace returns the namespace this client writes under.
func (c *Client) Namespace() string {
	return c.namespace
}

// RedisClient exposes the underlying Redis client for stores sharing the
// connection.
func (c *Client) RedisClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Send publishes an envelope on a topic.
func (c *Client) Send(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	channel := protocol.TopicChannel(c.namespace, topic)
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscription represents an active subscription to a relay topic.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	topic  string
	events <-chan Envelope
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events returns the channel of envelopes.
// The channel is closed when the subscription is closed, the context is
// cancelled or the underlying Redis subscription ends.
func (s *Subscription) Events() <-chan Envelope {
	return s.events
}

// Errors returns the channel of subscription errors.
// Malformed frames are reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Join subscribes to a topic and waits for Redis to confirm the
// subscription, so a failure is returned here rather than discovered later.
//
// Envelopes are delivered on a buffered channel (size 64). Redis Pub/Sub is
// at-most-once: a subscriber that falls behind loses frames.
func (c *Client) Join(ctx context.Context, topic string) (*Subscription, error) {
	channel := protocol.TopicChannel(c.namespace, topic)
	pubsub := c.rdb.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	eventsChan := make(chan Envelope, 64)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal envelope on %s: %w", topic, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- env:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		topic:  topic,
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
