package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the ledger.
// The client is thread-safe.
type Client struct {
	rdb          *redis.Client
	instanceName string
	now          func() time.Time
}

// NewClient creates a ledger client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		now:          time.Now,
	}, nil
}

// Redis exposes the underlying connection so other stores (the name cache) can share it.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Instance returns the instance name keys are scoped to.
func (c *Client) Instance() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PutReview writes a review and publishes an upserted event.
func (c *Client) PutReview(ctx context.Context, r *Review) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid review: %w", err)
	}
	if r.UpdatedAtMs == 0 {
		r.UpdatedAtMs = c.now().UnixMilli()
	}

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := ReviewKey(c.instanceName, r.UserID)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, ReviewToHash(r))
		pipe.SAdd(ctx, ReviewIndexKey(c.instanceName), r.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write review to Redis: %w", err)
	}
	return c.publish(ctx, Event{Kind: EventUpserted, Review: *r})
}

// RemoveReview deletes a review and publishes a removed event. Removing an absent review
// is a no-op.
func (c *Client) RemoveReview(ctx context.Context, userID string) error {
	existing, err := c.GetReview(ctx, userID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ReviewKey(c.instanceName, userID))
		pipe.SRem(ctx, ReviewIndexKey(c.instanceName), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete review from Redis: %w", err)
	}
	return c.publish(ctx, Event{Kind: EventRemoved, Review: *existing})
}

// GetReview retrieves a review by user id.
// Returns (nil, redis.Nil) if it doesn't exist; use IsNotFound.
func (c *Client) GetReview(ctx context.Context, userID string) (*Review, error) {
	hash, err := c.rdb.HGetAll(ctx, ReviewKey(c.instanceName, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read review from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, redis.Nil
	}
	return HashToReview(hash)
}

// ListReviews returns every review ordered by category then user id. Index entries
// whose hash has gone are skipped.
func (c *Client) ListReviews(ctx context.Context) ([]*Review, error) {
	ids, err := c.rdb.SMembers(ctx, ReviewIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read review index: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, ReviewKey(c.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read reviews: %w", err)
	}

	reviews := make([]*Review, 0, len(ids))
	for _, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		r, err := HashToReview(hash)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	sort.Slice(reviews, func(i, j int) bool {
		if reviews[i].Category != reviews[j].Category {
			return reviews[i].Category < reviews[j].Category
		}
		return reviews[i].UserID < reviews[j].UserID
	})
	return reviews, nil
}

// Replace makes the ledger hold exactly reviews. Used after the registry is rebuilt.
// No events are published.
func (c *Client) Replace(ctx context.Context, reviews []*Review) error {
	keep := make(map[string]bool, len(reviews))
	for _, r := range reviews {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid review: %w", err)
		}
		keep[r.UserID] = true
	}

	existing, err := c.rdb.SMembers(ctx, ReviewIndexKey(c.instanceName)).Result()
	if err != nil {
		return fmt.Errorf("failed to read review index: %w", err)
	}

	now := c.now().UnixMilli()
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range existing {
			if !keep[id] {
				pipe.Del(ctx, ReviewKey(c.instanceName, id))
				pipe.SRem(ctx, ReviewIndexKey(c.instanceName), id)
			}
		}
		for _, r := range reviews {
			if r.UpdatedAtMs == 0 {
				r.UpdatedAtMs = now
			}
			key := ReviewKey(c.instanceName, r.UserID)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, ReviewToHash(r))
			pipe.SAdd(ctx, ReviewIndexKey(c.instanceName), r.UserID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace reviews: %w", err)
	}
	return nil
}

func (c *Client) publish(ctx context.Context, ev Event) error {
	ev.AtMs = c.now().UnixMilli()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal review event: %w", err)
	}
	if err := c.rdb.Publish(ctx, ReviewEventsChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish review event: %w", err)
	}
	return nil
}

// Subscription is an active Pub/Sub subscription to review events.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of review events. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to review events for this instance.
// The subscription is confirmed before returning, so no event published afterwards is
// missed. Delivery is at-most-once.
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, ReviewEventsChannel(c.instanceName))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to review events: %w", err)
	}

	eventsChan := make(chan *Event, 10)
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

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal review event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{events: eventsChan, errors: errorsChan, cancel: cancelFunc}, nil
}

// IsNotFound reports whether err is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
