// Package realtime delivers live full-state snapshots. Mutations publish
// topic strings on a redis channel; each subscription re-runs its query when
// a matching topic arrives and pushes the complete result set, so consumers
// replace their local view wholesale on every delivery.
package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

type QueryKind string

const (
	QueryPosts         QueryKind = "posts"
	QueryPost          QueryKind = "post"
	QueryPostComments  QueryKind = "comments"
	QueryNotifications QueryKind = "notifications"
	QueryProfile       QueryKind = "profile"
)

// Query identifies one subscribable result set.
type Query struct {
	Kind   QueryKind
	PostID string
	UserID string
}

// Topic is the change-event string a query listens for. Publishers use the
// same helpers so the two sides cannot drift.
func (q Query) Topic() string {
	switch q.Kind {
	case QueryPosts:
		return TopicPosts
	case QueryPost:
		return TopicPost(q.PostID)
	case QueryPostComments:
		return TopicComments(q.PostID)
	case QueryNotifications:
		return TopicNotifications(q.UserID)
	case QueryProfile:
		return TopicProfile(q.UserID)
	default:
		return ""
	}
}

const TopicPosts = "posts"

func TopicPost(postID string) string          { return "post:" + postID }
func TopicComments(postID string) string      { return "comments:" + postID }
func TopicNotifications(userID string) string { return "notifications:" + userID }
func TopicProfile(userID string) string       { return "profile:" + userID }

// Snapshot is one full delivery: the complete current result of the query,
// never a diff.
type Snapshot struct {
	Kind QueryKind `json:"kind"`
	Data any       `json:"data"`
}

// Source re-runs a query and returns its complete current result.
type Source interface {
	Snapshot(ctx context.Context, q Query) (any, error)
}

type Hub struct {
	client  *redis.Client
	source  Source
	channel string
}

func NewHub(redisURL string, source Source) (*Hub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewHubWithClient(client, source), nil
}

func NewHubWithClient(client *redis.Client, source Source) *Hub {
	return &Hub{client: client, source: source, channel: "inkwell:changes"}
}

func (h *Hub) Close() error {
	return h.client.Close()
}

// Publish announces that the result sets behind the given topics changed.
// Best-effort: failures are logged and never fail the triggering mutation.
func (h *Hub) Publish(ctx context.Context, topics ...string) {
	for _, topic := range topics {
		if err := h.client.Publish(ctx, h.channel, topic).Err(); err != nil {
			log.Printf("realtime: publish %s: %v", topic, err)
		}
	}
}

// Subscribe starts a snapshot subscription. The first snapshot is delivered
// immediately; afterwards every matching change event triggers a re-query and
// a fresh full delivery. The returned func tears down only this subscription;
// deliveries across different subscriptions carry no ordering guarantee.
func (h *Hub) Subscribe(ctx context.Context, q Query) (<-chan Snapshot, func(), error) {
	sub := h.client.Subscribe(ctx, h.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Snapshot, 1)
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}

	topic := q.Topic()
	messages := sub.Channel()

	go func() {
		defer close(out)
		h.deliver(ctx, q, out, done)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				unsubscribe()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg.Payload != topic {
					continue
				}
				h.deliver(ctx, q, out, done)
			}
		}
	}()

	return out, unsubscribe, nil
}

// deliver re-queries and pushes one snapshot. A slow consumer is coalesced:
// the undelivered stale snapshot is dropped in favor of the fresh one.
func (h *Hub) deliver(ctx context.Context, q Query, out chan Snapshot, done <-chan struct{}) {
	data, err := h.source.Snapshot(ctx, q)
	if err != nil {
		log.Printf("realtime: snapshot %s: %v", q.Topic(), err)
		return
	}
	snap := Snapshot{Kind: q.Kind, Data: data}
	for {
		select {
		case <-done:
			return
		case out <- snap:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}
