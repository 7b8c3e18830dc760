package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSource struct {
	calls atomic.Int64
}

func (f *fakeSource) Snapshot(ctx context.Context, q Query) (any, error) {
	n := f.calls.Add(1)
	return map[string]any{"topic": q.Topic(), "version": n}, nil
}

func setupHub(t *testing.T) (*Hub, *fakeSource) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	source := &fakeSource{}
	return NewHubWithClient(client, source), source
}

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	hub, _ := setupHub(t)
	ctx := context.Background()

	ch, unsubscribe, err := hub.Subscribe(ctx, Query{Kind: QueryPosts})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	snap := receive(t, ch)
	if snap.Kind != QueryPosts {
		t.Errorf("expected kind %q, got %q", QueryPosts, snap.Kind)
	}
}

func TestPublishTriggersFreshSnapshot(t *testing.T) {
	hub, source := setupHub(t)
	ctx := context.Background()

	ch, unsubscribe, err := hub.Subscribe(ctx, Query{Kind: QueryPostComments, PostID: "post_1"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	receive(t, ch)

	hub.Publish(ctx, TopicComments("post_1"))

	snap := receive(t, ch)
	data := snap.Data.(map[string]any)
	if data["version"].(int64) < 2 {
		t.Errorf("expected a re-queried snapshot, got version %v", data["version"])
	}
	if source.calls.Load() < 2 {
		t.Errorf("expected at least 2 source queries, got %d", source.calls.Load())
	}
}

func TestNonMatchingTopicIsIgnored(t *testing.T) {
	hub, _ := setupHub(t)
	ctx := context.Background()

	ch, unsubscribe, err := hub.Subscribe(ctx, Query{Kind: QueryPost, PostID: "post_1"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	receive(t, ch)

	hub.Publish(ctx, TopicPost("post_other"))

	select {
	case snap := <-ch:
		t.Errorf("expected no delivery for unrelated topic, got %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDeliveries(t *testing.T) {
	hub, _ := setupHub(t)
	ctx := context.Background()

	ch, unsubscribe, err := hub.Subscribe(ctx, Query{Kind: QueryNotifications, UserID: "usr_1"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	receive(t, ch)
	unsubscribe()

	// channel must close once the subscription loop winds down
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after unsubscribe")
		}
	}
}

func TestIndependentSubscriptions(t *testing.T) {
	hub, _ := setupHub(t)
	ctx := context.Background()

	chA, unsubA, err := hub.Subscribe(ctx, Query{Kind: QueryPosts})
	if err != nil {
		t.Fatalf("Subscribe A failed: %v", err)
	}
	defer unsubA()
	chB, unsubB, err := hub.Subscribe(ctx, Query{Kind: QueryProfile, UserID: "usr_1"})
	if err != nil {
		t.Fatalf("Subscribe B failed: %v", err)
	}

	receive(t, chA)
	receive(t, chB)

	unsubB()
	hub.Publish(ctx, TopicPosts)

	snap := receive(t, chA)
	if snap.Kind != QueryPosts {
		t.Errorf("expected posts snapshot, got %q", snap.Kind)
	}
}
