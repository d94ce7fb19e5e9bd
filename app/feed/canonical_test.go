package feed

import (
	"context"
	"testing"

	"github.com/castpoll/castpoll/app/database"
)

type fakeFeedGetter struct {
	feeds map[int64]*database.Feed
}

func (f *fakeFeedGetter) GetFeed(_ context.Context, id int64) (*database.Feed, error) {
	return f.feeds[id], nil
}

func canonicalFeed(id int64, canonicalID *int64) *database.Feed {
	return &database.Feed{ID: id, CanonicalID: canonicalID}
}

func ref(id int64) *int64 {
	return &id
}

func TestResolveCanonicalChain(t *testing.T) {
	// 3 -> 2 -> 1, no cycle.
	getter := &fakeFeedGetter{feeds: map[int64]*database.Feed{
		1: canonicalFeed(1, nil),
		2: canonicalFeed(2, ref(1)),
		3: canonicalFeed(3, ref(2)),
	}}

	root, err := ResolveCanonical(context.Background(), getter, getter.feeds[3])
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if root.ID != 1 {
		t.Errorf("Expected root 1, got: %d", root.ID)
	}
}

func TestResolveCanonicalSelf(t *testing.T) {
	getter := &fakeFeedGetter{feeds: map[int64]*database.Feed{
		1: canonicalFeed(1, nil),
	}}

	root, err := ResolveCanonical(context.Background(), getter, getter.feeds[1])
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if root.ID != 1 {
		t.Errorf("Expected root 1, got: %d", root.ID)
	}
}

func TestResolveCanonicalCycle(t *testing.T) {
	// 2 -> 3 -> 2 is a cycle; the lowest id in the cycle wins regardless
	// of the entry point.
	getter := &fakeFeedGetter{feeds: map[int64]*database.Feed{
		2: canonicalFeed(2, ref(3)),
		3: canonicalFeed(3, ref(2)),
		5: canonicalFeed(5, ref(2)),
	}}

	for _, start := range []int64{2, 3, 5} {
		root, err := ResolveCanonical(context.Background(), getter, getter.feeds[start])
		if err != nil {
			t.Fatalf("Expected no error from start %d, got: %v", start, err)
		}
		if root.ID != 2 {
			t.Errorf("Expected root 2 from start %d, got: %d", start, root.ID)
		}
	}
}

func TestResolveCanonicalDanglingReference(t *testing.T) {
	getter := &fakeFeedGetter{feeds: map[int64]*database.Feed{
		4: canonicalFeed(4, ref(99)),
	}}

	root, err := ResolveCanonical(context.Background(), getter, getter.feeds[4])
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if root.ID != 4 {
		t.Errorf("Expected root 4 on dangling reference, got: %d", root.ID)
	}
}
