package feed

import (
	"context"

	"github.com/castpoll/castpoll/app/database"
)

// FeedGetter is the read-only slice of the feed repository that canonical
// resolution needs.
type FeedGetter interface {
	GetFeed(ctx context.Context, id int64) (*database.Feed, error)
}

// ResolveCanonical follows a feed's canonical chain to its root owner. The
// walk keeps a visited set so broken data with a canonical cycle terminates:
// on a cycle the node with the lowest id wins, which keeps the choice stable
// no matter which member of the cycle starts the walk.
//
// The function only reads; the caller decides what to do with the root.
func ResolveCanonical(ctx context.Context, repo FeedGetter, start *database.Feed) (*database.Feed, error) {
	visited := map[int64]int{start.ID: 0}
	chain := []*database.Feed{start}

	current := start
	for current.CanonicalID != nil {
		next, err := repo.GetFeed(ctx, *current.CanonicalID)
		if err != nil {
			return nil, err
		}
		if next == nil {
			// Dangling reference, treat the current node as the root.
			return current, nil
		}
		if at, seen := visited[next.ID]; seen {
			return lowestID(chain[at:]), nil
		}
		visited[next.ID] = len(chain)
		chain = append(chain, next)
		current = next
	}
	return current, nil
}

func lowestID(cycle []*database.Feed) *database.Feed {
	winner := cycle[0]
	for _, feed := range cycle[1:] {
		if feed.ID < winner.ID {
			winner = feed
		}
	}
	return winner
}
