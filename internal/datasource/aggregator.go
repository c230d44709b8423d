package datasource

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// BoardFetcher fetches one ISS board. *MOEX implements it.
type BoardFetcher interface {
	FetchBoard(ctx context.Context, board string) (*models.Feed, error)
}

// Aggregator fetches several boards concurrently and merges them into one
// feed snapshot.
type Aggregator struct {
	fetcher BoardFetcher
	boards  []string
}

// NewAggregator creates an aggregator over the given boards. No boards
// means the corporate board only.
func NewAggregator(fetcher BoardFetcher, boards []string) *Aggregator {
	if len(boards) == 0 {
		boards = []string{BoardCorporate}
	}
	return &Aggregator{fetcher: fetcher, boards: boards}
}

// boardInvalidator drops cached copies of the named boards.
type boardInvalidator interface {
	Invalidate(ctx context.Context, boards ...string)
}

// Invalidate drops the fetcher's cached copies of the configured boards,
// when it keeps any.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if inv, ok := a.fetcher.(boardInvalidator); ok {
		inv.Invalidate(ctx, a.boards...)
	}
}

// Boards returns the configured boards.
func (a *Aggregator) Boards() []string { return a.boards }

// FetchFeed fetches every configured board.
func (a *Aggregator) FetchFeed(ctx context.Context) (*models.Feed, error) {
	return a.FetchBoards(ctx, a.boards)
}

// FetchBoards fetches the given boards concurrently. It fails as a whole if
// any board fails so callers never see a partial snapshot. Rows are merged
// in board order.
func (a *Aggregator) FetchBoards(ctx context.Context, boards []string) (*models.Feed, error) {
	feeds := make([]*models.Feed, len(boards))

	g, gctx := errgroup.WithContext(ctx)
	for i, board := range boards {
		g.Go(func() error {
			f, err := a.fetcher.FetchBoard(gctx, board)
			if err != nil {
				return fmt.Errorf("board %s: %w", board, err)
			}
			feeds[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeFeeds(feeds), nil
}

func mergeFeeds(feeds []*models.Feed) *models.Feed {
	out := &models.Feed{Source: "cache"}
	for _, f := range feeds {
		out.Securities.Append(f.Securities)
		out.MarketData.Append(f.MarketData)
		out.Boards = append(out.Boards, f.Boards...)
		if f.FetchedAt.After(out.FetchedAt) {
			out.FetchedAt = f.FetchedAt
		}
		if f.Source != "cache" {
			out.Source = f.Source
		}
	}
	if out.FetchedAt.IsZero() {
		out.FetchedAt = time.Now()
	}
	return out
}
