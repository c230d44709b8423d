package screener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moexbonds/moexbonds/internal/metrics"
	"github.com/moexbonds/moexbonds/pkg/models"
)

// ErrNotFound is returned when a SECID is not in the working set.
var ErrNotFound = errors.New("bond not found")

// ErrNoSnapshot is returned before the first successful refresh.
var ErrNoSnapshot = errors.New("no feed loaded yet")

// FeedSource supplies merged feed snapshots. *datasource.Aggregator
// satisfies it.
type FeedSource interface {
	FetchFeed(ctx context.Context) (*models.Feed, error)
}

// CacheInvalidator is implemented by feed sources that cache upstream
// responses.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// SnapshotInfo describes the committed working set.
type SnapshotInfo struct {
	Seq       uint64         `json:"seq"`
	Count     int            `json:"count"`
	FetchedAt time.Time      `json:"fetched_at"`
	Source    string         `json:"source"`
	Boards    []string       `json:"boards"`
	Stats     NormalizeStats `json:"stats"`
}

// RefreshEvent is delivered to OnRefresh listeners after every refresh
// attempt. Err is set when the attempt failed; Discarded when it finished
// after a newer one and was thrown away.
type RefreshEvent struct {
	Info      SnapshotInfo
	Err       error
	Discarded bool
}

// Service owns the working set and serves views over it.
type Service struct {
	feed     FeedSource
	norm     *Normalizer
	pipeline *Pipeline
	set      WorkingSet
	metrics  *metrics.Metrics

	mu        sync.Mutex
	listeners []func(RefreshEvent)
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *Normalizer) ServiceOption {
	return func(s *Service) { s.norm = n }
}

// WithPipeline replaces the default pipeline.
func WithPipeline(p *Pipeline) ServiceOption {
	return func(s *Service) { s.pipeline = p }
}

// WithMetrics records refresh and working-set metrics.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a service reading from feed.
func NewService(feed FeedSource, opts ...ServiceOption) *Service {
	s := &Service{feed: feed}
	for _, o := range opts {
		o(s)
	}
	if s.norm == nil {
		s.norm = NewNormalizer()
	}
	if s.pipeline == nil {
		s.pipeline = NewPipeline(WithPipelineMetrics(s.metrics))
	}
	return s
}

// Pipeline returns the pipeline views run through.
func (s *Service) Pipeline() *Pipeline { return s.pipeline }

// OnRefresh registers fn to be called after each refresh attempt.
func (s *Service) OnRefresh(fn func(RefreshEvent)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Refresh fetches a new feed, normalizes it and commits it as the working
// set. On failure the previous working set is kept. A refresh that
// completes after a newer one has committed is discarded.
func (s *Service) Refresh(ctx context.Context) (SnapshotInfo, error) {
	token := s.set.Begin()
	start := time.Now()

	feed, err := s.feed.FetchFeed(ctx)
	s.metrics.RecordRefresh(err, time.Since(start))
	if err != nil {
		log.Warn().Err(err).Uint64("seq", token).Msg("feed refresh failed")
		err = fmt.Errorf("refresh feed: %w", err)
		s.notify(RefreshEvent{Info: s.Snapshot(), Err: err})
		return SnapshotInfo{}, err
	}

	bonds, stats := s.norm.Normalize(feed.Securities, feed.MarketData)
	for reason, n := range stats.Rejected {
		s.metrics.RecordRejected(string(reason), n)
	}

	snap := NewSnapshot(bonds, feed.FetchedAt, feed.Source, feed.Boards, stats)
	if !s.set.Commit(token, snap) {
		log.Info().Uint64("seq", token).Msg("stale refresh discarded")
		cur := s.Snapshot()
		s.notify(RefreshEvent{Info: cur, Discarded: true})
		return cur, nil
	}

	s.metrics.RecordWorkingSet(len(bonds), feed.FetchedAt)
	info := snapshotInfo(snap)
	log.Info().Uint64("seq", token).Int("bonds", info.Count).Str("source", info.Source).
		Dur("took", time.Since(start)).Msg("working set refreshed")
	s.notify(RefreshEvent{Info: info})
	return info, nil
}

// ForceRefresh drops any cached upstream responses before refreshing, so
// the new snapshot comes from the network.
func (s *Service) ForceRefresh(ctx context.Context) (SnapshotInfo, error) {
	if inv, ok := s.feed.(CacheInvalidator); ok {
		inv.Invalidate(ctx)
	}
	return s.Refresh(ctx)
}

// EnsureLoaded refreshes when no snapshot has been committed yet.
func (s *Service) EnsureLoaded(ctx context.Context) error {
	if s.set.Current() != nil {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

// Snapshot describes the current working set; the zero value before the
// first commit.
func (s *Service) Snapshot() SnapshotInfo {
	return snapshotInfo(s.set.Current())
}

// Bonds returns the current working set. Callers must not modify it.
func (s *Service) Bonds() []models.Bond {
	if cur := s.set.Current(); cur != nil {
		return cur.Bonds
	}
	return nil
}

// View runs the pipeline for vs over the current working set.
func (s *Service) View(vs models.ViewState, favorites models.Favorites) Result {
	return s.pipeline.Run(s.Bonds(), vs, favorites)
}

// Filtered returns the bonds matching filters, unsorted.
func (s *Service) Filtered(filters models.FilterConfig, favorites models.Favorites) []models.Bond {
	return s.pipeline.Filtered(s.Bonds(), filters, favorites)
}

// Lookup returns a rated bond by SECID.
func (s *Service) Lookup(secid string) (models.RatedBond, error) {
	cur := s.set.Current()
	if cur == nil {
		return models.RatedBond{}, ErrNoSnapshot
	}
	b, ok := cur.Lookup(secid)
	if !ok {
		return models.RatedBond{}, fmt.Errorf("%w: %s", ErrNotFound, secid)
	}
	return Rate(b), nil
}

func (s *Service) notify(ev RefreshEvent) {
	s.mu.Lock()
	ls := append([]func(RefreshEvent){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}

func snapshotInfo(snap *Snapshot) SnapshotInfo {
	if snap == nil {
		return SnapshotInfo{}
	}
	return SnapshotInfo{
		Seq:       snap.Seq,
		Count:     len(snap.Bonds),
		FetchedAt: snap.FetchedAt,
		Source:    snap.Source,
		Boards:    snap.Boards,
		Stats:     snap.Stats,
	}
}
