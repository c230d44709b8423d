// Package screener implements the bond screening pipeline: normalize feed
// rows, rate them, filter, sort and paginate the working set.
package screener

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/moexbonds/moexbonds/internal/metrics"
	"github.com/moexbonds/moexbonds/pkg/models"
	"github.com/moexbonds/moexbonds/pkg/utils"
)

// Result is one pipeline run: the visible page plus the counts a result
// header needs.
type Result struct {
	Items       []models.RatedBond `json:"items"`
	ResultCount int                `json:"result_count"` // after filtering
	TotalCount  int                `json:"total_count"`  // working set size
	Page        int                `json:"page"`
	TotalPages  int                `json:"total_pages"`
	From        int                `json:"from"`
	To          int                `json:"to"`
	AvgYield    float64            `json:"avg_yield"` // mean yield of the filtered set
	View        models.ViewState   `json:"view"`
}

// Pipeline runs filter, sort and paginate over a working set. It is the
// single entry point the API and CLI use.
type Pipeline struct {
	now        func() time.Time
	heuristics NameHeuristicClassifier
	metrics    *metrics.Metrics
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineClock fixes "today" for offer-window filtering.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// WithPipelineHeuristics replaces the bond-type classifier.
func WithPipelineHeuristics(h NameHeuristicClassifier) PipelineOption {
	return func(p *Pipeline) { p.heuristics = h }
}

// WithPipelineMetrics records run latency.
func WithPipelineMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{now: time.Now, heuristics: DefaultHeuristics{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Today is the Moscow calendar date used for offer windows.
func (p *Pipeline) Today() civil.Date {
	return civil.DateOf(p.now().In(utils.MSK))
}

// Filtered returns the bonds of set passing filters, in set order.
func (p *Pipeline) Filtered(set []models.Bond, filters models.FilterConfig, favorites models.Favorites) []models.Bond {
	return NewPredicate(filters, favorites, p.Today(), p.heuristics).Filter(set)
}

// Run filters, sorts and paginates set for vs. It never mutates set.
func (p *Pipeline) Run(set []models.Bond, vs models.ViewState, favorites models.Favorites) Result {
	start := time.Now()
	defer func() { p.metrics.RecordPipeline(time.Since(start)) }()

	filtered := p.Filtered(set, vs.Filters, favorites)
	sorted := Sort(filtered, vs.Sort)
	page := Paginate(sorted, vs.PageSize, vs.Page)

	items := make([]models.RatedBond, len(page.Items))
	for i, b := range page.Items {
		items[i] = Rate(b)
	}

	vs.Page = page.Page
	return Result{
		Items:       items,
		ResultCount: len(filtered),
		TotalCount:  len(set),
		Page:        page.Page,
		TotalPages:  page.TotalPages,
		From:        page.From,
		To:          page.To,
		AvgYield:    AverageYield(filtered),
		View:        vs,
	}
}

// Run is Pipeline.Run with default options.
func Run(set []models.Bond, vs models.ViewState, favorites models.Favorites) Result {
	return NewPipeline().Run(set, vs, favorites)
}

// AverageYield is the arithmetic mean of yields, 0 for an empty set.
func AverageYield(bonds []models.Bond) float64 {
	if len(bonds) == 0 {
		return 0
	}
	var sum float64
	for i := range bonds {
		sum += bonds[i].Yield
	}
	return sum / float64(len(bonds))
}
