package screener

import (
	"strconv"
	"strings"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// Session owns a ViewState and applies user events to it. A Session is
// used by one caller at a time.
type Session struct {
	state      models.ViewState
	lastCount  int
	totalPages int
}

// NewSession starts a session at initial, on page 1.
func NewSession(initial models.ViewState) *Session {
	initial.Page = 1
	return &Session{state: initial, lastCount: -1}
}

// State returns a copy of the current view.
func (s *Session) State() models.ViewState { return s.state }

// SetFilters replaces the filters and returns to page 1.
func (s *Session) SetFilters(f models.FilterConfig) {
	s.state.Filters = f
	s.state.Page = 1
}

// UpdateFilters applies fn to a copy of the filters, then SetFilters.
func (s *Session) UpdateFilters(fn func(*models.FilterConfig)) {
	f := s.state.Filters
	fn(&f)
	s.SetFilters(f)
}

// ToggleSort handles a column-header click: the active field flips its
// order, a new field starts descending.
func (s *Session) ToggleSort(field models.SortField) {
	if s.state.Sort.Field == field {
		s.state.Sort.Order = s.state.Sort.Order.Flip()
		return
	}
	s.state.Sort = models.SortKey{Field: field, Order: models.Desc}
}

// SetSort sets the sort explicitly.
func (s *Session) SetSort(key models.SortKey) {
	s.state.Sort = key
}

// SetPageSize changes the page size and returns to page 1. Negative sizes
// are ignored.
func (s *Session) SetPageSize(size int) bool {
	if size < 0 {
		return false
	}
	s.state.PageSize = size
	s.state.Page = 1
	return true
}

// GoToPage moves to page n. Non-positive pages and pages beyond the last
// computed result are ignored.
func (s *Session) GoToPage(n int) bool {
	if n < 1 {
		return false
	}
	if s.totalPages > 0 && n > s.totalPages {
		return false
	}
	s.state.Page = n
	return true
}

// GoToPageInput is GoToPage for raw user input; non-numeric text is ignored.
func (s *Session) GoToPageInput(input string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return false
	}
	return s.GoToPage(n)
}

// ApplyPreset loads a preset's filters and sort and returns to page 1.
func (s *Session) ApplyPreset(p models.Preset) {
	s.state.Filters = p.Filters
	if p.Sort.Field != "" {
		s.state.Sort = p.Sort
		if s.state.Sort.Order == "" {
			s.state.Sort.Order = models.Desc
		}
	}
	s.state.Page = 1
}

// Recompute runs the pipeline for the current view. When the number of
// matching bonds changed since the previous run the view returns to page 1.
func (s *Session) Recompute(p *Pipeline, set []models.Bond, favorites models.Favorites) Result {
	r := p.Run(set, s.state, favorites)
	if s.lastCount >= 0 && r.ResultCount != s.lastCount && r.Page != 1 {
		s.state.Page = 1
		r = p.Run(set, s.state, favorites)
	}
	s.state.Page = r.Page
	s.lastCount = r.ResultCount
	s.totalPages = r.TotalPages
	return r
}
