package screener

import "github.com/moexbonds/moexbonds/pkg/models"

// Page is one visible window of an ordered result.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`        // 1-based, after clamping
	TotalPages int `json:"total_pages"` // at least 1
	From       int `json:"from"`        // 1-based display range, 0 when empty
	To         int `json:"to"`
	Total      int `json:"total"`
}

// Paginate slices xs into the requested page. pageSize models.PageSizeAll
// (or any non-positive size) yields a single page. A page outside
// 1..TotalPages is clamped to 1, not to the last page.
func Paginate[T any](xs []T, pageSize, page int) Page[T] {
	n := len(xs)
	if pageSize <= models.PageSizeAll {
		p := Page[T]{Items: xs, Page: 1, TotalPages: 1, Total: n}
		if n > 0 {
			p.From, p.To = 1, n
		}
		return p
	}

	totalPages := max(1, (n+pageSize-1)/pageSize)
	if page < 1 || page > totalPages {
		page = 1
	}

	start := min((page-1)*pageSize, n)
	end := min(start+pageSize, n)

	p := Page[T]{
		Items:      xs[start:end],
		Page:       page,
		TotalPages: totalPages,
		Total:      n,
	}
	if end > start {
		p.From, p.To = start+1, end
	}
	return p
}

// TotalPages returns the page count for n items.
func TotalPages(n, pageSize int) int {
	if pageSize <= models.PageSizeAll {
		return 1
	}
	return max(1, (n+pageSize-1)/pageSize)
}
