package pagination

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultSize = 20
	MaxSize     = 100
)

// SortDirection is ASC or DESC.
type SortDirection string

const (
	Asc  SortDirection = "ASC"
	Desc SortDirection = "DESC"
)

// Params holds pagination and ordering extracted from query strings. SortBy
// is always a value from the caller's whitelist, never raw user input, so it
// is safe to interpolate into ORDER BY.
type Params struct {
	Page    int           `json:"page"`
	Size    int           `json:"size"`
	SortBy  string        `json:"sort_by"`
	SortDir SortDirection `json:"sort_dir"`
}

// Offset returns the row offset for the current page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Size
}

// Sorting maps public sort keys to column names.
type Sorting struct {
	Columns map[string]string
	Default string
}

// FromRequest reads page, size, sort_by and sort_dir. Invalid or unknown
// values fall back to defaults rather than failing the request.
func FromRequest(r *http.Request, sorting Sorting) Params {
	q := r.URL.Query()
	p := Params{
		Page:    1,
		Size:    DefaultSize,
		SortBy:  sorting.Columns[sorting.Default],
		SortDir: Asc,
	}

	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("size")); err == nil && v > 0 {
		p.Size = min(v, MaxSize)
	}
	if col, ok := sorting.Columns[q.Get("sort_by")]; ok {
		p.SortBy = col
	}
	if strings.EqualFold(q.Get("sort_dir"), "desc") {
		p.SortDir = Desc
	}
	return p
}

// Result wraps one page of items.
type Result[T any] struct {
	Items      []T  `json:"items"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	Size       int  `json:"size"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult creates a paginated result.
func NewResult[T any](items []T, totalCount int, p Params) Result[T] {
	totalPages := 0
	if p.Size > 0 {
		totalPages = (totalCount + p.Size - 1) / p.Size
	}
	if items == nil {
		items = []T{}
	}
	return Result[T]{
		Items:      items,
		TotalCount: totalCount,
		Page:       p.Page,
		Size:       p.Size,
		TotalPages: totalPages,
		HasNext:    p.Page < totalPages,
		HasPrev:    p.Page > 1,
	}
}

// Map converts the items of a result, keeping the paging metadata.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	out := make([]U, len(r.Items))
	for i, item := range r.Items {
		out[i] = f(item)
	}
	return Result[U]{
		Items:      out,
		TotalCount: r.TotalCount,
		Page:       r.Page,
		Size:       r.Size,
		TotalPages: r.TotalPages,
		HasNext:    r.HasNext,
		HasPrev:    r.HasPrev,
	}
}
