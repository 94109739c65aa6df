// Package listutil parses list-view query parameters and paginates results.
package listutil

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// DefaultPerPage is the default number of rows per page.
const DefaultPerPage = 20

// PerPageOptions are the allowed rows-per-page values.
var PerPageOptions = []int{10, 20, 50, 100}

// Sort directions
const (
	Asc  = "asc"
	Desc = "desc"
)

// ListParams carries paging, sorting, search and filter parameters from a request.
type ListParams struct {
	Page    int
	PerPage int
	Sort    string
	Dir     string
	Search  string
	Filters map[string]string
}

// ParseListParams reads page, per_page, sort, dir, q and the named filters from q.
// Unknown sort columns and filter keys are dropped.
// PRE: none
// POST: Page >= 1; PerPage is one of PerPageOptions; Dir is Asc or Desc
func ParseListParams(q url.Values, sortColumns, filterKeys []string) ListParams {
	p := ListParams{
		Sort:    q.Get("sort"),
		Dir:     q.Get("dir"),
		Search:  strings.TrimSpace(q.Get("q")),
		Filters: map[string]string{},
	}
	p.Page, _ = strconv.Atoi(q.Get("page"))
	if p.Page < 1 {
		p.Page = 1
	}
	p.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if !slices.Contains(PerPageOptions, p.PerPage) {
		p.PerPage = DefaultPerPage
	}
	if !slices.Contains(sortColumns, p.Sort) {
		p.Sort = ""
	}
	if p.Dir != Desc {
		p.Dir = Asc
	}
	for _, key := range filterKeys {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			p.Filters[key] = v
		}
	}
	return p
}

// Query encodes p back into URL parameters, replacing page with page.
func (p ListParams) Query(page int) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	if p.PerPage != DefaultPerPage {
		v.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.Sort != "" {
		v.Set("sort", p.Sort)
		v.Set("dir", p.Dir)
	}
	if p.Search != "" {
		v.Set("q", p.Search)
	}
	for k, f := range p.Filters {
		v.Set(k, f)
	}
	return v.Encode()
}

// PageInfo carries pagination metadata for rendering.
type PageInfo struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPageInfo computes pagination metadata, clamping page into range.
// PRE: total >= 0
// POST: 1 <= Page <= TotalPages; TotalPages >= 1
func NewPageInfo(page, perPage, total int) PageInfo {
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	totalPages := max((total+perPage-1)/perPage, 1)
	return PageInfo{
		Page:       min(max(page, 1), totalPages),
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Offset returns the index of the first row on the current page.
func (p PageInfo) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// StartRow returns the 1-indexed first row number on the page, or 0 when empty.
func (p PageInfo) StartRow() int {
	if p.Total == 0 {
		return 0
	}
	return p.Offset() + 1
}

// EndRow returns the 1-indexed last row number on the page.
func (p PageInfo) EndRow() int {
	return min(p.Offset()+p.PerPage, p.Total)
}

// PageNumbers returns at most five page numbers centered on the current page.
func (p PageInfo) PageNumbers() []int {
	const maxButtons = 5
	start := max(p.Page-maxButtons/2, 1)
	end := start + maxButtons - 1
	if end > p.TotalPages {
		end = p.TotalPages
		start = max(end-maxButtons+1, 1)
	}
	pages := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		pages = append(pages, i)
	}
	return pages
}

// ShowPagination reports whether there is more than one page.
func (p PageInfo) ShowPagination() bool {
	return p.Total > p.PerPage
}

// Paginate returns the rows of items on info's page.
// PRE: info was computed with Total == len(items)
// POST: Returns a subslice; items is not copied
func Paginate[T any](items []T, info PageInfo) []T {
	start := min(info.Offset(), len(items))
	end := min(start+info.PerPage, len(items))
	return items[start:end]
}
