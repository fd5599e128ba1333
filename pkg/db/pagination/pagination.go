// Package pagination carries limit/offset paging primitives shared by list
// endpoints.
package pagination

import "gorm.io/gorm"

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// Pagination binds page parameters from query strings.
type Pagination struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

// Normalize clamps page parameters to sane bounds.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// Limit returns the page size after normalization.
func (p Pagination) Limit() int { return p.Normalize().PageSize }

// Offset returns the row offset after normalization.
func (p Pagination) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// Scope applies the pagination to a gorm query.
func (p Pagination) Scope(db *gorm.DB) *gorm.DB {
	return db.Limit(p.Limit()).Offset(p.Offset())
}

// PageInfo describes the returned page.
type PageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
}

// NewPageInfo builds a PageInfo from the request and the total row count.
func NewPageInfo(p Pagination, total int64) PageInfo {
	n := p.Normalize()
	return PageInfo{Page: n.Page, PageSize: n.PageSize, TotalCount: total}
}
