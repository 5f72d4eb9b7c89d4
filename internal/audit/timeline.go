package audit

import (
	"time"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// TimelineFilters menampung filter dasar untuk timeline transisi.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	DocType  workflow.DocType
	ActorID  int64
	Action   workflow.Action
	Page     int
	PageSize int
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

func normalisePaging(filters TimelineFilters) (page, size int) {
	size = filters.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page = filters.Page
	if page <= 0 {
		page = 1
	}
	return page, size
}
