// Package pagination slices a query result snapshot into fixed-size pages.
// A Paginator is created once per store query and cached by the connection
// session so that page navigation within the same query never re-queries
// the store.
package pagination

import "geodrop/internal/domain"

// PageSize is the number of messages per page.
const PageSize = 10

// Paginator exposes page-by-number access over an ordered result set.
// The snapshot is immutable after construction.
type Paginator struct {
	messages []*domain.Message
	pageSize int
}

// New creates a Paginator over messages with the default page size.
func New(messages []*domain.Message) *Paginator {
	return NewWithSize(messages, PageSize)
}

// NewWithSize creates a Paginator with an explicit page size. A non-positive
// size falls back to the default.
func NewWithSize(messages []*domain.Message, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	return &Paginator{messages: messages, pageSize: pageSize}
}

// TotalPages returns the page count. An empty result set still has one
// (empty) page so that page 1 is always addressable.
func (p *Paginator) TotalPages() int {
	if len(p.messages) == 0 {
		return 1
	}
	return (len(p.messages) + p.pageSize - 1) / p.pageSize
}

// Count returns the total number of messages in the snapshot.
func (p *Paginator) Count() int {
	return len(p.messages)
}

// Page returns the messages on page n (1-based). Page numbers below 1 are
// clamped to 1; pages past TotalPages yield an empty page, never an error.
func (p *Paginator) Page(n int) []*domain.Message {
	if n < 1 {
		n = 1
	}
	start := (n - 1) * p.pageSize
	if start >= len(p.messages) {
		return []*domain.Message{}
	}

	end := start + p.pageSize
	if end > len(p.messages) {
		end = len(p.messages)
	}
	return p.messages[start:end]
}
