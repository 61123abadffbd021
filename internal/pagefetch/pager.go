// internal/pagefetch/pager.go
package pagefetch

import (
	"context"
	"sync"
	"time"

	"github.com/user/agentfeed/internal/types"
)

// FetchFunc loads one page of a resource, newest first, strictly before the
// given exclusive timestamp cursor (nil for the newest page).
type FetchFunc[T any] func(ctx context.Context, limit int, before *time.Time) (types.Page[T], error)

// AppendFilter trims an older page before it is concatenated at the tail of
// the accumulated items, typically to drop ids that overlap a page boundary.
type AppendFilter[T any] func(existing, incoming []T) []T

// Pager accumulates a cursor-paginated resource. The accumulated items are
// always ordered newest-first; older pages are appended at the tail.
//
// Every request carries a monotonically increasing id and a response is only
// applied while its id is still the latest issued one, so a slow early
// request can never clobber the result of a later one.
type Pager[T any] struct {
	fetch    FetchFunc[T]
	pageSize int
	filter   AppendFilter[T]

	mu          sync.Mutex
	items       []T
	cursor      *time.Time
	hasMore     bool
	total       *int
	loading     bool
	loadingMore bool
	err         error
	lastReq     uint64
}

// Option configures a Pager.
type Option[T any] func(*Pager[T])

// WithAppendFilter installs a filter applied to each older page before it is
// appended.
func WithAppendFilter[T any](f AppendFilter[T]) Option[T] {
	return func(p *Pager[T]) { p.filter = f }
}

// New creates a Pager that loads pages of pageSize items through fetch.
func New[T any](fetch FetchFunc[T], pageSize int, opts ...Option[T]) *Pager[T] {
	p := &Pager[T]{fetch: fetch, pageSize: pageSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch loads the newest page. Unless refresh is true the accumulated items
// and cursors are cleared before the request is issued; a refresh keeps the
// current items visible until the response replaces them.
// Returns the applied page items, or nil when the response was stale.
func (p *Pager[T]) Fetch(ctx context.Context, refresh bool) ([]T, error) {
	p.mu.Lock()
	if !refresh {
		p.items = nil
		p.cursor = nil
		p.hasMore = false
		p.total = nil
	}
	p.loading = true
	p.lastReq++
	req := p.lastReq
	p.mu.Unlock()

	page, err := p.fetch(ctx, p.pageSize, nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	if req != p.lastReq {
		return nil, nil // superseded by a later request
	}
	p.loading = false
	if err != nil {
		p.err = err
		return nil, err
	}
	p.err = nil
	p.items = append([]T(nil), page.Items...)
	p.cursor = page.NextCursorTimestamp
	p.hasMore = page.HasMore
	p.total = page.TotalItems
	return page.Items, nil
}

// FetchMore loads the next older page using the current cursor and appends
// it at the tail. A call while a load is in flight, with no more pages, or
// with no cursor is a no-op. Returns the items actually appended.
func (p *Pager[T]) FetchMore(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	if p.loading || p.loadingMore || !p.hasMore || p.cursor == nil {
		p.mu.Unlock()
		return nil, nil
	}
	p.loadingMore = true
	p.lastReq++
	req := p.lastReq
	before := *p.cursor
	p.mu.Unlock()

	page, err := p.fetch(ctx, p.pageSize, &before)

	p.mu.Lock()
	defer p.mu.Unlock()
	// Only one FetchMore can be in flight, so this flag is ours to clear
	// even when the response below turns out to be stale. Leaving it set on
	// the stale path would block every later FetchMore until Reset.
	p.loadingMore = false
	if req != p.lastReq {
		return nil, nil
	}
	if err != nil {
		p.err = err
		return nil, err
	}
	p.err = nil
	incoming := page.Items
	if p.filter != nil {
		incoming = p.filter(p.items, incoming)
	}
	p.items = append(p.items, incoming...)
	p.cursor = page.NextCursorTimestamp
	p.hasMore = page.HasMore
	if page.TotalItems != nil {
		p.total = page.TotalItems
	}
	return incoming, nil
}

// Reset clears all accumulated state and cursors. Any in-flight request
// becomes stale and its response is discarded.
func (p *Pager[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastReq++
	p.items = nil
	p.cursor = nil
	p.hasMore = false
	p.total = nil
	p.loading = false
	p.loadingMore = false
	p.err = nil
}

// Mutate atomically replaces the accumulated items with the result of fn.
// fn must treat its argument as read-only and return a fresh slice.
func (p *Pager[T]) Mutate(fn func(items []T) []T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = fn(p.items)
}

// Items returns a copy of the accumulated items, newest first.
func (p *Pager[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]T(nil), p.items...)
}

// Len returns the number of accumulated items.
func (p *Pager[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *Pager[T]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

func (p *Pager[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

func (p *Pager[T]) LoadingMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadingMore
}

// Err returns the last fetch error. Loaded items survive a failed request;
// the error clears on the next applied response or Reset.
func (p *Pager[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Total returns the server-reported total item count, if known.
func (p *Pager[T]) Total() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
