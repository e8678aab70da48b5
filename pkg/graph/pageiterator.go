// Package graph (pageiterator.go) walks server-paginated collections item by
// item, following @odata.nextLink, with cooperative pause and resume.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// IterationStatus is the state of a PageIterator.
type IterationStatus int

const (
	StatusActive IterationStatus = iota
	StatusPaused
	StatusComplete
)

func (s IterationStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusComplete:
		return "complete"
	default:
		return fmt.Sprintf("IterationStatus(%d)", int(s))
	}
}

// PageFetcher fetches the page behind an opaque nextLink. The link is an
// absolute URL and must be requested unmodified. *Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, link string, header http.Header) (*http.Response, error)
}

// VisitFunc is called once per item. Returning false pauses the iteration
// after the item; returning an error stops it before the item is consumed.
type VisitFunc[T any] func(item T) (bool, error)

type iteratorOptions struct {
	header http.Header
	onPage func(items int)
}

// IteratorOption configures a PageIterator.
type IteratorOption func(*iteratorOptions)

// WithHeaders sets headers applied to every subsequent page request, e.g. a
// Prefer header that must be repeated on each page.
func WithHeaders(h http.Header) IteratorOption {
	return func(o *iteratorOptions) { o.header = h.Clone() }
}

// WithPageObserver registers a hook called after each page is fetched with
// the number of items on that page.
func WithPageObserver(fn func(items int)) IteratorOption {
	return func(o *iteratorOptions) { o.onPage = fn }
}

// PageIterator visits every item of a paged collection in server order.
// It is not safe for concurrent use.
//
// Example:
//
//	first, err := graph.GetPage[graph.Message](ctx, client, client.MessagesURL(10, nil), nil)
//	if err != nil { return err }
//	it, err := graph.NewPageIterator(client, first, func(m graph.Message) (bool, error) {
//	    fmt.Println(m.Subject)
//	    return true, nil
//	})
//	if err != nil { return err }
//	err = it.Iterate(ctx)
type PageIterator[T any] struct {
	fetcher PageFetcher
	visit   VisitFunc[T]
	header  http.Header
	onPage  func(items int)

	page   Page[T]
	cursor int
	status IterationStatus
}

// NewPageIterator creates an iterator starting at the first item of first.
func NewPageIterator[T any](fetcher PageFetcher, first Page[T], visit VisitFunc[T], opts ...IteratorOption) (*PageIterator[T], error) {
	if fetcher == nil {
		return nil, errors.New("page fetcher must not be nil")
	}
	if visit == nil {
		return nil, errors.New("visit callback must not be nil")
	}

	var o iteratorOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &PageIterator[T]{
		fetcher: fetcher,
		visit:   visit,
		header:  o.header,
		onPage:  o.onPage,
		page:    first,
		status:  StatusActive,
	}, nil
}

// Iterate visits items from the current cursor until the visitor returns
// false, an error occurs, or the collection is exhausted. On a complete
// iterator it returns nil immediately.
//
// Visitor errors are returned unchanged. Page fetch errors are not retried;
// in both cases the iterator is left paused at the failing item or link.
func (it *PageIterator[T]) Iterate(ctx context.Context) error {
	if it.status == StatusComplete {
		return nil
	}
	it.status = StatusActive
	return it.run(ctx)
}

// Resume continues a paused iteration from the saved cursor. It fails with
// ErrInvalidState unless the iterator is paused.
func (it *PageIterator[T]) Resume(ctx context.Context) error {
	if it.status != StatusPaused {
		return fmt.Errorf("%w: cannot resume a %s iterator", ErrInvalidState, it.status)
	}
	it.status = StatusActive
	return it.run(ctx)
}

// IsComplete reports whether every item has been visited.
func (it *PageIterator[T]) IsComplete() bool { return it.status == StatusComplete }

// Exhausted reports whether no items are left to visit: the cursor is past
// the last item of the current page and there is no next page. A paused
// iterator can be exhausted when the visitor stopped on the final item.
func (it *PageIterator[T]) Exhausted() bool {
	return it.status == StatusComplete || (it.cursor >= len(it.page.Value) && it.NextLink() == "")
}

// Status returns the current state.
func (it *PageIterator[T]) Status() IterationStatus { return it.status }

// NextLink returns the cursor of the next page to fetch, or "" on the last page.
func (it *PageIterator[T]) NextLink() string {
	if it.page.NextLink == nil {
		return ""
	}
	return *it.page.NextLink
}

// DeltaLink returns the delta link delivered with the last page, if any.
func (it *PageIterator[T]) DeltaLink() string {
	if it.page.DeltaLink == nil {
		return ""
	}
	return *it.page.DeltaLink
}

func (it *PageIterator[T]) run(ctx context.Context) error {
	for {
		for it.cursor < len(it.page.Value) {
			cont, err := it.visit(it.page.Value[it.cursor])
			if err != nil {
				it.status = StatusPaused
				return err
			}
			it.cursor++
			if !cont {
				it.status = StatusPaused
				return nil
			}
		}

		link := it.NextLink()
		if link == "" {
			it.status = StatusComplete
			return nil
		}

		next, err := GetPage[T](ctx, it.fetcher, link, it.header.Clone())
		if err != nil {
			it.status = StatusPaused
			return fmt.Errorf("fetching page '%s': %w", link, err)
		}
		it.page = next
		it.cursor = 0
		if it.onPage != nil {
			it.onPage(len(next.Value))
		}
	}
}
