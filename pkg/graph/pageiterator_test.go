package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeItem struct {
	N int `json:"n"`
}

// fakeFetcher serves pre-built pages keyed by link.
type fakeFetcher struct {
	pages   map[string]Page[fakeItem]
	fail    map[string]error
	calls   []string
	headers []http.Header
}

func (f *fakeFetcher) FetchPage(_ context.Context, link string, header http.Header) (*http.Response, error) {
	f.calls = append(f.calls, link)
	f.headers = append(f.headers, header)
	if err := f.fail[link]; err != nil {
		return nil, err
	}
	page, ok := f.pages[link]
	if !ok {
		return nil, fmt.Errorf("unexpected link %q", link)
	}
	data, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func ptr[T any](v T) *T { return &v }

// buildPages splits items 0..total-1 into pages of pageSize linked by
// "page-N" links. It returns the first page and a fetcher for the rest.
func buildPages(total, pageSize int) (Page[fakeItem], *fakeFetcher) {
	f := &fakeFetcher{pages: map[string]Page[fakeItem]{}, fail: map[string]error{}}
	var pages []Page[fakeItem]
	for start := 0; start < total || len(pages) == 0; start += pageSize {
		var page Page[fakeItem]
		page.Value = []fakeItem{}
		for i := start; i < min(start+pageSize, total); i++ {
			page.Value = append(page.Value, fakeItem{N: i})
		}
		pages = append(pages, page)
		if total == 0 {
			break
		}
	}
	for i := range pages {
		if i+1 < len(pages) {
			pages[i].NextLink = ptr(fmt.Sprintf("page-%d", i+1))
		}
		if i > 0 {
			f.pages[fmt.Sprintf("page-%d", i)] = pages[i]
		}
	}
	return pages[0], f
}

func collect(seen *[]int) VisitFunc[fakeItem] {
	return func(item fakeItem) (bool, error) {
		*seen = append(*seen, item.N)
		return true, nil
	}
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestPageIteratorVisitsAllItemsInOrder(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		pageSize int
		fetches  int
	}{
		{name: "single page", total: 5, pageSize: 10, fetches: 0},
		{name: "exact pages", total: 20, pageSize: 10, fetches: 1},
		{name: "ragged last page", total: 23, pageSize: 10, fetches: 2},
		{name: "one item per page", total: 4, pageSize: 1, fetches: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, fetcher := buildPages(tt.total, tt.pageSize)
			var seen []int
			it, err := NewPageIterator(fetcher, first, collect(&seen))
			require.NoError(t, err)

			require.NoError(t, it.Iterate(context.Background()))

			assert.Equal(t, sequence(tt.total), seen)
			assert.True(t, it.IsComplete())
			assert.Equal(t, StatusComplete, it.Status())
			assert.Len(t, fetcher.calls, tt.fetches)
		})
	}
}

func TestPageIteratorEmptyFirstPage(t *testing.T) {
	fetcher := &fakeFetcher{}
	visited := false
	it, err := NewPageIterator(fetcher, Page[fakeItem]{}, func(fakeItem) (bool, error) {
		visited = true
		return true, nil
	})
	require.NoError(t, err)

	require.NoError(t, it.Iterate(context.Background()))
	assert.False(t, visited)
	assert.True(t, it.IsComplete())
	assert.Empty(t, fetcher.calls)
}

func TestPageIteratorPauseAndResume(t *testing.T) {
	// 10 items on the first page, 5 on the second; pause after 3.
	first, fetcher := buildPages(15, 10)

	var seen []int
	count := 0
	it, err := NewPageIterator(fetcher, first, func(item fakeItem) (bool, error) {
		seen = append(seen, item.N)
		count++
		return count != 3, nil
	})
	require.NoError(t, err)

	require.NoError(t, it.Iterate(context.Background()))
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, StatusPaused, it.Status())
	assert.False(t, it.IsComplete())
	assert.Empty(t, fetcher.calls, "pausing must not fetch")

	require.NoError(t, it.Resume(context.Background()))
	assert.Equal(t, sequence(15), seen, "resume continues without repeating or skipping")
	assert.True(t, it.IsComplete())
	assert.Equal(t, []string{"page-1"}, fetcher.calls)
}

func TestPageIteratorPauseAtPageBoundary(t *testing.T) {
	first, fetcher := buildPages(15, 10)

	var seen []int
	it, err := NewPageIterator(fetcher, first, func(item fakeItem) (bool, error) {
		seen = append(seen, item.N)
		return item.N != 9, nil
	})
	require.NoError(t, err)

	require.NoError(t, it.Iterate(context.Background()))
	assert.Equal(t, sequence(10), seen)
	assert.Empty(t, fetcher.calls)
	assert.Equal(t, "page-1", it.NextLink())

	require.NoError(t, it.Resume(context.Background()))
	assert.Equal(t, sequence(15), seen)
	assert.True(t, it.IsComplete())
}

func TestPageIteratorPauseEveryK(t *testing.T) {
	first, fetcher := buildPages(23, 5)

	var seen []int
	it, err := NewPageIterator(fetcher, first, func(item fakeItem) (bool, error) {
		seen = append(seen, item.N)
		return len(seen)%4 != 0, nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, it.Iterate(ctx))
	pauses := 0
	for !it.IsComplete() {
		require.Equal(t, StatusPaused, it.Status())
		pauses++
		require.NoError(t, it.Resume(ctx))
	}

	assert.Equal(t, sequence(23), seen)
	assert.Equal(t, 5, pauses)
}

func TestPageIteratorExhaustedWhenStoppedOnLastItem(t *testing.T) {
	first, fetcher := buildPages(8, 4)

	var seen []int
	it, err := NewPageIterator(fetcher, first, func(item fakeItem) (bool, error) {
		seen = append(seen, item.N)
		return len(seen)%4 != 0, nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, it.Iterate(ctx))
	assert.False(t, it.Exhausted(), "the second page is still to come")

	require.NoError(t, it.Resume(ctx))
	assert.Equal(t, StatusPaused, it.Status())
	assert.False(t, it.IsComplete())
	assert.True(t, it.Exhausted())
	assert.Equal(t, sequence(8), seen)

	require.NoError(t, it.Resume(ctx))
	assert.True(t, it.IsComplete())
	assert.True(t, it.Exhausted())
	assert.Equal(t, sequence(8), seen)
}

func TestPageIteratorResumeInvalidState(t *testing.T) {
	first, fetcher := buildPages(3, 10)
	it, err := NewPageIterator(fetcher, first, func(fakeItem) (bool, error) { return true, nil })
	require.NoError(t, err)

	err = it.Resume(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState, "resume on an active iterator")

	require.NoError(t, it.Iterate(context.Background()))
	require.True(t, it.IsComplete())

	err = it.Resume(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState, "resume on a complete iterator")

	assert.NoError(t, it.Iterate(context.Background()), "iterate on a complete iterator is a no-op")
}

func TestPageIteratorVisitorError(t *testing.T) {
	first, fetcher := buildPages(6, 10)
	boom := errors.New("boom")

	var seen []int
	failOnce := true
	it, err := NewPageIterator(fetcher, first, func(item fakeItem) (bool, error) {
		if item.N == 2 && failOnce {
			failOnce = false
			return false, boom
		}
		seen = append(seen, item.N)
		return true, nil
	})
	require.NoError(t, err)

	err = it.Iterate(context.Background())
	assert.Same(t, boom, err, "visitor errors are returned unchanged")
	assert.Equal(t, StatusPaused, it.Status())

	require.NoError(t, it.Resume(context.Background()))
	assert.Equal(t, sequence(6), seen, "the failing item is visited again on resume")
}

func TestPageIteratorFetchError(t *testing.T) {
	first, fetcher := buildPages(15, 10)
	fetcher.fail["page-1"] = &TransportError{Method: http.MethodGet, URL: "page-1", Err: errors.New("connection reset")}

	var seen []int
	it, err := NewPageIterator(fetcher, first, collect(&seen))
	require.NoError(t, err)

	err = it.Iterate(context.Background())
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Equal(t, StatusPaused, it.Status())
	assert.Equal(t, "page-1", it.NextLink())
	assert.Equal(t, sequence(10), seen)

	delete(fetcher.fail, "page-1")
	require.NoError(t, it.Resume(context.Background()))
	assert.Equal(t, sequence(15), seen)
	assert.True(t, it.IsComplete())
}

func TestPageIteratorPropagatesHeaders(t *testing.T) {
	first, fetcher := buildPages(9, 3)
	header := http.Header{}
	header.Set("Prefer", `outlook.body-content-type="text"`)

	var pageSizes []int
	it, err := NewPageIterator(fetcher, first, func(fakeItem) (bool, error) { return true, nil },
		WithHeaders(header),
		WithPageObserver(func(items int) { pageSizes = append(pageSizes, items) }),
	)
	require.NoError(t, err)
	header.Set("Prefer", "changed after construction")

	require.NoError(t, it.Iterate(context.Background()))
	require.Len(t, fetcher.headers, 2)
	for _, h := range fetcher.headers {
		assert.Equal(t, `outlook.body-content-type="text"`, h.Get("Prefer"))
	}
	assert.Equal(t, []int{3, 3}, pageSizes)
}

func TestPageIteratorDeltaLink(t *testing.T) {
	first := Page[fakeItem]{Value: []fakeItem{{N: 0}}, DeltaLink: ptr("delta-token")}
	it, err := NewPageIterator(&fakeFetcher{}, first, func(fakeItem) (bool, error) { return true, nil })
	require.NoError(t, err)

	require.NoError(t, it.Iterate(context.Background()))
	assert.Equal(t, "delta-token", it.DeltaLink())
	assert.Equal(t, "", it.NextLink())
}

func TestNewPageIteratorValidation(t *testing.T) {
	_, err := NewPageIterator[fakeItem](nil, Page[fakeItem]{}, func(fakeItem) (bool, error) { return true, nil })
	assert.Error(t, err)

	_, err = NewPageIterator[fakeItem](&fakeFetcher{}, Page[fakeItem]{}, nil)
	assert.Error(t, err)
}

func TestPageIteratorThroughClient(t *testing.T) {
	var server *httptest.Server
	var prefers []string
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("client-request-id"))
		prefers = append(prefers, r.Header.Get("Prefer"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("$skip") {
		case "":
			fmt.Fprintf(w, `{"value":[{"subject":"a"},{"subject":"b"}],"@odata.nextLink":"%s/me/messages?$skip=2"}`, server.URL)
		case "2":
			fmt.Fprint(w, `{"value":[{"subject":"c"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}), ClientOptions{BaseURL: server.URL})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Prefer", `outlook.body-content-type="text"`)
	first, err := GetPage[Message](ctx, client, client.MessagesURL(2, []string{"subject"}), header)
	require.NoError(t, err)

	var subjects []string
	it, err := NewPageIterator(client, first, func(m Message) (bool, error) {
		subjects = append(subjects, m.Subject)
		return true, nil
	}, WithHeaders(header))
	require.NoError(t, err)

	require.NoError(t, it.Iterate(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, subjects)
	assert.Equal(t, []string{`outlook.body-content-type="text"`, `outlook.body-content-type="text"`}, prefers)
}
