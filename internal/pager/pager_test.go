package pager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func numbered(pages, perPage int, calls *atomic.Int32) FetchFunc[int] {
	return func(_ context.Context, page, _ int) (Page[int], error) {
		calls.Add(1)
		data := make([]int, 0, perPage)
		for i := 0; i < perPage; i++ {
			data = append(data, (page-1)*perPage+i)
		}
		return Page[int]{Data: data, Meta: Meta{Pages: pages}}, nil
	}
}

func TestFetchAll_ConcatenatesInPageOrder(t *testing.T) {
	var calls atomic.Int32
	got, err := FetchAll(context.Background(), 3, 2, numbered(4, 3, &calls))
	require.NoError(t, err)
	require.Len(t, got, 12)
	for i, v := range got {
		require.Equal(t, i, v)
	}
	require.EqualValues(t, 4, calls.Load())
}

func TestFetchAll_SinglePage(t *testing.T) {
	var calls atomic.Int32
	got, err := FetchAll(context.Background(), 10, 0, numbered(0, 2, &calls))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, got)
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchAll_PageFailureFailsAll(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(_ context.Context, page, _ int) (Page[int], error) {
		if page == 3 {
			return Page[int]{}, boom
		}
		return Page[int]{Data: []int{page}, Meta: Meta{Pages: 3}}, nil
	}
	got, err := FetchAll(context.Background(), 1, 4, fetch)
	require.ErrorIs(t, err, boom)
	require.Nil(t, got)
}

func TestFetchAll_MissingData(t *testing.T) {
	fetch := func(context.Context, int, int) (Page[int], error) {
		return Page[int]{Meta: Meta{Pages: 1}}, nil
	}
	_, err := FetchAll(context.Background(), 1, 1, fetch)
	require.ErrorIs(t, err, ErrMalformedResponse)
}
