// Package pager arma un "traer todo" sobre endpoints paginados.
//
// La primera página revela el total; el resto se pide en paralelo y se
// concatena en orden de página. Si falla cualquier página falla todo:
// nunca se exponen resultados parciales.
package pager

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrMalformedResponse: la página no trae el array data.
var ErrMalformedResponse = errors.New("malformed response")

// Meta metadatos de paginación del backend.
type Meta struct {
	Pages int `json:"pages"`
}

// Page es el sobre { data: [...], meta: { pages } }. Data nil significa que
// el backend no envió el array.
type Page[T any] struct {
	Data []T `json:"data"`
	Meta Meta `json:"meta"`
}

// Valid reporta si el sobre trae data (aunque sea vacío).
func (p Page[T]) Valid() bool { return p.Data != nil }

// FetchFunc pide una página (1-based).
type FetchFunc[T any] func(ctx context.Context, page, pageSize int) (Page[T], error)

// FetchAll trae todas las páginas. maxParallel <= 0 usa 4.
func FetchAll[T any](ctx context.Context, pageSize, maxParallel int, fetch FetchFunc[T]) ([]T, error) {
	if maxParallel <= 0 {
		maxParallel = 4
	}

	first, err := fetch(ctx, 1, pageSize)
	if err != nil {
		return nil, fmt.Errorf("page 1: %w", err)
	}
	if !first.Valid() {
		return nil, fmt.Errorf("page 1: %w", ErrMalformedResponse)
	}
	if first.Meta.Pages <= 1 {
		return first.Data, nil
	}

	pages := make([][]T, first.Meta.Pages)
	pages[0] = first.Data

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i := 2; i <= first.Meta.Pages; i++ {
		page := i
		g.Go(func() error {
			p, err := fetch(gctx, page, pageSize)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			if !p.Valid() {
				return fmt.Errorf("page %d: %w", page, ErrMalformedResponse)
			}
			pages[page-1] = p.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range pages {
		total += len(p)
	}
	out := make([]T, 0, total)
	for _, p := range pages {
		out = append(out, p...)
	}
	return out, nil
}
