package permission

import (
	"context"

	"github.com/dropDatabas3/permgate/internal/pager"
)

// Source es el colaborador externo que lista los grants de un usuario, paginado.
type Source interface {
	GetGrantsForUser(ctx context.Context, userID int64, page, pageSize int) (pager.Page[GrantRow], error)
}

// SourceFunc adapta una función a Source.
type SourceFunc func(ctx context.Context, userID int64, page, pageSize int) (pager.Page[GrantRow], error)

func (f SourceFunc) GetGrantsForUser(ctx context.Context, userID int64, page, pageSize int) (pager.Page[GrantRow], error) {
	return f(ctx, userID, page, pageSize)
}
