package permission

import (
	"errors"

	"github.com/dropDatabas3/permgate/internal/pager"
)

var (
	// ErrFetchFailure: error de red/HTTP/DB al traer grants.
	ErrFetchFailure = errors.New("permission: fetch failure")

	// ErrMalformedResponse: la respuesta no tiene el shape esperado.
	ErrMalformedResponse = pager.ErrMalformedResponse
)
