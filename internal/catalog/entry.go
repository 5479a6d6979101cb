// Package catalog resuelve qué opción (recurso) corresponde a la ruta actual.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dropDatabas3/permgate/internal/pager"
)

// Entry es una opción navegable. RoutePath vacío = no indexable, pero sigue
// siendo un destino válido de permisos.
type Entry struct {
	ResourceID int64  `json:"resourceId"`
	RoutePath  string `json:"routePath,omitempty"`
}

var (
	idKeys    = []string{"resourceId", "idOpcion", "id_opcion", "optionId", "id"}
	routeKeys = []string{"routePath", "ruta", "path", "url"}
)

// UnmarshalJSON normaliza la fila del backend a Entry.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: catalog row: %v", pager.ErrMalformedResponse, err)
	}

	// sin id queda en 0: BuildIndex ignora la fila
	var out Entry
	for _, k := range idKeys {
		v, ok := raw[k]
		if !ok || string(bytes.TrimSpace(v)) == "null" {
			continue
		}
		id, err := parseID(v)
		if err != nil {
			return fmt.Errorf("%w: catalog row %s: %v", pager.ErrMalformedResponse, k, err)
		}
		out.ResourceID = id
		break
	}

	for _, k := range routeKeys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("%w: catalog row %s: %v", pager.ErrMalformedResponse, k, err)
		}
		if s != nil {
			out.RoutePath = NormalizeRoute(*s)
			break
		}
	}

	*e = out
	return nil
}

func parseID(v json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, err
	}
	return strconv.ParseInt(n.String(), 10, 64)
}

// NormalizeRoute deja una ruta de catálogo comparable: trim, minúsculas y
// "/" inicial. Vacío queda vacío.
func NormalizeRoute(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// NormalizePath prepara la ruta navegada para comparar contra el índice.
func NormalizePath(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
