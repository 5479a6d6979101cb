// Package permission mantiene el mapa de grants de un usuario y responde
// consultas puntuales "¿puede hacer X sobre la opción Y?".
package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Action es una de las acciones autorizables sobre una opción.
type Action string

const (
	ActionView     Action = "view"
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionFinalize Action = "finalize"
)

// Actions lista las acciones válidas en orden estable.
var Actions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionFinalize}

// ParseAction acepta el nombre de la acción sin importar mayúsculas.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Actions {
		if a == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("permission: unknown action %q", s)
}

// Grant es el registro validado de lo que un usuario puede hacer sobre una opción.
type Grant struct {
	ResourceID  int64 `json:"resourceId"`
	CanView     bool  `json:"canView"`
	CanCreate   bool  `json:"canCreate"`
	CanEdit     bool  `json:"canEdit"`
	CanDelete   bool  `json:"canDelete"`
	CanFinalize bool  `json:"canFinalize"`
}

// Allows retorna el flag correspondiente a la acción.
func (g Grant) Allows(a Action) bool {
	switch a {
	case ActionView:
		return g.CanView
	case ActionCreate:
		return g.CanCreate
	case ActionEdit:
		return g.CanEdit
	case ActionDelete:
		return g.CanDelete
	case ActionFinalize:
		return g.CanFinalize
	}
	return false
}

// Map agrupa los grants de un único usuario por id de opción.
type Map map[int64]Grant

// IDs retorna los ids en orden ascendente.
func (m Map) IDs() []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m Map) clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GrantRow es la fila cruda tal como la entrega el backend. El id de la
// opción viaja bajo distintas claves según el endpoint y los booleanos a
// veces llegan como 0/1 o "S"/"N".
type GrantRow struct {
	ResourceID  int64
	CanView     bool
	CanCreate   bool
	CanEdit     bool
	CanDelete   bool
	CanFinalize *bool
}

var resourceIDKeys = []string{"resourceId", "idOpcion", "id_opcion", "optionId", "opcionId"}

var flagKeys = map[string][]string{
	"view":     {"canView", "ver", "puedeVer"},
	"create":   {"canCreate", "crear", "puedeCrear"},
	"edit":     {"canEdit", "editar", "puedeEditar"},
	"delete":   {"canDelete", "eliminar", "puedeEliminar"},
	"finalize": {"canFinalize", "finalizar", "puedeFinalizar"},
}

// UnmarshalJSON es el único punto de ingestión del shape del backend.
func (r *GrantRow) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: grant row: %v", ErrMalformedResponse, err)
	}

	// sin id queda en 0: FromRows descarta la fila sin tirar la página
	id, _, err := firstInt(raw, resourceIDKeys)
	if err != nil {
		return fmt.Errorf("%w: grant row: %v", ErrMalformedResponse, err)
	}

	out := GrantRow{ResourceID: id}
	for name, keys := range flagKeys {
		v, ok, err := firstBool(raw, keys)
		if err != nil {
			return fmt.Errorf("%w: grant row %d: %v", ErrMalformedResponse, id, err)
		}
		switch name {
		case "view":
			out.CanView = v
		case "create":
			out.CanCreate = v
		case "edit":
			out.CanEdit = v
		case "delete":
			out.CanDelete = v
		case "finalize":
			if ok {
				vv := v
				out.CanFinalize = &vv
			}
		}
	}
	*r = out
	return nil
}

// Grant normaliza la fila: finalize refleja edit salvo que venga explícito.
func (r GrantRow) Grant() Grant {
	g := Grant{
		ResourceID: r.ResourceID,
		CanView:    r.CanView,
		CanCreate:  r.CanCreate,
		CanEdit:    r.CanEdit,
		CanDelete:  r.CanDelete,
	}
	if r.CanFinalize != nil {
		g.CanFinalize = *r.CanFinalize
	} else {
		g.CanFinalize = r.CanEdit
	}
	return g
}

// FromRows construye el mapa en orden de llegada: ante ids repetidos gana la
// última fila. Las filas con id <= 0 se descartan y se cuentan en dropped.
func FromRows(rows []GrantRow) (m Map, dropped int) {
	m = make(Map, len(rows))
	for _, r := range rows {
		if r.ResourceID <= 0 {
			dropped++
			continue
		}
		m[r.ResourceID] = r.Grant()
	}
	return m, dropped
}

func firstInt(raw map[string]json.RawMessage, keys []string) (int64, bool, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || isNull(v) {
			continue
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&n); err == nil {
			i, err := strconv.ParseInt(n.String(), 10, 64)
			if err != nil {
				return 0, false, fmt.Errorf("%s: %v", k, err)
			}
			return i, true, nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, false, fmt.Errorf("%s: not a number", k)
		}
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %v", k, err)
		}
		return i, true, nil
	}
	return 0, false, nil
}

func firstBool(raw map[string]json.RawMessage, keys []string) (bool, bool, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || isNull(v) {
			continue
		}
		b, err := parseFlag(v)
		if err != nil {
			return false, false, fmt.Errorf("%s: %v", k, err)
		}
		return b, true, nil
	}
	return false, false, nil
}

func parseFlag(v json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b, nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f != 0, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return false, fmt.Errorf("invalid flag %s", string(v))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "s", "si", "sí", "y", "yes":
		return true, nil
	case "false", "0", "n", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag %q", s)
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}
