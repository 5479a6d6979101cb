// Package controllers contiene los handlers HTTP de permgate.
package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	httperrors "github.com/dropDatabas3/permgate/internal/http/errors"
	"github.com/dropDatabas3/permgate/internal/permission"
)

// writeJSON escribe una respuesta JSON estándar.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// queryResource lee ?resource= (ausente o vacío = 0, inferir).
func queryResource(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, httperrors.ErrInvalidParameter.WithDetail(name + " must be a non-negative integer")
	}
	return id, nil
}

// queryAction lee ?action= (default view).
func queryAction(r *http.Request) (permission.Action, error) {
	raw := r.URL.Query().Get("action")
	if strings.TrimSpace(raw) == "" {
		return permission.ActionView, nil
	}
	a, err := permission.ParseAction(raw)
	if err != nil {
		return "", httperrors.ErrInvalidParameter.WithDetail(err.Error())
	}
	return a, nil
}
