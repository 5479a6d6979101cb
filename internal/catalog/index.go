package catalog

import "strings"

// Index mapea ruta normalizada → opción. Conserva el orden de primera
// aparición para el escaneo laxo; ante rutas repetidas gana la última entrada.
type Index struct {
	ids   map[string]int64
	order []string
}

// BuildIndex arma el índice a partir del catálogo completo en orden de fetch.
func BuildIndex(entries []Entry) *Index {
	idx := &Index{ids: make(map[string]int64, len(entries))}
	for _, e := range entries {
		if e.RoutePath == "" || e.ResourceID <= 0 {
			continue
		}
		if _, seen := idx.ids[e.RoutePath]; !seen {
			idx.order = append(idx.order, e.RoutePath)
		}
		idx.ids[e.RoutePath] = e.ResourceID
	}
	return idx
}

// Lookup busca por coincidencia exacta.
func (i *Index) Lookup(path string) (int64, bool) {
	if i == nil {
		return 0, false
	}
	id, ok := i.ids[path]
	return id, ok
}

// MatchRoute busca la ruta exacta o, si no, la ruta indexada más larga que
// sea prefijo de path en un límite de segmento ("/cajas" cubre "/cajas/15"
// pero no "/cajasfuertes").
func (i *Index) MatchRoute(path string) (id int64, rule Rule, ok bool) {
	if i == nil {
		return 0, RuleUnmapped, false
	}
	if id, ok := i.ids[path]; ok {
		return id, RuleExact, true
	}
	best := ""
	for _, p := range i.order {
		if len(p) > len(best) && strings.HasPrefix(path, p+"/") {
			best = p
		}
	}
	if best == "" {
		return 0, RuleUnmapped, false
	}
	return i.ids[best], RulePrefix, true
}

// Len cantidad de rutas indexadas.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.order)
}

// Each recorre las rutas en orden de catálogo hasta que fn retorne false.
func (i *Index) Each(fn func(path string, id int64) bool) {
	if i == nil {
		return
	}
	for _, p := range i.order {
		if !fn(p, i.ids[p]) {
			return
		}
	}
}
