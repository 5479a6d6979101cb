package catalog

import (
	"strings"

	"github.com/dropDatabas3/permgate/internal/permission"
)

// Rule identifica qué escalón de la resolución decidió.
type Rule string

const (
	RuleUndetermined  Rule = "undetermined"   // catálogo o permisos aún no disponibles
	RuleSingleGrant   Rule = "single_grant"   // el usuario tiene una sola opción
	RuleExact         Rule = "exact"          // ruta exacta en el índice
	RuleLoose         Rule = "loose"          // la ruta contiene una ruta indexada
	RuleFirstViewable Rule = "first_viewable" // primera opción con canView
	RuleFirstGrant    Rule = "first_grant"    // primera opción cualquiera
	RuleNoGrants      Rule = "no_grants"      // sin permisos: sin recurso

	// Solo para Route (requests reales al backend): sin escalones heurísticos.
	RulePrefix   Rule = "prefix"   // ruta indexada como prefijo por segmento
	RuleUnmapped Rule = "unmapped" // la ruta no está en el catálogo
)

// Resolution es el resultado de resolver la opción actual.
// OK=false significa "indeterminado", no "denegado".
type Resolution struct {
	ResourceID int64
	Rule       Rule
	OK         bool
}

type input struct {
	path  string
	perms permission.Map
	idx   *Index
}

type step struct {
	rule  Rule
	apply func(in input) (int64, bool)
}

// ladder es la tabla de decisión, en orden. El primer escalón que decide gana.
var ladder = []step{
	{RuleSingleGrant, singleGrant},
	{RuleExact, exactMatch},
	{RuleLoose, looseMatch},
	{RuleFirstViewable, firstViewable},
	{RuleFirstGrant, firstGrant},
}

func resolve(in input) Resolution {
	for _, s := range ladder {
		if id, ok := s.apply(in); ok && id > 0 {
			return Resolution{ResourceID: id, Rule: s.rule, OK: true}
		}
	}
	return Resolution{Rule: RuleNoGrants}
}

func singleGrant(in input) (int64, bool) {
	if len(in.perms) != 1 {
		return 0, false
	}
	for id := range in.perms {
		return id, true
	}
	return 0, false
}

func exactMatch(in input) (int64, bool) {
	return in.idx.Lookup(in.path)
}

func looseMatch(in input) (id int64, found bool) {
	if in.path == "" {
		return 0, false
	}
	in.idx.Each(func(p string, rid int64) bool {
		if strings.HasPrefix(in.path, p) || strings.HasSuffix(in.path, p) || strings.Contains(in.path, p) {
			id, found = rid, true
			return false
		}
		return true
	})
	return id, found
}

// firstViewable y firstGrant recorren en orden ascendente de id para que
// el resultado sea determinista.
func firstViewable(in input) (int64, bool) {
	for _, id := range in.perms.IDs() {
		if in.perms[id].CanView {
			return id, true
		}
	}
	return 0, false
}

func firstGrant(in input) (int64, bool) {
	ids := in.perms.IDs()
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}
