package entity

import "linkplan.ai/internal/geom"

// Dedupe keeps one entity per position. Later entities win ties; the relative
// order of survivors is preserved.
func Dedupe(es []Entity) []Entity {
	if len(es) == 0 {
		return es
	}
	seen := make(map[geom.Key]struct{}, len(es))
	rev := make([]Entity, 0, len(es))
	for i := len(es) - 1; i >= 0; i-- {
		k := es[i].Position.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		rev = append(rev, es[i])
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}
