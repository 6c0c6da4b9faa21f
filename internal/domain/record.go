// Package domain defines the core interfaces and types for Kestrel.
package domain

import "maps"

// Record is one data record rules and decisions evaluate against.
// Keys are attribute names referenced by predicates.
type Record map[string]any

// Clone returns a shallow copy. The multi-decision executor mutates its copy
// while enriching the execution context; callers keep the original intact.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// Merge writes every field of other into the record, overwriting existing keys.
func (r Record) Merge(other map[string]any) {
	for k, v := range other {
		r[k] = v
	}
}
