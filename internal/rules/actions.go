package rules

// ResolveAction maps a pattern string to a recommendation via exact lookup in
// the action table. No partial or fuzzy matching: the pattern must match an
// entry character for character, non-match sentinels included. The second
// return is false when no entry matches.
func ResolveAction(table map[string]string, pattern string) (string, bool) {
	rec, ok := table[pattern]
	return rec, ok
}
