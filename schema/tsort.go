package schema

// topologicalSort orders items so that each item's dependencies (as named by
// dependencies[id]) come before the item itself, using DFS with three-color
// marking to detect cycles. CheckAll uses it to order tables by foreign-key
// dependency before convergence; a circular dependency falls back to
// declaration order rather than failing outright, since Check's own
// recursive per-field foreign-key check (via Engine.checking) still
// converges correctly regardless of sequence.
func topologicalSort[T any](items []T, dependencies map[string][]string, getID func(T) string) []T {
	var sorted []T
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	itemMap := make(map[string]T)

	for _, item := range items {
		itemMap[getID(item)] = item
	}

	var visit func(string) bool
	visit = func(id string) bool {
		if visiting[id] {
			return false
		}
		if visited[id] {
			return true
		}

		visiting[id] = true
		for _, dep := range dependencies[id] {
			if _, exists := itemMap[dep]; exists {
				if !visit(dep) {
					return false
				}
			}
		}
		visiting[id] = false
		visited[id] = true

		if item, exists := itemMap[id]; exists {
			sorted = append(sorted, item)
		}
		return true
	}

	for _, item := range items {
		id := getID(item)
		if !visited[id] {
			if !visit(id) {
				return items // circular dependency: fall back to declaration order
			}
		}
	}

	return sorted
}
