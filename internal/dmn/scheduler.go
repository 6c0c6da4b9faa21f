package dmn

import (
	"log/slog"

	"github.com/opensource-decisions/kestrel/internal/domain"
)

// Order computes an execution order over decisions such that no decision runs
// before a decision it depends on (Kahn's algorithm). The queue is FIFO and
// seeded in declaration order, so the result is deterministic for a given
// input.
//
// A dependency naming an unknown decision id is logged and ignored. Decisions
// caught in a dependency cycle are appended in declaration order rather than
// failing the run; a malformed graph degrades to best-effort ordering.
func Order(decisions []*domain.DecisionMetadata) []string {
	if len(decisions) == 0 {
		return nil
	}

	known := make(map[string]int, len(decisions)) // id -> declaration index
	for i, d := range decisions {
		known[d.ID] = i
	}

	inDegree := make(map[string]int, len(decisions))
	dependents := make(map[string][]string, len(decisions))

	for _, d := range decisions {
		inDegree[d.ID] += 0
		seen := make(map[string]bool, len(d.Requires))
		for _, dep := range d.Requires {
			if _, ok := known[dep]; !ok {
				slog.Warn("decision requires unknown decision, ignoring dependency",
					"decision_id", d.ID,
					"required_id", dep,
				)
				continue
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[d.ID]++
			dependents[dep] = append(dependents[dep], d.ID)
		}
	}

	var queue []string
	for _, d := range decisions {
		if inDegree[d.ID] == 0 {
			queue = append(queue, d.ID)
		}
	}

	order := make([]string, 0, len(decisions))
	placed := make(map[string]bool, len(decisions))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		placed[id] = true

		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Anything still carrying in-degree sits on a cycle. Append in
	// declaration order, best effort, and keep going.
	if len(order) < len(decisions) {
		for _, d := range decisions {
			if !placed[d.ID] {
				slog.Warn("decision is part of a dependency cycle, appending in declaration order",
					"decision_id", d.ID,
				)
				order = append(order, d.ID)
			}
		}
	}

	return order
}
