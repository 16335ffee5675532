package monitor

import "github.com/alanyoungcy/exitbot/internal/domain"

// Resolve selects the single condition to act on from a triggered set: the
// highest tier wins, ties within a tier are broken by the fixed kind
// precedence. Resolution is a pure fold over the input and is idempotent.
// The boolean is false when the set is empty.
func Resolve(conds []domain.Condition) (domain.Condition, bool) {
	if len(conds) == 0 {
		return domain.Condition{}, false
	}
	best := conds[0]
	for _, c := range conds[1:] {
		if c.Outranks(best) {
			best = c
		}
	}
	return best, true
}
