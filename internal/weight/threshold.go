// Package weight maps category weights and keyword budgets to the minimum
// keyword weight that survives filtering.
package weight

import (
	"errors"
	"fmt"
)

// Budget is the target keyword count tier.
type Budget int

const (
	BudgetMinimal   Budget = 100
	BudgetModerate  Budget = 300
	BudgetExtensive Budget = 500
	BudgetComplete  Budget = 2000
)

var ErrInvalidBudget = errors.New("invalid target keyword count")

// Budgets lists the tiers in filter level order.
var Budgets = []Budget{BudgetMinimal, BudgetModerate, BudgetExtensive, BudgetComplete}

// Threshold returns the minimum keyword weight kept for a category of the
// given weight at the given budget. Unrecognized budgets do not filter.
func Threshold(categoryWeight int, budget Budget) int {
	switch budget {
	case BudgetMinimal:
		switch categoryWeight {
		case 10, 9, 8:
			return 8
		case 7:
			return 10
		default:
			return 11
		}
	case BudgetModerate:
		switch categoryWeight {
		case 10, 9:
			return 7
		case 8:
			return 8
		case 7:
			return 9
		default:
			return 11
		}
	case BudgetExtensive:
		switch categoryWeight {
		case 10:
			return 4
		case 9:
			return 5
		case 8:
			return 6
		case 7:
			return 7
		default:
			return 11
		}
	default:
		return 0
	}
}

// Keep reports whether a keyword of weight keywordWeight passes the threshold.
func Keep(keywordWeight, categoryWeight int, budget Budget) bool {
	return keywordWeight >= Threshold(categoryWeight, budget)
}

func (b Budget) Valid() bool {
	for _, candidate := range Budgets {
		if b == candidate {
			return true
		}
	}
	return false
}

// ParseBudget validates a raw target count.
func ParseBudget(count int) (Budget, error) {
	budget := Budget(count)
	if !budget.Valid() {
		return 0, fmt.Errorf("%w: %d (must be one of 100, 300, 500, 2000)", ErrInvalidBudget, count)
	}
	return budget, nil
}

// ForLevel maps a simple-mode filter level (0..3) to its budget.
func ForLevel(level int) (Budget, error) {
	if level < 0 || level >= len(Budgets) {
		return 0, fmt.Errorf("%w: filter level %d", ErrInvalidBudget, level)
	}
	return Budgets[level], nil
}

// Level is the inverse of ForLevel. Unknown budgets map to level 0.
func (b Budget) Level() int {
	for i, candidate := range Budgets {
		if b == candidate {
			return i
		}
	}
	return 0
}

// DefaultFor returns the budget used when nothing has been persisted.
func DefaultFor(advanced bool) Budget {
	if advanced {
		return BudgetComplete
	}
	return BudgetMinimal
}
