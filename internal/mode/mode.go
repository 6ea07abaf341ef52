// Package mode gates selection operations by dashboard mode.
package mode

type Mode string
type Action string

const (
	Simple   Mode = "simple"
	Advanced Mode = "advanced"
)

const (
	ActionView            Action = "view"
	ActionToggleContext   Action = "toggle_context"
	ActionToggleException Action = "toggle_exception"
	ActionToggleCategory  Action = "toggle_category"
	ActionToggleKeyword   Action = "toggle_keyword"
	ActionChangeBudget    Action = "change_budget"
	ActionBulk            Action = "bulk"
	ActionSync            Action = "sync"
)

// Can reports whether action is exposed in mode. The simple slider hides
// per-keyword and per-category controls; advanced mode fixes the budget.
func Can(m Mode, action Action) bool {
	switch m {
	case Advanced:
		return action != ActionChangeBudget
	case Simple:
		return action != ActionToggleCategory && action != ActionToggleKeyword
	default:
		return false
	}
}

func Normalize(m string) Mode {
	switch Mode(m) {
	case Simple, Advanced:
		return Mode(m)
	default:
		return Simple
	}
}

func (m Mode) Advanced() bool {
	return m == Advanced
}
