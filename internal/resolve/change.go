package resolve

import (
	"fmt"

	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/types"
)

// Action is the kind of change an automatic fix applies to a rule list.
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionModify  Action = "modify"
	ActionReorder Action = "reorder"
)

// Change is a closed tagged variant describing one concrete edit to a rule
// list. Only the fields relevant to the Action are set; Apply checks the
// variants exhaustively.
type Change struct {
	Action          Action         `json:"action"`
	Category        types.Category `json:"category"`
	OriginalPattern string         `json:"original_pattern,omitempty"` // remove, modify, reorder
	NewPattern      string         `json:"new_pattern,omitempty"`      // add, modify
	Position        *int           `json:"position,omitempty"`         // add, reorder
	Reason          string         `json:"reason"`
}

// Apply performs the change on a permission set, returning the edited copy.
// Deny patterns are never removed or modified; that invariant holds
// regardless of where the change came from.
func Apply(ch Change, perms config.PermissionSet) (config.PermissionSet, error) {
	if ch.Category == types.CategoryDeny && (ch.Action == ActionRemove || ch.Action == ActionModify) {
		return perms, fmt.Errorf("refusing to %s a deny rule (%q)", ch.Action, ch.OriginalPattern)
	}

	tier := append([]string(nil), perms.Tier(ch.Category)...)

	switch ch.Action {
	case ActionAdd:
		pos := len(tier)
		if ch.Position != nil && *ch.Position >= 0 && *ch.Position <= len(tier) {
			pos = *ch.Position
		}
		tier = append(tier[:pos], append([]string{ch.NewPattern}, tier[pos:]...)...)

	case ActionRemove:
		idx := indexOf(tier, ch.OriginalPattern)
		if idx < 0 {
			return perms, fmt.Errorf("pattern %q not found in %s tier", ch.OriginalPattern, ch.Category)
		}
		tier = append(tier[:idx], tier[idx+1:]...)

	case ActionModify:
		idx := indexOf(tier, ch.OriginalPattern)
		if idx < 0 {
			return perms, fmt.Errorf("pattern %q not found in %s tier", ch.OriginalPattern, ch.Category)
		}
		tier[idx] = ch.NewPattern

	case ActionReorder:
		idx := indexOf(tier, ch.OriginalPattern)
		if idx < 0 {
			return perms, fmt.Errorf("pattern %q not found in %s tier", ch.OriginalPattern, ch.Category)
		}
		if ch.Position == nil || *ch.Position < 0 || *ch.Position >= len(tier) {
			return perms, fmt.Errorf("reorder requires a valid position")
		}
		p := tier[idx]
		tier = append(tier[:idx], tier[idx+1:]...)
		pos := *ch.Position
		tier = append(tier[:pos], append([]string{p}, tier[pos:]...)...)

	default:
		return perms, fmt.Errorf("unknown change action %q", ch.Action)
	}

	switch ch.Category {
	case types.CategoryDeny:
		perms.Deny = tier
	case types.CategoryAsk:
		perms.Ask = tier
	case types.CategoryAllow:
		perms.Allow = tier
	default:
		return perms, fmt.Errorf("unknown category %q", ch.Category)
	}
	return perms, nil
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}
