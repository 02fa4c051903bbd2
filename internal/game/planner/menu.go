package planner

import (
	"fmt"
	"strings"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
)

// BuildMenu assembles the per-turn action menu for an actor: the built-in
// operations the budget still allows plus one entry per legal sheet action.
// end_turn is always present, so the menu is never empty.
func BuildMenu(a *actor.Actor, budget Budget) []Descriptor {
	var menu []Descriptor
	seen := map[string]bool{
		OpMove: true, OpDash: true, OpDisengage: true, OpHide: true, OpEndTurn: true,
	}

	if budget.RemainingMovement > 0 {
		menu = append(menu, Descriptor{
			Name: OpMove,
			Description: fmt.Sprintf("Move to a grid square within your remaining %d ft of movement.",
				budget.RemainingMovement),
			Params: map[string]string{
				"x": "destination column, counted from 0 at the left edge",
				"y": "destination row, counted from 0 at the top edge",
			},
		})
	}

	if !budget.UsedAction {
		for _, act := range a.Actions() {
			name := "use_" + safeName(act.Name)
			if seen[name] {
				continue
			}
			seen[name] = true
			menu = append(menu, Descriptor{
				Name:        name,
				Description: describeAction(act),
				Params:      actionParams(act),
				ActionName:  act.Name,
			})
		}
		menu = append(menu,
			Descriptor{
				Name:        OpDash,
				Description: "Spend your action to gain extra movement equal to your speed.",
			},
			Descriptor{
				Name:        OpDisengage,
				Description: "Spend your action to withdraw without provoking attacks.",
			},
			Descriptor{
				Name:        OpHide,
				Description: "Spend your action on a Stealth check to hide.",
			},
		)
	}

	if !budget.UsedBonusAction {
		for _, act := range a.BonusActions() {
			name := "bonus_" + safeName(act.Name)
			if seen[name] {
				continue
			}
			seen[name] = true
			menu = append(menu, Descriptor{
				Name:        name,
				Description: "Bonus action: " + describeAction(act),
				Params:      actionParams(act),
				ActionName:  act.Name,
				Bonus:       true,
			})
		}
	}

	menu = append(menu, Descriptor{
		Name:        OpEndTurn,
		Description: "End your turn.",
	})
	return menu
}

// actionParams returns the parameters a sheet action requires. Weapon attacks
// and specials that force a save or deal damage take a target; self-only
// specials take no arguments at all.
func actionParams(act actor.Action) map[string]string {
	if act.Kind == actor.KindSpecial {
		s := act.Special
		if s == nil || (s.Save == nil && s.Damage == nil) {
			return nil
		}
	}
	return map[string]string{"target": "ID of the combatant to target"}
}

// safeName lowercases an action name and collapses anything that is not a
// letter or digit into underscores, fitting tool-name constraints.
func safeName(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func describeAction(act actor.Action) string {
	switch act.Kind {
	case actor.KindWeapon:
		w := act.Weapon
		reach := fmt.Sprintf("reach %d ft", w.ReachFt)
		if w.RangeFt > 0 {
			reach = fmt.Sprintf("range %d ft", w.RangeFt)
		}
		return fmt.Sprintf("%s: weapon attack %+d to hit, %s damage, %s.",
			act.Name, w.AttackBonus, w.Damage.String(), reach)
	case actor.KindSpecial:
		s := act.Special
		desc := fmt.Sprintf("%s: %s", act.Name, s.Description)
		if s.Save != nil {
			desc += fmt.Sprintf(" Target makes a DC %d %s save.", s.Save.DC, s.Save.Ability)
		}
		if s.Damage != nil {
			desc += fmt.Sprintf(" Deals %s damage.", s.Damage.String())
		}
		return desc
	default:
		return act.Name
	}
}
