package sync

import (
	"sort"

	"github.com/schaermu/pass-ssh-unpack/internal/profile"
)

// Plan represents the reconciliation operations to perform
type Plan struct {
	Create    []Op
	Update    []Op
	Delete    []Op
	Unchanged []Op
	Conflicts []Op // present but not owned, never touched
}

// Op is a single named remote in a plan bucket
type Op struct {
	Name string
	Def  profile.Definition
}

// Changes returns the number of mutating operations in the plan
func (p *Plan) Changes() int {
	return len(p.Create) + len(p.Update) + len(p.Delete)
}

// Reconcile computes the plan that turns actual into desired. Desired names
// are visited in lexicographic order. Remotes without the ownership marker
// are never scheduled for change. With full set, owned remotes that are no
// longer desired are scheduled for deletion.
func Reconcile(desired profile.Desired, actual profile.State, full bool) *Plan {
	plan := &Plan{}

	for _, name := range desired.Names() {
		def := desired[name]
		op := Op{Name: name, Def: def}

		existing, ok := actual[name]
		switch {
		case !ok:
			plan.Create = append(plan.Create, op)
		case !existing.Owned():
			plan.Conflicts = append(plan.Conflicts, op)
		case existing.Matches(def):
			plan.Unchanged = append(plan.Unchanged, op)
		default:
			plan.Update = append(plan.Update, op)
		}
	}

	if full {
		for name, existing := range actual {
			if _, ok := desired[name]; !ok && existing.Owned() {
				plan.Delete = append(plan.Delete, Op{Name: name})
			}
		}
		sort.Slice(plan.Delete, func(i, j int) bool {
			return plan.Delete[i].Name < plan.Delete[j].Name
		})
	}

	return plan
}

// Result summarizes a sync or purge run
type Result struct {
	// Skipped holds the reason the run was skipped, empty when it ran
	Skipped string
	Plan    *Plan

	Created []string
	Updated []string
	Deleted []string
	Pruned  []string
	Failed  []string

	// Failures combines the per-remote errors of the run
	Failures error
}
