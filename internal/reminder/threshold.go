// Package reminder defines the fixed reminder threshold table and the
// pure time-window evaluator that decides which thresholds a deal has
// reached. De-duplication is not handled here: a threshold that has been
// passed stays due forever, and the dispatch ledger decides whether it
// was already acted on.
package reminder

import (
	"time"

	"deal-reminders/internal/deal"
)

// Type identifies one reminder threshold.
type Type string

const (
	Posting5d Type = "posting_5d"
	Posting3d Type = "posting_3d"
	Posting1d Type = "posting_1d"

	Approval5d Type = "approval_5d"

	WindowOpening1d Type = "window_opening_1d"

	WindowClosing5d Type = "window_closing_5d"
	WindowClosing3d Type = "window_closing_3d"
	WindowClosing1d Type = "window_closing_1d"
	WindowClosing1h Type = "window_closing_1h"
)

// Role scopes a reminder to its recipients.
type Role string

const (
	RoleDistributor Role = "distributor"
	RoleMember      Role = "member"
)

// Anchor names the deal timestamp a threshold offsets from.
type Anchor int

const (
	AnchorCommitmentStart Anchor = iota
	AnchorCommitmentEnd
)

// Rule is one row of the threshold table. Offset is added to the anchor
// timestamp to get the fire time; negative offsets fire before the
// anchor, positive offsets after.
type Rule struct {
	Type   Type
	Role   Role
	Anchor Anchor
	Offset time.Duration

	// RequireStatus limits the rule to deals in one lifecycle state.
	RequireStatus deal.Status
	// RequiresPending marks rules that only apply while the deal has at
	// least one pending commitment. The check needs the commitment store
	// and is performed by the dispatcher, not here.
	RequiresPending bool
}

// FireAt computes the absolute time the rule fires for a deal.
func (r Rule) FireAt(d *deal.Deal) time.Time {
	switch r.Anchor {
	case AnchorCommitmentEnd:
		return d.CommitmentEndsAt.Add(r.Offset)
	default:
		return d.CommitmentStartAt.Add(r.Offset)
	}
}

const day = 24 * time.Hour

// defaultRules is the built-in threshold table.
var defaultRules = []Rule{
	{Type: Posting5d, Role: RoleDistributor, Anchor: AnchorCommitmentStart, Offset: -5 * day, RequireStatus: deal.StatusInactive},
	{Type: Posting3d, Role: RoleDistributor, Anchor: AnchorCommitmentStart, Offset: -3 * day, RequireStatus: deal.StatusInactive},
	{Type: Posting1d, Role: RoleDistributor, Anchor: AnchorCommitmentStart, Offset: -day, RequireStatus: deal.StatusInactive},

	{Type: Approval5d, Role: RoleDistributor, Anchor: AnchorCommitmentEnd, Offset: 5 * day, RequiresPending: true},

	{Type: WindowOpening1d, Role: RoleMember, Anchor: AnchorCommitmentStart, Offset: -day, RequireStatus: deal.StatusActive},

	{Type: WindowClosing5d, Role: RoleMember, Anchor: AnchorCommitmentEnd, Offset: -5 * day, RequireStatus: deal.StatusActive},
	{Type: WindowClosing3d, Role: RoleMember, Anchor: AnchorCommitmentEnd, Offset: -3 * day, RequireStatus: deal.StatusActive},
	{Type: WindowClosing1d, Role: RoleMember, Anchor: AnchorCommitmentEnd, Offset: -day, RequireStatus: deal.StatusActive},
	{Type: WindowClosing1h, Role: RoleMember, Anchor: AnchorCommitmentEnd, Offset: -time.Hour, RequireStatus: deal.StatusActive},
}

// Table is an immutable snapshot of threshold rules plus the catch-up
// cutoff. Build one at startup (or per tick) and pass it down; rules are
// never consulted ad hoc mid-computation.
type Table struct {
	rules  []Rule
	cutoff time.Duration
}

// DefaultTable returns the built-in table with unbounded catch-up.
func DefaultTable() Table {
	return NewTable(nil, 0)
}

// NewTable builds a table, overriding the magnitude of built-in offsets
// per reminder type. Override values are positive durations; the
// direction (before or after the anchor) is fixed by the rule. Cutoff
// suppresses thresholds whose fire time is older than now-cutoff; zero
// means unbounded catch-up.
func NewTable(offsets map[string]time.Duration, cutoff time.Duration) Table {
	rules := make([]Rule, len(defaultRules))
	copy(rules, defaultRules)

	for i, rule := range rules {
		override, ok := offsets[string(rule.Type)]
		if !ok || override <= 0 {
			continue
		}
		if rule.Offset < 0 {
			rules[i].Offset = -override
		} else {
			rules[i].Offset = override
		}
	}

	return Table{rules: rules, cutoff: cutoff}
}

// Rules exposes the table rows, for inspection and tests.
func (t Table) Rules() []Rule {
	return t.rules
}
