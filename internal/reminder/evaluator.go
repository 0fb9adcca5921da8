package reminder

import (
	"time"

	"deal-reminders/internal/deal"
)

// Due returns the rules a deal has reached at the given instant.
// Thresholds are level-triggered: once now passes a rule's fire time the
// rule stays due, so an engine outage of arbitrary length still catches
// up on restart (bounded only by the table's cutoff, when set). Rules
// with a RequiresPending precondition are returned on time alone; the
// caller owns the pending-commitment check.
func (t Table) Due(now time.Time, d *deal.Deal) []Rule {
	var due []Rule
	for _, rule := range t.rules {
		if rule.RequireStatus != "" && d.Status != rule.RequireStatus {
			continue
		}

		fireAt := rule.FireAt(d)
		if now.Before(fireAt) {
			continue
		}
		if t.cutoff > 0 && now.Sub(fireAt) > t.cutoff {
			continue
		}

		due = append(due, rule)
	}
	return due
}
