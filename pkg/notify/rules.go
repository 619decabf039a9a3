package notify

import (
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

// Rule builds the message for one observed transition.
type Rule func(rec models.BorrowRecord) Message

type ruleKey struct {
	from lifecycle.Status
	to   lifecycle.Status
	role session.Role
}

// rules decides who hears about what. Transitions missing from the table
// are silent. Active to Overdue is absent on purpose: the sweep sends that
// notice when it marks the loan.
var rules = map[ruleKey]Rule{
	{lifecycle.StatusPendingApproval, lifecycle.StatusActive, session.RolePatron}:         BorrowApproved,
	{lifecycle.StatusPendingApproval, lifecycle.StatusRejected, session.RolePatron}:       BorrowRejected,
	{lifecycle.StatusPendingReturnApproval, lifecycle.StatusReturned, session.RolePatron}: ReturnApproved,
	{lifecycle.StatusPendingRenewalApproval, lifecycle.StatusActive, session.RolePatron}:  RenewalDecision,
	{lifecycle.StatusPendingRenewalApproval, lifecycle.StatusOverdue, session.RolePatron}: RenewalDecision,

	{lifecycle.StatusNone, lifecycle.StatusPendingApproval, session.RoleLibrarian}:        NewBorrowRequest,
	{lifecycle.StatusNone, lifecycle.StatusPendingReturnApproval, session.RoleLibrarian}:  NewReturnRequest,
	{lifecycle.StatusNone, lifecycle.StatusPendingRenewalApproval, session.RoleLibrarian}: NewRenewalRequest,
}

// Lookup returns the rule for a transition seen by role.
func Lookup(from, to lifecycle.Status, role session.Role) (Rule, bool) {
	r, ok := rules[ruleKey{from, to, role}]
	return r, ok
}
