package lifecycle

// Event is something that can happen to a borrow record.
type Event uint8

const (
	EventSubmitBorrow Event = iota + 1
	EventApproveBorrow
	EventRejectBorrow
	EventRequestReturn
	EventApproveReturn
	EventRequestRenewal
	EventApproveRenewal
	EventRejectRenewal
	EventMarkOverdue
)

var eventNames = map[Event]string{
	EventSubmitBorrow:   "submit_borrow",
	EventApproveBorrow:  "approve_borrow",
	EventRejectBorrow:   "reject_borrow",
	EventRequestReturn:  "request_return",
	EventApproveReturn:  "approve_return",
	EventRequestRenewal: "request_renewal",
	EventApproveRenewal: "approve_renewal",
	EventRejectRenewal:  "reject_renewal",
	EventMarkOverdue:    "mark_overdue",
}

// AllEvents lists every event.
func AllEvents() []Event {
	return []Event{
		EventSubmitBorrow,
		EventApproveBorrow,
		EventRejectBorrow,
		EventRequestReturn,
		EventApproveReturn,
		EventRequestRenewal,
		EventApproveRenewal,
		EventRejectRenewal,
		EventMarkOverdue,
	}
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "unknown"
}

type edge struct {
	from  Status
	event Event
}

// transitions is the complete table. Anything missing is rejected.
var transitions = map[edge]Status{
	{StatusNone, EventSubmitBorrow}: StatusPendingApproval,

	{StatusPendingApproval, EventApproveBorrow}: StatusActive,
	{StatusPendingApproval, EventRejectBorrow}:  StatusRejected,

	{StatusActive, EventRequestReturn}:  StatusPendingReturnApproval,
	{StatusOverdue, EventRequestReturn}: StatusPendingReturnApproval,

	{StatusPendingReturnApproval, EventApproveReturn}: StatusReturned,

	{StatusActive, EventRequestRenewal}:  StatusPendingRenewalApproval,
	{StatusOverdue, EventRequestRenewal}: StatusPendingRenewalApproval,

	{StatusPendingRenewalApproval, EventApproveRenewal}: StatusActive,
	// A rejected renewal goes back to where it came from; callers holding
	// the prior status should use RestoreAfterRejectedRenewal.
	{StatusPendingRenewalApproval, EventRejectRenewal}: StatusActive,

	{StatusActive, EventMarkOverdue}: StatusOverdue,
}

// Next returns the status a record in from moves to on e.
func Next(from Status, e Event) (Status, bool) {
	to, ok := transitions[edge{from, e}]
	return to, ok
}

// RestoreAfterRejectedRenewal picks the status a record returns to when
// its renewal request is turned down.
func RestoreAfterRejectedRenewal(prior Status) Status {
	if prior == StatusOverdue {
		return StatusOverdue
	}
	return StatusActive
}
