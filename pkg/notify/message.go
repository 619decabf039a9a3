package notify

import (
	"fmt"
	"strconv"
	"time"

	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

// Routes tell the client which screen a notification opens.
const (
	RouteNotifications    = "notifications"
	RoutePendingApprovals = "pending_approvals"
	RoutePendingReturns   = "pending_returns"
	RouteRenewalRequests  = "renewal_requests"
)

// Message is one notification on its way to the sinks. Recipient is the id
// of whoever should see it. Key identifies the underlying event, so two
// messages about the same event share it.
type Message struct {
	Kind      string           `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Route     string           `json:"route"`
	Audience  session.Role     `json:"audience"`
	Recipient string           `json:"recipient"`
	BorrowID  string           `json:"borrowId"`
	BookID    string           `json:"bookId,omitempty"`
	Status    lifecycle.Status `json:"status"`
	Key       string           `json:"key"`
	At        time.Time        `json:"at"`
}

// ID is the stable inbox id for the message.
func (m Message) ID() string {
	return models.NotificationID(m.BorrowID, m.Kind, m.Key)
}

// Notification converts m to its inbox form.
func (m Message) Notification() models.Notification {
	return models.Notification{
		ID:        m.ID(),
		PatronID:  m.Recipient,
		Kind:      m.Kind,
		Title:     m.Title,
		Body:      m.Body,
		Route:     m.Route,
		BorrowID:  m.BorrowID,
		CreatedAt: m.At,
	}
}

func dateOf(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func forPatron(rec models.BorrowRecord, kind, title, body, key string) Message {
	return Message{
		Kind:      kind,
		Title:     title,
		Body:      body,
		Route:     RouteNotifications,
		Audience:  session.RolePatron,
		Recipient: rec.PatronID,
		BorrowID:  rec.ID,
		BookID:    rec.BookID,
		Status:    rec.Status,
		Key:       key,
	}
}

func forLibrarian(rec models.BorrowRecord, kind, route, title, body, key string) Message {
	return Message{
		Kind:     kind,
		Title:    title,
		Body:     body,
		Route:    route,
		Audience: session.RoleLibrarian,
		BorrowID: rec.ID,
		BookID:   rec.BookID,
		Status:   rec.Status,
		Key:      key,
	}
}

func BorrowApproved(rec models.BorrowRecord) Message {
	return forPatron(rec, models.KindBorrowApproved, "Borrow approved",
		fmt.Sprintf("Your request for %q was approved. Please return it by %s.", rec.BookTitle, dateOf(rec.DueDate)),
		models.Stamp(rec.BorrowDate))
}

func BorrowRejected(rec models.BorrowRecord) Message {
	return forPatron(rec, models.KindBorrowRejected, "Borrow rejected",
		fmt.Sprintf("Your request for %q was not approved.", rec.BookTitle), "")
}

func ReturnApproved(rec models.BorrowRecord) Message {
	return forPatron(rec, models.KindReturnApproved, "Return confirmed",
		fmt.Sprintf("The library has confirmed your return of %q.", rec.BookTitle), "")
}

// RenewalDecision reports the outcome recorded on rec.
func RenewalDecision(rec models.BorrowRecord) Message {
	key := models.Stamp(rec.RenewalRequestDate)
	if rec.RenewalDecision == models.RenewalRejected {
		return forPatron(rec, models.KindRenewalRejected, "Renewal rejected",
			fmt.Sprintf("Your renewal of %q was not approved. It is still due on %s.", rec.BookTitle, dateOf(rec.DueDate)), key)
	}
	return forPatron(rec, models.KindRenewalApproved, "Renewal approved",
		fmt.Sprintf("Your renewal of %q was approved. New due date: %s.", rec.BookTitle, dateOf(rec.DueDate)), key)
}

func DueSoon(rec models.BorrowRecord, daysLeft int) Message {
	when := "tomorrow"
	if daysLeft != 1 {
		when = fmt.Sprintf("in %d days", daysLeft)
	}
	return forPatron(rec, models.KindDueSoon, "Book due soon",
		fmt.Sprintf("%q is due %s (%s).", rec.BookTitle, when, dateOf(rec.DueDate)),
		models.Stamp(rec.DueDate)+"/"+strconv.Itoa(daysLeft))
}

func OverdueNotice(rec models.BorrowRecord) Message {
	return forPatron(rec, models.KindOverdue, "Book overdue",
		fmt.Sprintf("%q is %d day(s) overdue. Fine so far: %d.", rec.BookTitle, rec.OverdueDays, rec.FineAmount),
		models.Stamp(rec.OverdueSince))
}

func OverdueReminder(rec models.BorrowRecord) Message {
	return forPatron(rec, models.KindOverdueReminder, "Overdue reminder",
		fmt.Sprintf("%q is still overdue (%d days). Fine so far: %d.", rec.BookTitle, rec.OverdueDays, rec.FineAmount),
		models.Stamp(rec.OverdueSince)+"/"+strconv.Itoa(rec.OverdueDays))
}

func NewBorrowRequest(rec models.BorrowRecord) Message {
	return forLibrarian(rec, models.KindNewBorrowRequest, RoutePendingApprovals, "New borrow request",
		fmt.Sprintf("%s wants to borrow %q.", rec.RequestedBy, rec.BookTitle), "")
}

func NewReturnRequest(rec models.BorrowRecord) Message {
	return forLibrarian(rec, models.KindNewReturnRequest, RoutePendingReturns, "New return request",
		fmt.Sprintf("%s is returning %q.", rec.RequestedBy, rec.BookTitle), models.Stamp(rec.ReturnRequestDate))
}

func NewRenewalRequest(rec models.BorrowRecord) Message {
	return forLibrarian(rec, models.KindNewRenewal, RouteRenewalRequests, "New renewal request",
		fmt.Sprintf("%s asks to renew %q (%d of %d used).", rec.RequestedBy, rec.BookTitle, rec.RenewalsUsed, rec.RenewalsAllowed),
		models.Stamp(rec.RenewalRequestDate))
}
