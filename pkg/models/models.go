package models

import (
	"time"

	"github.com/google/uuid"

	"library-lending/pkg/lifecycle"
)

type Availability string

const (
	Available   Availability = "AVAILABLE"
	Unavailable Availability = "UNAVAILABLE"
)

// AvailabilityFor derives a title's status from its free copies.
func AvailabilityFor(availableCopies int) Availability {
	if availableCopies > 0 {
		return Available
	}
	return Unavailable
}

// Book is a catalog title and its copy inventory.
type Book struct {
	ID              string       `gorm:"primaryKey;size:64" json:"id"`
	Title           string       `gorm:"not null" json:"title"`
	Author          string       `json:"author"`
	Category        string       `gorm:"size:80;index" json:"category"`
	CoverURL        string       `json:"coverUrl"`
	TotalCopies     int          `gorm:"not null;check:total_copies >= 0" json:"totalCopies"`
	AvailableCopies int          `gorm:"not null;check:available_copies >= 0" json:"availableCopies"`
	Status          Availability `gorm:"size:20;not null" json:"status"`
	BorrowCount     int          `gorm:"not null;default:0" json:"borrowCount"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

func (b Book) DocID() string { return b.ID }

func (b Book) Field(name string) (any, bool) {
	switch name {
	case "id":
		return b.ID, true
	case "title":
		return b.Title, true
	case "author":
		return b.Author, true
	case "category":
		return b.Category, true
	case "total_copies":
		return b.TotalCopies, true
	case "available_copies":
		return b.AvailableCopies, true
	case "status":
		return b.Status, true
	case "borrow_count":
		return b.BorrowCount, true
	}
	return nil, false
}

const (
	RenewalApproved = "APPROVED"
	RenewalRejected = "REJECTED"
)

// BorrowRecord is one patron's loan of one title. Rows are never deleted;
// returned and rejected records stay as history.
type BorrowRecord struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	PatronID    string `gorm:"size:64;not null;index:idx_borrow_patron_book" json:"patronId"`
	BookID      string `gorm:"size:64;not null;index:idx_borrow_patron_book" json:"bookId"`
	BookTitle   string `json:"bookTitle"`
	BookAuthor  string `json:"bookAuthor"`
	BookCover   string `json:"bookCover"`
	RequestedBy string `gorm:"size:120" json:"requestedBy"`

	Status      lifecycle.Status `gorm:"index;not null" json:"status"`
	PriorStatus lifecycle.Status `json:"priorStatus,omitempty"`

	RequestedAt        time.Time  `json:"requestedAt"`
	RequestedDueDate   *time.Time `json:"requestedDueDate,omitempty"`
	BorrowDate         *time.Time `json:"borrowDate,omitempty"`
	DueDate            *time.Time `json:"dueDate,omitempty"`
	ReturnRequestDate  *time.Time `json:"returnRequestDate,omitempty"`
	ActualReturnDate   *time.Time `json:"actualReturnDate,omitempty"`
	RenewalRequestDate *time.Time `json:"renewalRequestDate,omitempty"`
	RenewalDecision    string     `gorm:"size:20" json:"renewalDecision,omitempty"`

	OverdueSince *time.Time `json:"overdueSince,omitempty"`
	OverdueDays  int        `gorm:"not null;default:0" json:"overdueDays"`
	FinePerDay   int64      `gorm:"not null;default:0" json:"finePerDay"`
	FineCarried  int64      `gorm:"not null;default:0" json:"fineCarried"`
	FineAmount   int64      `gorm:"not null;default:0" json:"fineAmount"`
	FinePaid     bool       `gorm:"not null;default:false" json:"finePaid"`

	RenewalsUsed    int `gorm:"not null;default:0;check:renewals_used >= 0" json:"renewalsUsed"`
	RenewalsAllowed int `gorm:"not null" json:"renewalsAllowed"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r BorrowRecord) DocID() string { return r.ID }

func (r BorrowRecord) Field(name string) (any, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "patron_id":
		return r.PatronID, true
	case "book_id":
		return r.BookID, true
	case "status":
		return r.Status, true
	case "prior_status":
		return r.PriorStatus, true
	case "renewals_used":
		return r.RenewalsUsed, true
	case "overdue_days":
		return r.OverdueDays, true
	case "fine_amount":
		return r.FineAmount, true
	case "fine_paid":
		return r.FinePaid, true
	}
	return nil, false
}

// Notification kinds stored in the inbox and published to sinks.
const (
	KindBorrowApproved   = "borrow_approved"
	KindBorrowRejected   = "borrow_rejected"
	KindReturnApproved   = "return_approved"
	KindRenewalApproved  = "renewal_approved"
	KindRenewalRejected  = "renewal_rejected"
	KindDueSoon          = "due_soon"
	KindOverdue          = "overdue"
	KindOverdueReminder  = "overdue_reminder"
	KindNewBorrowRequest = "new_borrow_request"
	KindNewReturnRequest = "new_return_request"
	KindNewRenewal       = "new_renewal_request"
)

// NotificationID derives a stable inbox id from the borrow record, the kind
// of notification and a stamp that tells repeated events apart. Producers
// that describe the same event compute the same id.
func NotificationID(borrowID, kind, stamp string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(borrowID+"|"+kind+"|"+stamp)).String()
}

// Stamp renders a time for use in NotificationID.
func Stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Notification is a persisted inbox entry for one patron.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	PatronID  string    `gorm:"size:64;not null;index" json:"patronId"`
	Kind      string    `gorm:"size:40;not null" json:"type"`
	Title     string    `gorm:"not null" json:"title"`
	Body      string    `json:"body"`
	Route     string    `gorm:"size:40" json:"route"`
	BorrowID  string    `gorm:"size:64" json:"borrowId,omitempty"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Notification) DocID() string { return n.ID }

func (n Notification) Field(name string) (any, bool) {
	switch name {
	case "id":
		return n.ID, true
	case "patron_id":
		return n.PatronID, true
	case "kind":
		return n.Kind, true
	case "borrow_id":
		return n.BorrowID, true
	case "read":
		return n.Read, true
	}
	return nil, false
}

// All lists every persisted model, in migration order.
func All() []any {
	return []any{&Book{}, &BorrowRecord{}, &Notification{}}
}
