package notify

import (
	"context"
	"slices"

	"library-lending/pkg/apperr"
	"library-lending/pkg/docstore"
	"library-lending/pkg/models"
	"library-lending/pkg/session"
)

// Inbox persists patron notifications. Message ids are derived from the
// event they describe, so the same event delivered by two producers is
// stored once.
type Inbox struct {
	items *docstore.Collection[models.Notification]
}

func NewInbox(store *docstore.Store) *Inbox {
	return &Inbox{items: docstore.C[models.Notification](store)}
}

// Deliver stores patron messages. Librarian messages are not kept.
func (in *Inbox) Deliver(ctx context.Context, m Message) error {
	if m.Audience != session.RolePatron || m.Recipient == "" {
		return nil
	}
	_, err := in.items.CreateIfAbsent(ctx, m.Notification())
	return err
}

// RenewalDecided stores the outcome of a renewal request directly, for
// patrons who have no live feed when the librarian decides.
func (in *Inbox) RenewalDecided(ctx context.Context, rec models.BorrowRecord) error {
	return in.Deliver(ctx, RenewalDecision(rec))
}

// List returns a patron's notifications, newest first.
func (in *Inbox) List(ctx context.Context, patronID string) ([]models.Notification, error) {
	out, err := in.items.Query(ctx, docstore.Eq("patron_id", patronID))
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (in *Inbox) Unread(ctx context.Context, patronID string) (int64, error) {
	return in.items.Count(ctx, docstore.Eq("patron_id", patronID), docstore.Eq("read", false))
}

// MarkRead flags one of the patron's notifications as read. Another
// patron's notification is reported as missing.
func (in *Inbox) MarkRead(ctx context.Context, patronID, id string) (models.Notification, error) {
	n, applied, err := in.items.UpdateWhere(ctx, id,
		[]docstore.Filter{docstore.Eq("patron_id", patronID)},
		docstore.Fields{"read": true})
	if err != nil {
		return n, err
	}
	if !applied {
		return n, apperr.NotFound("inbox.mark_read", "notification %s", id)
	}
	return n, nil
}

// Subscribe streams notifications stored for patronID from now on. The
// channel closes when ctx is done.
func (in *Inbox) Subscribe(ctx context.Context, patronID string) (<-chan models.Notification, error) {
	snaps, err := in.items.Subscribe(ctx, docstore.Eq("patron_id", patronID))
	if err != nil {
		return nil, err
	}
	out := make(chan models.Notification)
	go func() {
		defer close(out)
		for snap := range snaps {
			if snap.Initial {
				continue
			}
			for _, n := range snap.Added {
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
