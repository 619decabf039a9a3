package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"library-lending/pkg/app"
	"library-lending/pkg/apperr"
	"library-lending/pkg/circulation"
	"library-lending/pkg/inventory"
	"library-lending/pkg/lifecycle"
	"library-lending/pkg/models"
)

type handler struct {
	app *app.App
}

func newHandler(a *app.App) *handler {
	return &handler{app: a}
}

// GET /api/v1/books?category=
func (h *handler) listBooks(c *gin.Context) {
	books, err := h.app.Ledger.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": books, "totalElements": len(books)})
}

// GET /api/v1/books/:bookId
func (h *handler) getBook(c *gin.Context) {
	b, err := h.app.Ledger.Get(c.Request.Context(), c.Param("bookId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// POST /api/v1/books (librarian)
func (h *handler) addBook(c *gin.Context) {
	var in struct {
		ID       string `json:"id"`
		Title    string `json:"title" binding:"required"`
		Author   string `json:"author"`
		Category string `json:"category"`
		CoverURL string `json:"coverUrl"`
		Copies   int    `json:"copies"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := h.app.Ledger.AddTitle(c.Request.Context(), inventory.NewTitle{
		ID:       in.ID,
		Title:    in.Title,
		Author:   in.Author,
		Category: in.Category,
		CoverURL: in.CoverURL,
		Copies:   in.Copies,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// POST /api/v1/books/:bookId/copies (librarian)
func (h *handler) adjustCopies(c *gin.Context) {
	var in struct {
		Delta int `json:"delta"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := h.app.Ledger.AdjustCopies(c.Request.Context(), c.Param("bookId"), in.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// parseDueDate accepts a calendar date or an RFC3339 timestamp.
func parseDueDate(s string, loc *time.Location) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, apperr.Invalid("borrow.requestedDueDate", "expected YYYY-MM-DD or RFC3339, got %q", s)
	}
	return &t, nil
}

// POST /api/v1/borrows
func (h *handler) requestBorrow(c *gin.Context) {
	var in struct {
		BookID           string `json:"bookId" binding:"required"`
		RequestedName    string `json:"requestedName"`
		RequestedDueDate string `json:"requestedDueDate"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	due, err := parseDueDate(in.RequestedDueDate, h.app.Policy.Loc())
	if err != nil {
		respondError(c, err)
		return
	}
	rec, err := h.app.Service.RequestBorrow(c.Request.Context(), sessionOf(c), circulation.BorrowRequest{
		BookID:           in.BookID,
		RequestedName:    in.RequestedName,
		RequestedDueDate: due,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func parseStatuses(raw string) ([]lifecycle.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var out []lifecycle.Status
	for _, name := range strings.Split(raw, ",") {
		s, err := lifecycle.ParseStatus(strings.TrimSpace(name))
		if err != nil {
			return nil, apperr.Invalid("status", "%v", err)
		}
		out = append(out, s)
	}
	return out, nil
}

// GET /api/v1/borrows?status=ACTIVE,OVERDUE
func (h *handler) myBorrows(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	recs, err := h.app.Service.MyBorrows(c.Request.Context(), sessionOf(c), statuses...)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": recs, "totalElements": len(recs)})
}

// GET /api/v1/borrows/:id
func (h *handler) getBorrow(c *gin.Context) {
	rec, err := h.app.Service.Get(c.Request.Context(), sessionOf(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// transition adapts a lifecycle operation on a single record to a handler.
func (h *handler) transition(op func(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := op(h.app.Service, c, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func requestReturn(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error) {
	return s.RequestReturn(c.Request.Context(), sessionOf(c), id)
}

func requestRenewal(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error) {
	return s.RequestRenewal(c.Request.Context(), sessionOf(c), id)
}

func approveBorrow(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error) {
	return s.ApproveBorrow(c.Request.Context(), sessionOf(c), id)
}

func rejectBorrow(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error) {
	return s.RejectBorrow(c.Request.Context(), sessionOf(c), id)
}

func approveReturn(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error) {
	return s.ApproveReturn(c.Request.Context(), sessionOf(c), id)
}

func approveRenewal(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error) {
	return s.ApproveRenewal(c.Request.Context(), sessionOf(c), id)
}

func rejectRenewal(s *circulation.Service, c *gin.Context, id string) (models.BorrowRecord, error) {
	return s.RejectRenewal(c.Request.Context(), sessionOf(c), id)
}

// GET /api/v1/requests?status=PENDING_APPROVAL (librarian)
func (h *handler) queue(c *gin.Context) {
	status := lifecycle.StatusPendingApproval
	if raw := c.Query("status"); raw != "" {
		s, err := lifecycle.ParseStatus(raw)
		if err != nil {
			respondError(c, apperr.Invalid("status", "%v", err))
			return
		}
		status = s
	}
	recs, err := h.app.Service.Queue(c.Request.Context(), sessionOf(c), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "items": recs, "totalElements": len(recs)})
}

// GET /api/v1/stats (librarian)
func (h *handler) stats(c *gin.Context) {
	st, err := h.app.Service.Stats(c.Request.Context(), sessionOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"byStatus":         st.ByStatus,
		"borrowed":         st.ByStatus[lifecycle.StatusActive],
		"returned":         st.ByStatus[lifecycle.StatusReturned],
		"overdue":          st.ByStatus[lifecycle.StatusOverdue],
		"outstandingFines": st.OutstandingFines,
	})
}

// GET /api/v1/notifications
func (h *handler) notifications(c *gin.Context) {
	ctx := c.Request.Context()
	sess := sessionOf(c)
	items, err := h.app.Inbox.List(ctx, sess.PatronID)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.app.Inbox.Unread(ctx, sess.PatronID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "unread": unread})
}

// POST /api/v1/notifications/:id/read
func (h *handler) markRead(c *gin.Context) {
	n, err := h.app.Inbox.MarkRead(c.Request.Context(), sessionOf(c).PatronID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// POST /api/v1/sweep
func (h *handler) sweep(c *gin.Context) {
	rep, err := h.app.Sweeper().RunOnce(c.Request.Context(), sessionOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *handler) healthCheck(c *gin.Context) {
	sqlDB, err := h.app.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "error": err.Error()})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
