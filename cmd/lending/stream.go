package main

import (
	"io"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"library-lending/pkg/models"
	"library-lending/pkg/notify"
)

const streamKeepAlive = 30 * time.Second

// GET /api/v1/notifications/stream
//
// Server-sent events for the caller. The session's notification feeds run
// for as long as the stream is open. Patrons receive what lands in their
// inbox, which includes the notices of their own periodic sweep; librarians
// receive the request-queue notices.
func (h *handler) stream(c *gin.Context) {
	ctx := c.Request.Context()
	sess := sessionOf(c)

	var (
		inbox  <-chan models.Notification
		direct *notify.ChanSink
		sink   = h.app.Sink()
	)
	if sess.IsLibrarian() {
		direct = notify.NewChanSink(32)
		sink = h.app.Sink(direct)
	} else {
		ch, err := h.app.Inbox.Subscribe(ctx, sess.PatronID)
		if err != nil {
			respondError(c, err)
			return
		}
		inbox = ch
	}

	listener := h.app.Listener(sink)
	if err := listener.Start(ctx, sess); err != nil {
		respondError(c, err)
		return
	}
	defer listener.Stop()

	if !sess.IsLibrarian() {
		go h.app.Scheduler(sess).Run(ctx)
	}

	var queued <-chan notify.Message
	if direct != nil {
		queued = direct.C()
	}
	ping := time.NewTicker(streamKeepAlive)
	defer ping.Stop()

	log.Printf("[lending] stream opened for %s (%s)", sess.PatronID, sess.Role)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-inbox:
			if !ok {
				return false
			}
			c.SSEvent("notification", n)
		case m := <-queued:
			c.SSEvent("notification", m.Notification())
		case <-ping.C:
			c.SSEvent("ping", gin.H{"at": h.app.Clock.Now()})
		}
		return true
	})
	log.Printf("[lending] stream closed for %s", sess.PatronID)
}
