package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"library-lending/pkg/app"
	"library-lending/pkg/config"
)

func main() {
	log.Println("Starting lending service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Open(ctx, cfg, reg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if _, err := app.Seed(ctx, a.Ledger, app.Catalog); err != nil {
		log.Printf("Seeding failed: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           setupRouter(a, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Lending service starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Printf("Close: %v", err)
	}
}

func setupRouter(a *app.App, gatherer prometheus.Gatherer) *gin.Engine {
	h := newHandler(a)
	r := gin.Default()

	r.GET("/manage/health", h.healthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.Use(JWTAuth(a.Issuer))
	{
		v1.GET("/books", h.listBooks)
		v1.GET("/books/:bookId", h.getBook)

		v1.POST("/borrows", h.requestBorrow)
		v1.GET("/borrows", h.myBorrows)
		v1.GET("/borrows/:id", h.getBorrow)
		v1.POST("/borrows/:id/return", h.transition(requestReturn))
		v1.POST("/borrows/:id/renew", h.transition(requestRenewal))

		v1.GET("/notifications", h.notifications)
		v1.GET("/notifications/stream", h.stream)
		v1.POST("/notifications/:id/read", h.markRead)
		v1.POST("/sweep", h.sweep)

		lib := v1.Group("")
		lib.Use(RequireLibrarian())
		lib.POST("/books", h.addBook)
		lib.POST("/books/:bookId/copies", h.adjustCopies)
		lib.POST("/borrows/:id/approve", h.transition(approveBorrow))
		lib.POST("/borrows/:id/reject", h.transition(rejectBorrow))
		lib.POST("/borrows/:id/approve-return", h.transition(approveReturn))
		lib.POST("/borrows/:id/approve-renewal", h.transition(approveRenewal))
		lib.POST("/borrows/:id/reject-renewal", h.transition(rejectRenewal))
		lib.GET("/requests", h.queue)
		lib.GET("/stats", h.stats)
	}
	return r
}
