package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/khalidw/consultly/internal/cache"
	"github.com/khalidw/consultly/internal/config"
	"github.com/khalidw/consultly/internal/database"
	"github.com/khalidw/consultly/internal/publisher"
	"github.com/khalidw/consultly/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cartCache cache.CartCache = cache.NoopCache{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cartCache = cache.NewRedisCache(client, cfg.Redis.CartTTL)
		log.Printf("Cart cache enabled at %s", cfg.Redis.Addr)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		poller := publisher.NewOutboxPoller(db, cfg.Kafka.EventsTopic, cfg.Kafka.PollInterval, cfg.Kafka.Brokers...)
		go poller.Run(ctx)
		log.Printf("Outbox publisher enabled, topic %s", cfg.Kafka.EventsTopic)
	}

	api := &apiHandler{
		db:   db,
		cart: service.NewCartService(db, cartCache),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/products", api.handleListProducts)
	r.Get("/products/{id}", api.handleGetProduct)
	r.Get("/consultants", api.handleListConsultants)
	r.Get("/consultants/{id}", api.handleGetConsultant)

	r.Get("/cart", api.handleGetCart)
	r.Post("/cart/items", api.handleAddCartItem)
	r.Put("/cart/items/{id}", api.handleSetCartItem)
	r.Delete("/cart/items/{id}", api.handleRemoveCartItem)
	r.Post("/checkout", api.handleCheckout)

	r.Post("/bookings", api.handleCreateBooking)
	r.Get("/bookings", api.handleListBookings)
	r.Get("/bookings/{id}", api.handleGetBooking)

	r.Get("/orders", api.handleListOrders)
	r.Get("/orders/{id}", api.handleGetOrder)

	r.Post("/admin/orders/{id}/status", api.handleTransitionOrder)
	r.Post("/admin/bookings/{id}/status", api.handleTransitionBooking)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
