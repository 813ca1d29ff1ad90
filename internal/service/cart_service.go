// Package service layers the Redis read cache over the cart ledger. Writes
// go straight to the store and invalidate; reads are cache-aside.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/khalidw/consultly/internal/cache"
	"github.com/khalidw/consultly/internal/models"
	"github.com/khalidw/consultly/internal/store"
)

type cartStore interface {
	Add(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error)
	SetQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error)
	Remove(ctx context.Context, userID, itemID int64) error
	Clear(ctx context.Context, userID int64) error
	Get(ctx context.Context, userID int64) (*models.Cart, error)
	Checkout(ctx context.Context, req store.CheckoutRequest) (*models.Order, error)
}

type dbCartStore struct {
	db *sql.DB
}

func (s dbCartStore) Add(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	return store.AddCartItem(ctx, s.db, userID, productID, quantity)
}

func (s dbCartStore) SetQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error) {
	return store.SetCartItemQuantity(ctx, s.db, userID, itemID, quantity)
}

func (s dbCartStore) Remove(ctx context.Context, userID, itemID int64) error {
	return store.RemoveCartItem(ctx, s.db, userID, itemID)
}

func (s dbCartStore) Clear(ctx context.Context, userID int64) error {
	return store.ClearCart(ctx, s.db, userID)
}

func (s dbCartStore) Get(ctx context.Context, userID int64) (*models.Cart, error) {
	return store.GetCart(ctx, s.db, userID)
}

func (s dbCartStore) Checkout(ctx context.Context, req store.CheckoutRequest) (*models.Order, error) {
	return store.Checkout(ctx, s.db, req)
}

type CartService struct {
	store cartStore
	cache cache.CartCache
	sfg   singleflight.Group
}

func NewCartService(db *sql.DB, c cache.CartCache) *CartService {
	return &CartService{store: dbCartStore{db: db}, cache: c}
}

func newCartServiceWithStore(s cartStore, c cache.CartCache) *CartService {
	return &CartService{store: s, cache: c}
}

// GetCart serves from cache when possible. Concurrent misses for the same
// user collapse into a single store read.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	v, err, _ := s.sfg.Do(fmt.Sprintf("%d", userID), func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("cart cache get error: %v", err)
		}

		cart, err := s.store.Get(ctx, userID)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, userID, cart); err != nil {
			log.Printf("cart cache set error: %v", err)
		}

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*models.Cart), nil
}

func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	item, err := s.store.Add(ctx, userID, productID, quantity)
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return item, nil
}

func (s *CartService) SetQuantity(ctx context.Context, userID, itemID int64, quantity int) (*models.CartItem, error) {
	item, err := s.store.SetQuantity(ctx, userID, itemID, quantity)
	if err != nil {
		return nil, err
	}

	s.invalidate(userID)
	return item, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) error {
	if err := s.store.Remove(ctx, userID, itemID); err != nil {
		return err
	}

	s.invalidate(userID)
	return nil
}

func (s *CartService) ClearCart(ctx context.Context, userID int64) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return err
	}

	s.invalidate(userID)
	return nil
}

// Checkout runs the atomic cart-to-order conversion and drops the now-stale
// cached cart.
func (s *CartService) Checkout(ctx context.Context, req store.CheckoutRequest) (*models.Order, error) {
	order, err := s.store.Checkout(ctx, req)
	if err != nil {
		return nil, err
	}

	s.invalidate(req.UserID)
	return order, nil
}

func (s *CartService) invalidate(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		log.Printf("cart cache invalidate error: %v", err)
	}
}
