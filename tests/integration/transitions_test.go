package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/khalidw/consultly/internal/database"
	"github.com/khalidw/consultly/internal/models"
	"github.com/khalidw/consultly/internal/store"
)

func TestTransitionOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)

	if _, err := store.AddCartItem(ctx, db, 1, product.ID, 1); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}
	order, err := store.Checkout(ctx, db, checkoutReq(1))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// pending cannot jump straight to delivered
	_, err = store.TransitionOrder(ctx, db, admin(), order.ID, store.TransitionOrderRequest{
		NewStatus: models.OrderStatusDelivered,
	})
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition, got: %v", err)
	}

	for _, status := range []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
	} {
		if _, err := store.TransitionOrder(ctx, db, admin(), order.ID, store.TransitionOrderRequest{NewStatus: status}); err != nil {
			t.Fatalf("Transition to %s: %v", status, err)
		}
	}

	// shipping sets the tracking number atomically with the status
	tracking := "TRK-12345"
	eta := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	shipped, err := store.TransitionOrder(ctx, db, admin(), order.ID, store.TransitionOrderRequest{
		NewStatus:         models.OrderStatusShipped,
		TrackingNumber:    &tracking,
		EstimatedDelivery: &eta,
	})
	if err != nil {
		t.Fatalf("Transition to shipped: %v", err)
	}
	if shipped.TrackingNumber != tracking {
		t.Errorf("Expected tracking number %q, got %q", tracking, shipped.TrackingNumber)
	}
	if shipped.EstimatedDelivery == nil || !shipped.EstimatedDelivery.Equal(eta) {
		t.Errorf("Expected delivery estimate %v, got %v", eta, shipped.EstimatedDelivery)
	}

	delivered, err := store.TransitionOrder(ctx, db, admin(), order.ID, store.TransitionOrderRequest{
		NewStatus: models.OrderStatusDelivered,
	})
	if err != nil {
		t.Fatalf("Transition to delivered: %v", err)
	}
	if delivered.Status != models.OrderStatusDelivered {
		t.Errorf("Expected status delivered, got %s", delivered.Status)
	}
	if !delivered.UpdatedAt.After(order.UpdatedAt) {
		t.Errorf("Expected updated_at to advance on transition")
	}
}

func TestTransitionOrderRequiresAdmin(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)
	if _, err := store.AddCartItem(ctx, db, 1, product.ID, 1); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}
	order, err := store.Checkout(ctx, db, checkoutReq(1))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// not even the owner may transition their own order
	_, err = store.TransitionOrder(ctx, db, customer(1), order.ID, store.TransitionOrderRequest{
		NewStatus: models.OrderStatusConfirmed,
	})
	if !errors.Is(err, database.ErrForbidden) {
		t.Errorf("Expected forbidden, got: %v", err)
	}
}

func TestTransitionOrderNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := store.TransitionOrder(context.Background(), db, admin(), 424242, store.TransitionOrderRequest{
		NewStatus: models.OrderStatusConfirmed,
	})
	if !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected order not found, got: %v", err)
	}
}

func TestCancellationRestoresStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)

	if _, err := store.AddCartItem(ctx, db, 1, product.ID, 4); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}
	order, err := store.Checkout(ctx, db, checkoutReq(1))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	mid, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if mid.StockQuantity != 6 {
		t.Fatalf("Expected stock 6 after checkout, got %d", mid.StockQuantity)
	}

	if _, err := store.TransitionOrder(ctx, db, admin(), order.ID, store.TransitionOrderRequest{
		NewStatus: models.OrderStatusCancelled,
	}); err != nil {
		t.Fatalf("Cancel order: %v", err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.StockQuantity != 10 {
		t.Errorf("Expected stock restored to 10, got %d", after.StockQuantity)
	}
}

func TestTransitionBookingLegality(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	consultant := createTestConsultant(t, db, store.CreateConsultantRequest{})

	booking, err := store.CreateBooking(ctx, db, bookingReq(1, consultant.ID, models.ServiceTypePhone))
	if err != nil {
		t.Fatalf("Create booking: %v", err)
	}

	// pending cannot complete without being confirmed first
	_, err = store.TransitionBooking(ctx, db, admin(), booking.ID, models.BookingStatusCompleted)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition, got: %v", err)
	}

	_, err = store.TransitionBooking(ctx, db, customer(1), booking.ID, models.BookingStatusConfirmed)
	if !errors.Is(err, database.ErrForbidden) {
		t.Errorf("Expected forbidden for customer, got: %v", err)
	}

	confirmed, err := store.TransitionBooking(ctx, db, admin(), booking.ID, models.BookingStatusConfirmed)
	if err != nil {
		t.Fatalf("Confirm booking: %v", err)
	}
	if confirmed.Status != models.BookingStatusConfirmed {
		t.Errorf("Expected status confirmed, got %s", confirmed.Status)
	}

	completed, err := store.TransitionBooking(ctx, db, admin(), booking.ID, models.BookingStatusCompleted)
	if err != nil {
		t.Fatalf("Complete booking: %v", err)
	}
	if completed.Status != models.BookingStatusCompleted {
		t.Errorf("Expected status completed, got %s", completed.Status)
	}

	// completed is terminal
	_, err = store.TransitionBooking(ctx, db, admin(), booking.ID, models.BookingStatusCancelled)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition from terminal state, got: %v", err)
	}
}

func TestListOrdersOwnership(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 100)

	for _, userID := range []int64{1, 1, 2} {
		if _, err := store.AddCartItem(ctx, db, userID, product.ID, 1); err != nil {
			t.Fatalf("Add cart item: %v", err)
		}
		if _, err := store.Checkout(ctx, db, checkoutReq(userID)); err != nil {
			t.Fatalf("Checkout for user %d: %v", userID, err)
		}
	}

	mine, err := store.ListOrders(ctx, db, customer(1), "", 10)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if orders := mine.Items.([]models.Order); len(orders) != 2 {
		t.Errorf("Expected 2 orders for user 1, got %d", len(orders))
	}

	all, err := store.ListOrders(ctx, db, admin(), "", 10)
	if err != nil {
		t.Fatalf("List orders as admin: %v", err)
	}
	if orders := all.Items.([]models.Order); len(orders) != 3 {
		t.Errorf("Expected 3 orders for admin, got %d", len(orders))
	}

	foreign, err := store.GetOrder(ctx, db, customer(2), mine.Items.([]models.Order)[0].ID)
	if !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Expected foreign order to read as not found, got order %v err %v", foreign, err)
	}
}

func TestListOrdersCursorPaging(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 100)

	for i := 0; i < 15; i++ {
		if _, err := store.AddCartItem(ctx, db, 1, product.ID, 1); err != nil {
			t.Fatalf("Add cart item: %v", err)
		}
		if _, err := store.Checkout(ctx, db, checkoutReq(1)); err != nil {
			t.Fatalf("Checkout %d: %v", i, err)
		}
	}

	page1, err := store.ListOrders(ctx, db, customer(1), "", 10)
	if err != nil {
		t.Fatalf("List orders page 1: %v", err)
	}
	if !page1.HasMore {
		t.Error("Page 1 should have more results")
	}
	if page1.NextCursor == "" {
		t.Error("Page 1 should have a next cursor")
	}

	page2, err := store.ListOrders(ctx, db, customer(1), page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List orders page 2: %v", err)
	}
	if page2.HasMore {
		t.Error("Page 2 should not have more results")
	}
	if orders := page2.Items.([]models.Order); len(orders) != 5 {
		t.Errorf("Expected 5 orders on page 2, got %d", len(orders))
	}
}
