package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/khalidw/consultly/internal/database"
	"github.com/khalidw/consultly/internal/store"
)

func TestAddToCartRejectsInvalidQuantity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)

	if _, err := store.AddCartItem(ctx, db, 1, product.ID, 0); !errors.Is(err, database.ErrInvalidQuantity) {
		t.Errorf("Expected invalid quantity error, got: %v", err)
	}
	if _, err := store.AddCartItem(ctx, db, 1, product.ID, -3); !errors.Is(err, database.ErrInvalidQuantity) {
		t.Errorf("Expected invalid quantity error, got: %v", err)
	}
}

func TestAddToCartIncrementsExistingLine(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)

	first, err := store.AddCartItem(ctx, db, 1, product.ID, 2)
	if err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	second, err := store.AddCartItem(ctx, db, 1, product.ID, 3)
	if err != nil {
		t.Fatalf("Add cart item again: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Expected same cart row on repeated add, got %d and %d", first.ID, second.ID)
	}
	if second.Quantity != 5 {
		t.Errorf("Expected quantity 5, got %d", second.Quantity)
	}

	cart, err := store.GetCart(ctx, db, 1)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Errorf("Expected a single cart line, got %d", len(cart.Lines))
	}
}

func TestAddToCartUnknownProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := store.AddCartItem(context.Background(), db, 1, 424242, 1); !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestSetCartItemQuantity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)

	item, err := store.AddCartItem(ctx, db, 1, product.ID, 2)
	if err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	if _, err := store.SetCartItemQuantity(ctx, db, 1, item.ID, 0); !errors.Is(err, database.ErrInvalidQuantity) {
		t.Errorf("Expected invalid quantity error for zero, got: %v", err)
	}

	updated, err := store.SetCartItemQuantity(ctx, db, 1, item.ID, 7)
	if err != nil {
		t.Fatalf("Set quantity: %v", err)
	}
	if updated.Quantity != 7 {
		t.Errorf("Expected quantity 7, got %d", updated.Quantity)
	}

	// another user cannot touch this line
	if _, err := store.SetCartItemQuantity(ctx, db, 2, item.ID, 1); !errors.Is(err, database.ErrCartItemNotFound) {
		t.Errorf("Expected cart item not found for foreign user, got: %v", err)
	}
}

func TestRemoveCartItem(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)

	item, err := store.AddCartItem(ctx, db, 1, product.ID, 2)
	if err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	if err := store.RemoveCartItem(ctx, db, 1, item.ID); err != nil {
		t.Fatalf("Remove cart item: %v", err)
	}
	if err := store.RemoveCartItem(ctx, db, 1, item.ID); !errors.Is(err, database.ErrCartItemNotFound) {
		t.Errorf("Expected cart item not found on second remove, got: %v", err)
	}
}

func TestCartTotalTracksLivePrices(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 50, 10)

	if _, err := store.AddCartItem(ctx, db, 1, product.ID, 2); err != nil {
		t.Fatalf("Add cart item: %v", err)
	}

	cart, err := store.GetCart(ctx, db, 1)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if !cart.Total.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected total 100, got %s", cart.Total)
	}

	// catalog price change shows up in the cart immediately
	if _, err := db.Exec(`UPDATE products SET price = 80 WHERE id = $1`, product.ID); err != nil {
		t.Fatalf("Update price: %v", err)
	}

	cart, err = store.GetCart(ctx, db, 1)
	if err != nil {
		t.Fatalf("Get cart after price change: %v", err)
	}
	if !cart.Total.Equal(decimal.NewFromInt(160)) {
		t.Errorf("Expected total 160 after price change, got %s", cart.Total)
	}
}
