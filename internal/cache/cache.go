package cache

import (
	"context"
	"errors"

	"github.com/khalidw/consultly/internal/models"
)

var ErrCacheMiss = errors.New("cart not in cache")

// CartCache is a read cache over the cart ledger. Implementations are
// best-effort: callers treat any error other than ErrCacheMiss as a reason
// to fall through to the store, never as a failure.
type CartCache interface {
	Get(ctx context.Context, userID int64) (*models.Cart, error)
	Set(ctx context.Context, userID int64, cart *models.Cart) error
	Delete(ctx context.Context, userID int64) error
}

// NoopCache satisfies CartCache when no Redis is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, int64) (*models.Cart, error) { return nil, ErrCacheMiss }
func (NoopCache) Set(context.Context, int64, *models.Cart) error   { return nil }
func (NoopCache) Delete(context.Context, int64) error              { return nil }
