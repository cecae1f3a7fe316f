package model

import (
	"time"

	"github.com/google/uuid"

	"tienda/internal/money"
)

// Product is a catalogue entry with a stock count. Products with
// TrackStock disabled opt out of stock enforcement entirely.
type Product struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Name       string      `json:"name" db:"name"`
	Price      money.Money `json:"price" db:"price"`
	Stock      int         `json:"stock" db:"stock"`
	TrackStock bool        `json:"trackStock" db:"track_stock"`
	CreatedAt  time.Time   `json:"createdAt" db:"created_at"`
}

// ProductVariant carries its own stock count when a product has variants.
type ProductVariant struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	ProductID uuid.UUID    `json:"productId" db:"product_id"`
	Name      string       `json:"name" db:"name"`
	Price     *money.Money `json:"price,omitempty" db:"price"`
	Stock     int          `json:"stock" db:"stock"`
}
