package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Unit          string          `json:"unit"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// Consultant carries the per-service-type price list. Any of the three
// variant prices may be unset; pricing falls back to HourlyRate then.
type Consultant struct {
	ID              int64               `json:"id"`
	Name            string              `json:"name"`
	Specialty       string              `json:"specialty,omitempty"`
	PhonePrice      decimal.NullDecimal `json:"phone_price"`
	VideoPrice      decimal.NullDecimal `json:"video_price"`
	FieldVisitPrice decimal.NullDecimal `json:"field_visit_price"`
	HourlyRate      decimal.Decimal     `json:"hourly_rate"`
	Active          bool                `json:"active"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type CartItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartLine is a cart item joined with the live catalog price. Cart totals
// always reflect current prices; snapshotting happens only at checkout.
type CartLine struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Cart struct {
	UserID int64           `json:"user_id"`
	Lines  []CartLine      `json:"lines"`
	Total  decimal.Decimal `json:"total"`
}

type Order struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	OrderNumber       string          `json:"order_number"`
	Status            OrderStatus     `json:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Currency          string          `json:"currency"`
	ShippingAddress   string          `json:"shipping_address"`
	Phone             string          `json:"phone"`
	CustomerNotes     string          `json:"customer_notes,omitempty"`
	AdminNotes        string          `json:"admin_notes,omitempty"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery_date,omitempty"`
	PaymentStatus     string          `json:"payment_status"`
	PaymentMethod     string          `json:"payment_method"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Items             []OrderItem     `json:"items,omitempty"`
}

// OrderItem.UnitPrice is a snapshot taken at checkout and never recomputed
// from the catalog afterwards.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type Booking struct {
	ID              int64           `json:"id"`
	ClientID        int64           `json:"client_id"`
	ConsultantID    int64           `json:"consultant_id"`
	ServiceType     ServiceType     `json:"service_type"`
	BookingDate     time.Time       `json:"booking_date"`
	BookingTime     string          `json:"booking_time"`
	Price           decimal.Decimal `json:"price"`
	Status          BookingStatus   `json:"status"`
	DurationMinutes int             `json:"duration_minutes"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OutboxEvent struct {
	ID            string     `json:"id"`
	AggregateType string     `json:"aggregate_type"`
	AggregateID   string     `json:"aggregate_id"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"payload"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}
