package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/khalidw/consultly/internal/auth"
	"github.com/khalidw/consultly/internal/database"
	"github.com/khalidw/consultly/internal/models"
	"github.com/khalidw/consultly/internal/pricing"
)

const bookingColumns = `id, client_id, consultant_id, service_type, booking_date, booking_time,
	price, status, duration_minutes, notes, created_at, updated_at`

// bookingSlotConstraint is the partial unique index over
// (consultant_id, booking_date, booking_time) for pending/confirmed rows.
// The database, not application code, arbitrates concurrent bookings of the
// same slot.
const bookingSlotConstraint = "bookings_active_slot_idx"

func scanBooking(row interface{ Scan(...any) error }, b *models.Booking) error {
	return row.Scan(
		&b.ID,
		&b.ClientID,
		&b.ConsultantID,
		&b.ServiceType,
		&b.BookingDate,
		&b.BookingTime,
		&b.Price,
		&b.Status,
		&b.DurationMinutes,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
}

type CreateBookingRequest struct {
	ClientID        int64
	ConsultantID    int64
	ServiceType     models.ServiceType
	BookingDate     time.Time
	BookingTime     string
	DurationMinutes int
	Notes           string
}

// CreateBooking reserves a consultation slot. The price is snapshotted from
// the consultant's current price list and never recomputed afterwards. A
// pending or confirmed booking already holding the slot makes this fail with
// ErrSlotTaken.
func CreateBooking(ctx context.Context, db *sql.DB, req CreateBookingRequest) (*models.Booking, error) {
	if !req.ServiceType.Valid() {
		return nil, fmt.Errorf("%w: unknown service type %q", database.ErrValidation, req.ServiceType)
	}
	if strings.TrimSpace(req.BookingTime) == "" {
		return nil, fmt.Errorf("%w: booking time is required", database.ErrValidation)
	}
	if req.ServiceType == models.ServiceTypeFieldVisit && strings.TrimSpace(req.Notes) == "" {
		return nil, fmt.Errorf("%w: field visit bookings require a location in notes", database.ErrValidation)
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = 60
	}

	var booking *models.Booking

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		consultant := &models.Consultant{}
		err := scanConsultant(tx.QueryRowContext(ctx,
			`SELECT `+consultantColumns+` FROM consultants WHERE id = $1`, req.ConsultantID), consultant)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrConsultantNotFound
			}
			return fmt.Errorf("get consultant: %w", err)
		}
		if !consultant.Active {
			return fmt.Errorf("%w: consultant is not accepting bookings", database.ErrValidation)
		}

		price := pricing.ConsultationPrice(consultant, req.ServiceType)

		booking = &models.Booking{}
		err = scanBooking(tx.QueryRowContext(ctx,
			`INSERT INTO bookings (client_id, consultant_id, service_type, booking_date, booking_time,
			     price, status, duration_minutes, notes, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			 RETURNING `+bookingColumns,
			req.ClientID, req.ConsultantID, req.ServiceType, req.BookingDate, req.BookingTime,
			price, models.BookingStatusPending, duration, req.Notes), booking)
		if err != nil {
			return fmt.Errorf("create booking: %w", err)
		}

		return insertOutboxEvent(ctx, tx, "booking", booking.ID, "booking.created", map[string]any{
			"booking_id":    booking.ID,
			"client_id":     booking.ClientID,
			"consultant_id": booking.ConsultantID,
			"service_type":  booking.ServiceType,
			"booking_date":  booking.BookingDate.Format("2006-01-02"),
			"booking_time":  booking.BookingTime,
			"price":         booking.Price,
		})
	})
	if err != nil {
		if database.IsUniqueViolation(err, bookingSlotConstraint) {
			return nil, database.ErrSlotTaken
		}
		return nil, err
	}

	return booking, nil
}

// GetBooking loads a booking. Customers only see bookings they own as the
// client; anything else reads as not found.
func GetBooking(ctx context.Context, db *sql.DB, principal auth.Principal, id int64) (*models.Booking, error) {
	booking := &models.Booking{}

	err := scanBooking(db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id), booking)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}

	if !principal.IsAdmin() && booking.ClientID != principal.UserID {
		return nil, database.ErrBookingNotFound
	}

	return booking, nil
}

type BookingFilter struct {
	ConsultantID *int64
	ClientID     *int64
	Status       models.BookingStatus
	Page         int
	PageSize     int
}

// ListBookings pages bookings newest-first. Admins may filter freely; a
// customer's listing is always constrained to their own bookings.
func ListBookings(ctx context.Context, db *sql.DB, principal auth.Principal, filter BookingFilter) (*OffsetPage, error) {
	if !principal.IsAdmin() {
		own := principal.UserID
		filter.ClientID = &own
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	where := []string{"TRUE"}
	var args []any
	if filter.ConsultantID != nil {
		args = append(args, *filter.ConsultantID)
		where = append(where, fmt.Sprintf("consultant_id = $%d", len(args)))
	}
	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE `+cond, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE `+cond+`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var booking models.Booking
		if err := scanBooking(rows, &booking); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(bookings, total, filter.Page, filter.PageSize), nil
}

// TransitionBooking moves a booking along its lifecycle under the same
// admin-only, legality-checked discipline as orders.
func TransitionBooking(ctx context.Context, db *sql.DB, principal auth.Principal, bookingID int64, newStatus models.BookingStatus) (*models.Booking, error) {
	if !principal.IsAdmin() {
		return nil, database.ErrForbidden
	}
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown booking status %q", database.ErrValidation, newStatus)
	}

	var booking *models.Booking

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var current models.BookingStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, bookingID).Scan(&current)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrBookingNotFound
			}
			return fmt.Errorf("lock booking: %w", err)
		}

		if !current.CanTransitionTo(newStatus) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, current, newStatus)
		}

		booking = &models.Booking{}
		err = scanBooking(tx.QueryRowContext(ctx,
			`UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2
			 RETURNING `+bookingColumns,
			newStatus, bookingID), booking)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}

		return insertOutboxEvent(ctx, tx, "booking", bookingID, "booking.status_changed", map[string]any{
			"booking_id": bookingID,
			"from":       current,
			"to":         newStatus,
		})
	})
	if err != nil {
		return nil, err
	}

	return booking, nil
}
