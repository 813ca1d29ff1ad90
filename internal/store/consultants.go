package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/khalidw/consultly/internal/database"
	"github.com/khalidw/consultly/internal/models"
)

const consultantColumns = `id, name, specialty, phone_price, video_price, field_visit_price, hourly_rate, active, created_at, updated_at`

func scanConsultant(row interface{ Scan(...any) error }, c *models.Consultant) error {
	return row.Scan(
		&c.ID,
		&c.Name,
		&c.Specialty,
		&c.PhonePrice,
		&c.VideoPrice,
		&c.FieldVisitPrice,
		&c.HourlyRate,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

type CreateConsultantRequest struct {
	Name            string
	Specialty       string
	PhonePrice      decimal.NullDecimal
	VideoPrice      decimal.NullDecimal
	FieldVisitPrice decimal.NullDecimal
	HourlyRate      decimal.Decimal
}

// CreateConsultant exists for seeding and tests; consultant management is
// owned by the catalog collaborator.
func CreateConsultant(ctx context.Context, db *sql.DB, req CreateConsultantRequest) (*models.Consultant, error) {
	consultant := &models.Consultant{}

	query := `
		INSERT INTO consultants (name, specialty, phone_price, video_price, field_visit_price, hourly_rate, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
		RETURNING ` + consultantColumns

	err := scanConsultant(db.QueryRowContext(ctx, query,
		req.Name, req.Specialty, req.PhonePrice, req.VideoPrice, req.FieldVisitPrice, req.HourlyRate), consultant)
	if err != nil {
		return nil, fmt.Errorf("create consultant: %w", err)
	}

	return consultant, nil
}

func GetConsultant(ctx context.Context, db *sql.DB, id int64) (*models.Consultant, error) {
	consultant := &models.Consultant{}

	query := `SELECT ` + consultantColumns + ` FROM consultants WHERE id = $1`

	err := scanConsultant(db.QueryRowContext(ctx, query, id), consultant)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrConsultantNotFound
		}
		return nil, fmt.Errorf("get consultant: %w", err)
	}

	return consultant, nil
}

func ListConsultants(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consultants WHERE active`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count consultants: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + consultantColumns + `
		FROM consultants
		WHERE active
		ORDER BY name, id
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list consultants: %w", err)
	}
	defer rows.Close()

	var consultants []models.Consultant
	for rows.Next() {
		var consultant models.Consultant
		if err := scanConsultant(rows, &consultant); err != nil {
			return nil, fmt.Errorf("scan consultant: %w", err)
		}
		consultants = append(consultants, consultant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(consultants, total, page, pageSize), nil
}
