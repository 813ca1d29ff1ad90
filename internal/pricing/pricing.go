// Package pricing derives line and total prices from catalog data. All
// functions are pure so the same computation can serve a quote and the
// snapshot commit inside one transaction.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/khalidw/consultly/internal/models"
)

// Line is one priced cart position.
type Line struct {
	ProductID int64
	UnitPrice decimal.Decimal
	Quantity  int
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums the line subtotals.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ConsultationPrice resolves the price for one consultation of the given
// service type from the consultant's price list. Unset variant prices fall
// back to the consultant's hourly rate.
func ConsultationPrice(c *models.Consultant, serviceType models.ServiceType) decimal.Decimal {
	var p decimal.NullDecimal
	switch serviceType {
	case models.ServiceTypePhone:
		p = c.PhonePrice
	case models.ServiceTypeVideo:
		p = c.VideoPrice
	case models.ServiceTypeFieldVisit:
		p = c.FieldVisitPrice
	}
	if p.Valid {
		return p.Decimal
	}
	return c.HourlyRate
}
