package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/khalidw/consultly/internal/models"
)

func TestTotal(t *testing.T) {
	lines := []Line{
		{ProductID: 1, UnitPrice: decimal.NewFromInt(50), Quantity: 2},
		{ProductID: 2, UnitPrice: decimal.NewFromInt(30), Quantity: 1},
	}

	assert.True(t, Total(lines).Equal(decimal.NewFromInt(130)))
}

func TestTotalEmpty(t *testing.T) {
	assert.True(t, Total(nil).Equal(decimal.Zero))
}

func TestLineSubtotalFractional(t *testing.T) {
	l := Line{UnitPrice: decimal.RequireFromString("19.99"), Quantity: 3}
	assert.Equal(t, "59.97", l.Subtotal().String())
}

func TestConsultationPrice(t *testing.T) {
	c := &models.Consultant{
		PhonePrice: decimal.NewNullDecimal(decimal.NewFromInt(80)),
		VideoPrice: decimal.NewNullDecimal(decimal.NewFromInt(120)),
		HourlyRate: decimal.NewFromInt(200),
	}

	assert.True(t, ConsultationPrice(c, models.ServiceTypePhone).Equal(decimal.NewFromInt(80)))
	assert.True(t, ConsultationPrice(c, models.ServiceTypeVideo).Equal(decimal.NewFromInt(120)))
}

func TestConsultationPriceFallsBackToHourlyRate(t *testing.T) {
	c := &models.Consultant{HourlyRate: decimal.NewFromInt(200)}

	// field visit price unset on the price list
	assert.True(t, ConsultationPrice(c, models.ServiceTypeFieldVisit).Equal(decimal.NewFromInt(200)))
}

func TestConsultationPriceDeterministic(t *testing.T) {
	c := &models.Consultant{
		VideoPrice: decimal.NewNullDecimal(decimal.RequireFromString("99.50")),
		HourlyRate: decimal.NewFromInt(150),
	}

	first := ConsultationPrice(c, models.ServiceTypeVideo)
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(ConsultationPrice(c, models.ServiceTypeVideo)))
	}
}
