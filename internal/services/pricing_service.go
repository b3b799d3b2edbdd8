package services

import (
	"math"
	"time"

	"blocmark/server/internal/config"
	"blocmark/server/internal/models"
)

// IPricingService defines the interface for price calculations. All
// amounts are integer minor currency units.
type IPricingService interface {
	StandardQuote(hourlyRateCents int64, start, end time.Time, minHours int) (*Quote, error)
	OfferTotal(customPriceCents int64, fees []models.AdditionalFee) int64
}

// Quote is the price breakdown for a standard hourly booking.
type Quote struct {
	Hours           int   `json:"hours"`
	BasePriceCents  int64 `json:"base_price"`
	SiteRepFeeCents int64 `json:"site_rep_fee"`
	ProcessingCents int64 `json:"processing_fee"`
	TotalCents      int64 `json:"total_price"`
}

// pricingService implements IPricingService.
type pricingService struct {
	cfg *config.Config
}

// NewPricingService creates a new PricingService. The flat site-rep fee
// and processing rate come from configuration rather than call sites so
// they can vary per deployment.
func NewPricingService(cfg *config.Config) IPricingService {
	return &pricingService{cfg: cfg}
}

// StandardQuote prices a standard booking: hourly rate times whole hours,
// plus the flat site-representative fee, plus the percentage processing
// fee rounded to the nearest unit. Windows must be a whole number of hours
// and at least the location's minimum.
func (s *pricingService) StandardQuote(hourlyRateCents int64, start, end time.Time, minHours int) (*Quote, error) {
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}

	d := end.Sub(start)
	if d%time.Hour != 0 {
		return nil, &InvalidDurationError{Hours: int(d / time.Hour), MinHours: minHours}
	}
	hours := int(d / time.Hour)
	if hours < minHours {
		return nil, &InvalidDurationError{Hours: hours, MinHours: minHours}
	}

	base := hourlyRateCents * int64(hours)
	processing := int64(math.Round(float64(base) * s.cfg.ProcessingFeeRate))
	quote := &Quote{
		Hours:           hours,
		BasePriceCents:  base,
		SiteRepFeeCents: s.cfg.SiteRepFeeCents,
		ProcessingCents: processing,
	}
	quote.TotalCents = quote.BasePriceCents + quote.SiteRepFeeCents + quote.ProcessingCents
	return quote, nil
}

// OfferTotal computes a negotiated offer's total: the custom price plus
// each additional fee. Fixed fees add verbatim; percentage fees add the
// given percentage of the custom price (never of other fees, so the sum is
// order-independent).
func (s *pricingService) OfferTotal(customPriceCents int64, fees []models.AdditionalFee) int64 {
	total := customPriceCents
	for _, fee := range fees {
		switch fee.Type {
		case models.FeePercentage:
			total += int64(math.Round(float64(customPriceCents) * float64(fee.Amount) / 100.0))
		default:
			total += fee.Amount
		}
	}
	return total
}
