package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketPrice is the current price of one ticket type. Rows are seeded out
// of band and only the price is edited afterwards.
//
// Fields:
//  ID         – primary key identifier.
//  TicketType – stable business key, unique across the table.
//  Price      – non-negative amount in rupees.
//  Version    – incremented on every update; usable as a concurrency token.
//  UpdatedAt  – time of the last write, orders competing update events.
type TicketPrice struct {
	ID         uint64          `json:"id"`                                        // ticket_prices.id
	TicketType string          `json:"ticket_type" validate:"required,max=100"` // ticket_prices.ticket_type
	Price      decimal.Decimal `json:"price"`                                     // ticket_prices.price
	Version    uint64          `json:"version"`                                   // ticket_prices.version
	UpdatedAt  time.Time       `json:"updated_at"`                                // ticket_prices.updated_at
}

// TicketPricePatch is the input of a price update. ExpectedVersion is
// optional; when nil the update is last-write-wins.
type TicketPricePatch struct {
	Price           decimal.Decimal `json:"price"`
	ExpectedVersion *uint64         `json:"expected_version,omitempty"`
}
