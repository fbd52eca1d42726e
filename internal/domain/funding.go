package domain

import "time"

// FundingRecord is one settled funding payment for an instrument.
// Payment is signed as applied to the account: positive is received,
// negative is paid.
type FundingRecord struct {
	Instrument  string
	FundingRate float64
	Payment     float64
	Timestamp   time.Time
}

// PriceTick is one observation from the exchange price feed.
type PriceTick struct {
	Instrument string
	Price      float64
	Timestamp  time.Time
}
