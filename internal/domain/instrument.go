package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the trend classification of an underlying.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// IsDirectional returns true for up and down.
func (d Direction) IsDirectional() bool {
	return d == DirectionUp || d == DirectionDown
}

// OptionType is CE (call) or PE (put).
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// OptionTypeFor returns the contract type bought for a trend: calls on up,
// puts on down.
func OptionTypeFor(d Direction) (OptionType, bool) {
	switch d {
	case DirectionUp:
		return OptionCall, true
	case DirectionDown:
		return OptionPut, true
	}
	return "", false
}

// ParseOptionType accepts "CE"/"PE" and the long forms "CALL"/"PUT".
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CE", "CALL":
		return OptionCall, true
	case "PE", "PUT":
		return OptionPut, true
	}
	return "", false
}

// Segment is the vendor market segment a symbol trades on.
type Segment string

const (
	SegmentCash Segment = "CASH"
	SegmentFNO  Segment = "FNO"
)

// ExpiryRule picks which listed expiry an underlying trades.
type ExpiryRule string

const (
	ExpiryWeekly  ExpiryRule = "weekly"
	ExpiryMonthly ExpiryRule = "monthly"
)

// Underlying is an index monitored for trend entries.
type Underlying struct {
	Symbol   string // exchange symbol used for LTP, e.g. NSE_NIFTY
	Name     string // plain name used for expiries/contracts, e.g. NIFTY
	Exchange string
	LotSize  int
	Expiry   ExpiryRule
}

// Contract is one listed option on an underlying.
type Contract struct {
	Symbol     string
	Underlying string
	Strike     float64
	Type       OptionType
	Expiry     string // ISO date
}

// expiryLayouts are the date formats the vendor uses for expiries.
var expiryLayouts = []string{"2006-01-02", "02-01-2006", "02Jan2006", "02Jan06"}

// ParseExpiry parses an expiry date in any of the vendor formats.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry date %q", s)
}
