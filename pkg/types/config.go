// Package types provides configuration types for the trading pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits bounds the Risk Manager's per-account and per-position checks.
type RiskLimits struct {
	MaxPositionSize  decimal.Decimal `json:"maxPositionSize"`
	MaxDrawdown      decimal.Decimal `json:"maxDrawdown"`
	MaxDailyLoss     decimal.Decimal `json:"maxDailyLoss"`
	MaxOpenPositions int             `json:"maxOpenPositions"`
	MaxLeverage      decimal.Decimal `json:"maxLeverage"`
	MaxCorrelation   decimal.Decimal `json:"maxCorrelation"`
}

// KillSwitchConfig bounds the conditions under which the risk manager halts
// new order submission for an account.
type KillSwitchConfig struct {
	MaxDrawdownPct     decimal.Decimal `json:"maxDrawdownPct"`
	MaxDailyLossPct    decimal.Decimal `json:"maxDailyLossPct"`
	MaxConsecutiveLoss int             `json:"maxConsecutiveLoss"`
	MaxVolatility      decimal.Decimal `json:"maxVolatility"`
	CooldownPeriod     time.Duration   `json:"cooldownPeriod"`
}

// VenueRoutingRule maps a signal source to a concrete execution venue,
// overriding the router's default mapping for that source only.
type VenueRoutingRule struct {
	Source string `json:"source"`
	Venue  string `json:"venue"`
}

// FanoutTarget is one weighted destination of an order-splitting fan-out.
type FanoutTarget struct {
	Venue  string          `json:"venue"`
	Weight decimal.Decimal `json:"weight"`
}
