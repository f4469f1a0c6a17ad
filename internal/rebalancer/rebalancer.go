// Package rebalancer maps a portfolio's HealthReport and margin
// utilization to a tiered transfer action. Decide produces at most one
// action per cycle; callers dispatch it to the transfer/order executor
// and let the next cycle re-evaluate from whatever state results.
package rebalancer

import (
	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// ActionType names the rebalancing tier chosen for a cycle.
type ActionType string

const (
	ActionTier1        ActionType = "TIER1"
	ActionTier2        ActionType = "TIER2"
	ActionCompound     ActionType = "COMPOUND"
	ActionHardCompound ActionType = "HARD_COMPOUND"
)

// Action is the single transfer/order instruction for a cycle.
type Action struct {
	Type   ActionType
	Amount decimal.Decimal
	Reason string
}

// Config holds the watermarks Decide checks against.
type Config struct {
	LowMarginWatermark  decimal.Decimal
	DeepMarginWatermark decimal.Decimal
	TargetMargin        decimal.Decimal
	CompoundGrowth      decimal.Decimal
	HardCompoundGrowth  decimal.Decimal
	DeltaNearZero       decimal.Decimal
}

// DefaultConfig returns conservative watermarks.
func DefaultConfig() Config {
	return Config{
		LowMarginWatermark:  decimal.NewFromFloat(0.70),
		DeepMarginWatermark: decimal.NewFromFloat(0.85),
		TargetMargin:        decimal.NewFromFloat(0.50),
		CompoundGrowth:      decimal.NewFromFloat(0.20),
		HardCompoundGrowth:  decimal.NewFromFloat(0.50),
		DeltaNearZero:       decimal.NewFromFloat(0.02),
	}
}

// Decide inspects report (including its MarginUtilization) and the NAV
// growth since baselineNAV and returns at most one Action. Margin
// watermarks take priority over compounding: a portfolio running low on
// margin needs a top-up before any profit gets swept out, regardless of
// how far NAV has grown. Within the margin tiers, the deeper watermark
// wins since it is strictly worse.
func Decide(report types.HealthReport, baselineNAV decimal.Decimal, cfg Config) *Action {
	marginUtil := report.MarginUtilization

	if marginUtil.GreaterThanOrEqual(cfg.DeepMarginWatermark) {
		return &Action{
			Type:   ActionTier2,
			Amount: topUpAmount(report.Equity, marginUtil, cfg.TargetMargin),
			Reason: "margin_utilization crossed deep watermark",
		}
	}
	if marginUtil.GreaterThanOrEqual(cfg.LowMarginWatermark) {
		return &Action{
			Type:   ActionTier1,
			Amount: topUpAmount(report.Equity, marginUtil, cfg.TargetMargin),
			Reason: "margin_utilization crossed low watermark",
		}
	}

	if baselineNAV.IsZero() {
		return nil
	}
	growth := report.NAV.Sub(baselineNAV).Div(baselineNAV)
	nearZeroDelta := report.NAV.IsZero() || report.Delta.Abs().Div(report.NAV.Abs()).LessThan(cfg.DeltaNearZero)
	if !nearZeroDelta {
		return nil
	}

	if growth.GreaterThanOrEqual(cfg.HardCompoundGrowth) {
		return &Action{Type: ActionHardCompound, Amount: growth.Mul(baselineNAV), Reason: "NAV growth extreme with delta near zero"}
	}
	if growth.GreaterThanOrEqual(cfg.CompoundGrowth) {
		return &Action{Type: ActionCompound, Amount: growth.Mul(baselineNAV), Reason: "NAV grown above compound threshold with delta near zero"}
	}
	return nil
}

// topUpAmount approximates the transfer needed to bring margin utilization
// down to target, proportional to equity since the tracker does not
// separately expose absolute margin-used/margin-total figures.
func topUpAmount(equity, marginUtil, targetMargin decimal.Decimal) decimal.Decimal {
	gap := marginUtil.Sub(targetMargin)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return equity.Mul(gap)
}
