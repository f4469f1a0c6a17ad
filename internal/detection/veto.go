package detection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/pkg/types"
)

// vetoReason names which check blocked an ACTIVATED transition, used both
// for the metric label and to distinguish a detection failure (which keeps
// the tripwire in CANDIDATE) from an ordinary veto (which returns it to
// ARMED).
type vetoReason string

const (
	vetoNone             vetoReason = ""
	vetoCooldown         vetoReason = "cooldown"
	vetoAcceleration     vetoReason = "acceleration"
	vetoTrend            vetoReason = "strong_trend"
	vetoCVD              vetoReason = "cvd_sign"
	vetoMasterArm        vetoReason = "master_arm"
	vetoCircuitBreaker   vetoReason = "circuit_breaker"
	vetoDetectionFailure vetoReason = "detection_failure"
)

// EvaluateVetoes checks the global gates (master-arm, circuit breaker) and
// then cooldown, acceleration, strong trend and CVD sign, and returns the
// first one that fires. Ghost mode is not a veto: it is handled by the caller
// after vetoes pass, since the transition to ACTIVATED still happens.
func EvaluateVetoes(tw types.Tripwire, now time.Time, cfg Config, gates Gates, market MarketSnapshot) (bool, vetoReason) {
	if gates.MasterArmDisabled {
		return true, vetoMasterArm
	}
	if gates.CircuitBreaker {
		return true, vetoCircuitBreaker
	}
	if !tw.CooldownUntil.IsZero() && now.Before(tw.CooldownUntil) {
		return true, vetoCooldown
	}
	if vetoByAcceleration(tw.Direction, market.Acceleration, cfg.AccelerationLimit) {
		return true, vetoAcceleration
	}
	if vetoByTrend(tw.Direction, market.TrendDir, market.TrendStrength, cfg.TrendADXLimit) {
		return true, vetoTrend
	}
	if vetoByCVD(tw.Direction, market.CVDDelta) {
		return true, vetoCVD
	}
	return false, vetoNone
}

// vetoByAcceleration implements the knife-catch check: for LONG, strongly
// positive acceleration means price is accelerating downward (our sign
// convention is acceleration > 0 ⇒ downward momentum building), so veto.
// Symmetric for SHORT.
func vetoByAcceleration(dir types.Direction, acceleration, limit decimal.Decimal) bool {
	switch dir {
	case types.DirectionLong:
		return acceleration.GreaterThanOrEqual(limit)
	case types.DirectionShort:
		return acceleration.Negated().GreaterThanOrEqual(limit)
	default:
		return false
	}
}

func vetoByTrend(dir, trendDir types.Direction, strength, limit decimal.Decimal) bool {
	if strength.LessThan(limit) {
		return false
	}
	return trendDir != "" && trendDir != dir
}

func vetoByCVD(dir types.Direction, cvdDelta decimal.Decimal) bool {
	switch dir {
	case types.DirectionLong:
		return cvdDelta.IsNegative()
	case types.DirectionShort:
		return cvdDelta.IsPositive()
	default:
		return false
	}
}

// IsDetectionFailure reports whether market data needed to evaluate the
// vetoes was unavailable — a missing price or a calculator error rather
// than a genuine veto. A detection failure keeps the tripwire in
// CANDIDATE instead of returning it to ARMED; repeated failures still
// count against max_attempts.
func IsDetectionFailure(market MarketSnapshot) bool {
	return !market.Valid
}
