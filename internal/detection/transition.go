// Package detection implements the real-time state machine that matches
// live trades against the tripwire map and arms/fires trigger levels. The
// core transition logic is a pure function so it can be tested exhaustively
// without a clock, a socket, or a scheduler: (Tripwire, Trade, Config,
// gates, market snapshot) -> (Tripwire', Effect[]). Effects are returned,
// never performed in place, so the shard that owns the tripwire decides
// how and when to execute them.
package detection

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/titan-scanner/core/internal/sizing"
	"github.com/titan-scanner/core/pkg/types"
	"github.com/titan-scanner/core/pkg/utils"
)

// armTolerance is the "within ±0.1% of trigger" boundary from §8: closed
// at the boundary itself, so a price exactly 0.1% away still arms.
var armTolerance = decimal.NewFromFloat(1e-3)

// Config tunes the state machine's thresholds. Zero-valued fields must be
// filled in by DefaultConfig before use.
type Config struct {
	VolumeWindow      time.Duration // default 100ms
	MinTradesInWindow int           // default 50
	CooldownPeriod    time.Duration
	MaxAttempts       uint32
	AccelerationLimit decimal.Decimal // knife-catch veto threshold
	TrendADXLimit     decimal.Decimal // strong-trend veto threshold
	CVDWindow         time.Duration   // default 5s
	IntentTTL         time.Duration
	Sizing            sizing.Config // governs buildIntentSignal's Size computation
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		VolumeWindow:      100 * time.Millisecond,
		MinTradesInWindow: 50,
		CooldownPeriod:    5 * time.Minute,
		MaxAttempts:       10,
		AccelerationLimit: decimal.NewFromFloat(0.002),
		TrendADXLimit:     decimal.NewFromFloat(25),
		CVDWindow:         5 * time.Second,
		IntentTTL:         2 * time.Second,
		Sizing:            sizing.DefaultConfig(),
	}
}

// Gates holds the global arm/circuit-breaker/ghost-mode switches checked
// before any ACTIVATED transition.
type Gates struct {
	MasterArmDisabled bool
	CircuitBreaker    bool
	GhostMode         bool
}

// MarketSnapshot carries the derived signals the veto checks need, kept
// current by the owning Shard between trades.
type MarketSnapshot struct {
	Acceleration  decimal.Decimal // short-window price acceleration; sign matches direction of momentum
	TrendStrength decimal.Decimal // ADX-like trend indicator, 0..100
	TrendDir      types.Direction // dominant trend direction
	CVDDelta      decimal.Decimal // cumulative volume delta over CVDWindow
	Valid         bool            // false when the shard could not compute the above (insufficient history, calculator error)
}

// EffectKind enumerates the side effects a transition can request.
type EffectKind string

const (
	EffectEmitIntent   EffectKind = "emit_intent"
	EffectRecordMetric EffectKind = "record_metric"
)

// Effect is a side effect a transition wants performed. Exactly one field
// besides Kind is populated, depending on Kind.
type Effect struct {
	Kind   EffectKind
	Signal *types.IntentSignal
	Metric string
}

// Transition applies one trade to one tripwire and returns the resulting
// tripwire value plus any effects to perform. It never mutates its inputs
// and never suspends — pure computation, safe to call from the shard's hot
// path for every matching trade.
func Transition(tw types.Tripwire, trade types.Trade, now time.Time, cfg Config, gates Gates, market MarketSnapshot, source string) (types.Tripwire, []Effect) {
	switch tw.State {
	case types.StateArmed:
		return transitionArmed(tw, trade, now, cfg)
	case types.StateCandidate:
		return transitionCandidate(tw, trade, now, cfg, gates, market, source)
	case types.StateCooldown:
		return transitionCooldown(tw, now, cfg)
	default:
		return tw, nil
	}
}

func transitionArmed(tw types.Tripwire, trade types.Trade, now time.Time, cfg Config) (types.Tripwire, []Effect) {
	if expired := checkExpiry(tw, now, cfg); expired != nil {
		return *expired, []Effect{{Kind: EffectRecordMetric, Metric: "tripwire_expired"}}
	}
	if !withinArmTolerance(tw.TriggerPrice, trade.Price) {
		return tw, nil
	}
	next := tw
	next.State = types.StateCandidate
	next.VolumeCounter = types.VolumeCounter{WindowStart: trade.Timestamp, Count: 1}
	return next, []Effect{{Kind: EffectRecordMetric, Metric: "tripwire_candidate"}}
}

func transitionCandidate(tw types.Tripwire, trade types.Trade, now time.Time, cfg Config, gates Gates, market MarketSnapshot, source string) (types.Tripwire, []Effect) {
	counter, status := EvaluateWindow(tw.VolumeCounter, trade, cfg.VolumeWindow)
	if status == WindowExpired {
		next := tw
		next.State = types.StateArmed
		next.VolumeCounter = types.VolumeCounter{}
		return next, []Effect{{Kind: EffectRecordMetric, Metric: "volume_window_expired"}}
	}

	next := tw
	next.VolumeCounter = counter

	if !ThresholdMet(counter, cfg.MinTradesInWindow) {
		return next, nil
	}

	if IsDetectionFailure(market) {
		next.Attempts++
		effects := []Effect{{Kind: EffectRecordMetric, Metric: "veto_" + string(vetoDetectionFailure)}}
		if next.Attempts >= cfg.MaxAttempts {
			next.State = types.StateExpired
			effects = append(effects, Effect{Kind: EffectRecordMetric, Metric: "tripwire_expired_max_attempts"})
			return next, effects
		}
		// Stays in CANDIDATE per §4.2 failure semantics, keeping its
		// volume counter so a recovered snapshot can still validate it.
		return next, effects
	}

	if veto, reason := EvaluateVetoes(tw, now, cfg, gates, market); veto {
		next.State = types.StateArmed
		next.VolumeCounter = types.VolumeCounter{}
		next.Attempts++
		effects := []Effect{{Kind: EffectRecordMetric, Metric: "veto_" + string(reason)}}
		if next.Attempts >= cfg.MaxAttempts {
			next.State = types.StateExpired
			effects = append(effects, Effect{Kind: EffectRecordMetric, Metric: "tripwire_expired_max_attempts"})
		}
		return next, effects
	}

	next.State = types.StateActivated
	next.ActivatedAt = now

	if gates.GhostMode {
		// Ghost mode logs the activation but never emits an intent; the
		// tripwire still proceeds straight to cooldown.
		cooled := next
		cooled.State = types.StateCooldown
		cooled.CooldownUntil = now.Add(cfg.CooldownPeriod)
		return cooled, []Effect{{Kind: EffectRecordMetric, Metric: "ghost_mode_activation"}}
	}

	// ACTIVATED -> FIRED -> COOLDOWN collapses into one transition: the
	// intent is sent synchronously as the accompanying effect, so the
	// trade that activates a tripwire is also the one that cools it down,
	// honoring the "at most one state transition per trade" guarantee.
	// FIRED itself never rests in a shard's tripwire map; it survives only as the
	// metric label on the emitted effect.
	signal := buildIntentSignal(next, trade, now, cfg, source)
	cooled := next
	cooled.State = types.StateCooldown
	cooled.CooldownUntil = now.Add(cfg.CooldownPeriod)
	return cooled, []Effect{
		{Kind: EffectEmitIntent, Signal: signal},
		{Kind: EffectRecordMetric, Metric: "tripwire_fired"},
	}
}

func transitionCooldown(tw types.Tripwire, now time.Time, cfg Config) (types.Tripwire, []Effect) {
	if now.Before(tw.CooldownUntil) {
		return tw, nil
	}
	next := tw
	next.State = types.StateArmed
	next.Attempts = 0
	return next, []Effect{{Kind: EffectRecordMetric, Metric: "tripwire_rearmed"}}
}

// checkExpiry returns a terminal EXPIRED tripwire if age exceeds 24h,
// otherwise nil.
func checkExpiry(tw types.Tripwire, now time.Time, cfg Config) *types.Tripwire {
	if now.Sub(tw.CreatedAt) <= 24*time.Hour {
		return nil
	}
	expired := tw
	expired.State = types.StateExpired
	return &expired
}

func withinArmTolerance(trigger, price decimal.Decimal) bool {
	if trigger.IsZero() {
		return price.IsZero()
	}
	return price.Sub(trigger).Abs().Div(trigger).LessThanOrEqual(armTolerance)
}

func buildIntentSignal(tw types.Tripwire, trade types.Trade, now time.Time, cfg Config, source string) *types.IntentSignal {
	spread := tw.TriggerPrice.Mul(armTolerance)
	size := sizing.Size(cfg.Sizing, tw.Confidence, tw.StopLossPct, tw.TargetPct, tw.Volatility.SizeMultiplier)
	return &types.IntentSignal{
		SignalID:    utils.GenerateSignalID(),
		Source:      source,
		Symbol:      tw.Symbol,
		Direction:   tw.Direction,
		EntryZone:   types.EntryZone{Min: tw.TriggerPrice.Sub(spread), Max: tw.TriggerPrice.Add(spread)},
		StopLoss:    tw.TriggerPrice.Mul(decimal.NewFromInt(1).Sub(tw.StopLossPct)),
		TakeProfits: []decimal.Decimal{takeProfitPrice(tw)},
		Confidence:  tw.Confidence,
		Leverage:    tw.Leverage,
		Timestamp:   now,
		Size:        size,
	}
}

// takeProfitPrice projects tw.TargetPct off the trigger price in the
// direction that favors the trade: above trigger for LONG, below for SHORT.
func takeProfitPrice(tw types.Tripwire) decimal.Decimal {
	if tw.Direction == types.DirectionShort {
		return tw.TriggerPrice.Mul(decimal.NewFromInt(1).Sub(tw.TargetPct))
	}
	return tw.TriggerPrice.Mul(decimal.NewFromInt(1).Add(tw.TargetPct))
}
