// Package types provides shared type definitions for the trading pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side a tripwire or intent trades toward.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Timeframe represents the candle interval of an OHLCV sequence.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// TimeInForce represents order time-in-force.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// TripwireType enumerates the supported tripwire families.
type TripwireType string

const (
	TripwireLiquidation      TripwireType = "LIQUIDATION"
	TripwireDailyLevel       TripwireType = "DAILY_LEVEL"
	TripwireBollinger        TripwireType = "BOLLINGER"
	TripwireOIWipeout        TripwireType = "OI_WIPEOUT"
	TripwireFundingSqueeze   TripwireType = "FUNDING_SQUEEZE"
	TripwireBasisArb         TripwireType = "BASIS_ARB"
	TripwireUltimateBulgaria TripwireType = "ULTIMATE_BULGARIA"
	TripwireFVG              TripwireType = "FVG"
	TripwireOrderBlock       TripwireType = "ORDER_BLOCK"
	TripwireLiquidityPool    TripwireType = "LIQUIDITY_POOL"
)

// TripwireState is a node in the detection state machine graph.
type TripwireState string

const (
	StateArmed     TripwireState = "ARMED"
	StateCandidate TripwireState = "CANDIDATE"
	StateActivated TripwireState = "ACTIVATED"
	StateFired     TripwireState = "FIRED"
	StateCooldown  TripwireState = "COOLDOWN"
	StateExpired   TripwireState = "EXPIRED"
	StateMitigated TripwireState = "MITIGATED"
)

// VolumeCounter tracks the rolling matched-trade window used to validate a candidate.
type VolumeCounter struct {
	WindowStart time.Time `json:"windowStart"`
	Count       int       `json:"count"`
}

// VolatilityMetrics carries the derived sizing/stop inputs for a tripwire.
type VolatilityMetrics struct {
	ATR            decimal.Decimal `json:"atr"`
	Regime         string          `json:"regime"`
	StopMultiplier decimal.Decimal `json:"stopMultiplier"`
	SizeMultiplier decimal.Decimal `json:"sizeMultiplier"`
	MeanVolume     decimal.Decimal `json:"meanVolume"`
}

// Tripwire (a.k.a. POI) is the central pre-computed trigger-level entity.
//
// Key() forms the identity triplet the engine uses to dedupe and refresh
// entries across pre-computation cycles.
type Tripwire struct {
	Symbol          string            `json:"symbol"`
	TriggerPrice    decimal.Decimal   `json:"triggerPrice"`
	Direction       Direction         `json:"direction"`
	Type            TripwireType      `json:"type"`
	Confidence      decimal.Decimal   `json:"confidence"` // 0..100
	Leverage        int               `json:"leverage"`   // 1..100
	StopLossPct     decimal.Decimal   `json:"stopLossPct"`
	TargetPct       decimal.Decimal   `json:"targetPct"`
	State           TripwireState     `json:"state"`
	VolumeCounter   VolumeCounter     `json:"volumeCounter"`
	ActivatedAt     time.Time         `json:"activatedAt,omitempty"`
	CooldownUntil   time.Time         `json:"cooldownUntil,omitempty"`
	Attempts        uint32            `json:"attempts"`
	Volatility      VolatilityMetrics `json:"volatilityMetrics"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// Key returns the invariant-bearing identity triplet.
func (t Tripwire) Key() string {
	return t.Symbol + "|" + t.TriggerPrice.String() + "|" + string(t.Direction)
}

// IsTerminal reports whether state has no further transitions.
func (t Tripwire) IsTerminal() bool {
	return t.State == StateExpired
}

// Trade is an immutable normalized tick.
type Trade struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	Timestamp    time.Time       `json:"timestamp"`
	BuyerIsMaker bool            `json:"buyerIsMaker"`
}

// OHLCV is a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Valid reports whether the candle passes the structural sanity checks
// (malformed candle: high<low or close/open outside [low,high]).
func (c OHLCV) Valid() bool {
	if c.High.LessThan(c.Low) {
		return false
	}
	if c.Close.LessThan(c.Low) || c.Close.GreaterThan(c.High) {
		return false
	}
	if c.Open.LessThan(c.Low) || c.Open.GreaterThan(c.High) {
		return false
	}
	return true
}

// EntryZone is the acceptable entry price band of an IntentSignal.
type EntryZone struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// IntentSignal is created on ACTIVATED and consumed exactly once by the fast path.
type IntentSignal struct {
	SignalID    string            `json:"signalId"`
	Source      string            `json:"source"` // scavenger | hunter | sentinel
	Symbol      string            `json:"symbol"`
	Direction   Direction         `json:"direction"`
	EntryZone   EntryZone         `json:"entryZone"`
	StopLoss    decimal.Decimal   `json:"stopLoss"`
	TakeProfits []decimal.Decimal `json:"takeProfits"`
	Confidence  decimal.Decimal   `json:"confidence"`
	Leverage    int               `json:"leverage"`
	Timestamp   time.Time         `json:"timestamp"`
	Size        decimal.Decimal   `json:"size,omitempty"`
	PhaseID     string            `json:"phaseId,omitempty"`
}

// OrderIntent is the router's per-venue output derived from one IntentSignal.
type OrderIntent struct {
	ClientOrderID  string          `json:"clientOrderId"`
	ParentSignalID string          `json:"parentSignalId"`
	Venue          string          `json:"venue"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Qty            decimal.Decimal `json:"qty"`
	Leverage       int             `json:"leverage"`
	TimeInForce    TimeInForce     `json:"timeInForce"`
}

// PositionType distinguishes the spot/perp basis pairing of a Position.
type PositionType string

const (
	PositionTypeSpotPerp PositionType = "spot_perp"
)

// Position tracks per-symbol spot/perp exposure.
type Position struct {
	Symbol        string          `json:"symbol"`
	SpotSize      decimal.Decimal `json:"spotSize"`
	PerpSize      decimal.Decimal `json:"perpSize"`
	SpotEntry     decimal.Decimal `json:"spotEntry"`
	PerpEntry     decimal.Decimal `json:"perpEntry"`
	EntryBasis    decimal.Decimal `json:"entryBasis"`
	CurrentBasis  decimal.Decimal `json:"currentBasis"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	Type          PositionType    `json:"type"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// RiskStatus is the worst-of classification of a HealthReport.
type RiskStatus string

const (
	RiskHealthy  RiskStatus = "HEALTHY"
	RiskWarn     RiskStatus = "WARN"
	RiskCritical RiskStatus = "CRITICAL"
)

// Alert is a single risk or operational notice attached to a HealthReport.
type Alert struct {
	Severity  RiskStatus `json:"severity"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// HealthReport is computed on demand; never persisted as the source of truth.
type HealthReport struct {
	NAV               decimal.Decimal     `json:"nav"`
	Delta             decimal.Decimal     `json:"delta"`
	MarginUtilization decimal.Decimal     `json:"marginUtilization"`
	RiskStatus        RiskStatus          `json:"riskStatus"`
	Positions         map[string]Position `json:"positions"`
	Alerts            []Alert             `json:"alerts"`
	Equity            decimal.Decimal     `json:"equity"`
	GrossNotional     decimal.Decimal     `json:"grossNotional"`
	GeneratedAt       time.Time           `json:"generatedAt"`
}

// SafetyTier constrains how a ConfigItem may be overridden at runtime.
type SafetyTier string

const (
	SafetyImmutable   SafetyTier = "immutable"
	SafetyTightenOnly SafetyTier = "tighten_only"
	SafetyRaiseOnly   SafetyTier = "raise_only"
	SafetyAppendOnly  SafetyTier = "append_only"
	SafetyTunable     SafetyTier = "tunable"
)

// RiskDirection tells the registry which direction of change is "safer".
type RiskDirection string

const (
	SaferIsLower  RiskDirection = "safer_is_lower"
	SaferIsHigher RiskDirection = "safer_is_higher"
)

// Provenance records where a ConfigItem's current value came from.
type Provenance string

const (
	ProvenanceOverride Provenance = "override"
	ProvenanceEnv      Provenance = "env"
	ProvenanceDefault  Provenance = "default"
)

// ItemSchema bounds the legal values of a ConfigItem.
type ItemSchema struct {
	Type string  `json:"type"` // "number", "bool", "string", "list"
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
}

// ConfigItem is one entry in the Config Registry's typed catalog.
type ConfigItem struct {
	Key           string        `json:"key"`
	Value         any           `json:"value"`
	Default       any           `json:"default"`
	Schema        ItemSchema    `json:"schema"`
	SafetyTier    SafetyTier    `json:"safetyTier"`
	RiskDirection RiskDirection `json:"riskDirection"`
	Provenance    Provenance    `json:"provenance"`
}

// OverrideReceipt is the audit trail left behind by an accepted config change.
type OverrideReceipt struct {
	ReceiptID string    `json:"receiptId"`
	Key       string    `json:"key"`
	Prev      any       `json:"prev"`
	Next      any       `json:"next"`
	Operator  string    `json:"operator"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	MAC       string    `json:"mac"`
}

// EncryptedSecretsBlob is the on-disk form of the Credential Store.
type EncryptedSecretsBlob struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// VenueCredential is one venue's decrypted API keypair.
type VenueCredential struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

// ServerConfig configures a phase's HTTP health/metrics surface.
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
	MetricsPort   int           `json:"metricsPort"`
}

// DataConfig configures the historical OHLCV cache.
type DataConfig struct {
	DataDir   string `json:"dataDir"`
	CacheSize int    `json:"cacheSize"` // MB
}
