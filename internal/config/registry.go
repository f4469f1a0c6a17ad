// Package config implements the typed configuration catalog: every
// runtime change is validated against its item's schema and safety tier,
// accepted changes produce an HMAC'd audit receipt, and the backing file
// can be hot-reloaded without ever leaving the registry in a half-valid
// state.
package config

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/events"
	"github.com/titan-scanner/core/pkg/types"
)

// ValidationError is returned when a proposed override fails schema or
// safety-tier validation.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Registry holds the live catalog of ConfigItems and validates every
// change against schema + safety tier before it takes effect.
type Registry struct {
	logger *zap.Logger
	bus    *events.Bus
	macKey []byte
	v      *viper.Viper
	path   string

	mu    sync.RWMutex
	items map[string]*types.ConfigItem
}

// New builds a Registry seeded with items, keyed for audit-receipt MACs.
func New(logger *zap.Logger, bus *events.Bus, macKey []byte, items []types.ConfigItem) *Registry {
	catalog := make(map[string]*types.ConfigItem, len(items))
	for i := range items {
		item := items[i]
		catalog[item.Key] = &item
	}
	return &Registry{
		logger: logger.Named("config"),
		bus:    bus,
		macKey: macKey,
		items:  catalog,
	}
}

// Get returns a copy of key's current item, or false if unknown.
func (r *Registry) Get(key string) (types.ConfigItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[key]
	if !ok {
		return types.ConfigItem{}, false
	}
	return *item, true
}

// Snapshot returns a copy of the full catalog.
func (r *Registry) Snapshot() map[string]types.ConfigItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]types.ConfigItem, len(r.items))
	for k, v := range r.items {
		out[k] = *v
	}
	return out
}

// SetOverride validates and applies a new value for key, produced by
// operator for reason. It returns the signed audit receipt on success.
func (r *Registry) SetOverride(key string, next any, operator, reason string) (*types.OverrideReceipt, error) {
	r.mu.Lock()
	item, ok := r.items[key]
	if !ok {
		r.mu.Unlock()
		return nil, &ValidationError{Key: key, Reason: "unknown key"}
	}
	if err := validate(item, next); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	prev := item.Value
	item.Value = next
	item.Provenance = types.ProvenanceOverride
	r.mu.Unlock()

	receipt := r.buildReceipt(key, prev, next, operator, reason)
	r.logger.Info("config override accepted", zap.String("key", key), zap.String("operator", operator))
	if r.bus != nil {
		r.bus.Publish(events.NewConfigChangedEvent(key))
	}
	return receipt, nil
}

// ApplyPreset applies a coordinated set of overrides atomically:
// every item is validated first, and the whole preset is rejected if any
// single item fails, so the registry never ends up half-applied.
func (r *Registry) ApplyPreset(name string, overrides map[string]any, operator string) ([]*types.OverrideReceipt, error) {
	r.mu.Lock()
	type staged struct {
		item *types.ConfigItem
		prev any
	}
	plan := make(map[string]staged, len(overrides))
	for key, next := range overrides {
		item, ok := r.items[key]
		if !ok {
			r.mu.Unlock()
			return nil, &ValidationError{Key: key, Reason: "unknown key"}
		}
		if err := validate(item, next); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		plan[key] = staged{item: item, prev: item.Value}
	}
	for key, next := range overrides {
		p := plan[key]
		p.item.Value = next
		p.item.Provenance = types.ProvenanceOverride
	}
	r.mu.Unlock()

	receipts := make([]*types.OverrideReceipt, 0, len(overrides))
	for key, next := range overrides {
		receipts = append(receipts, r.buildReceipt(key, plan[key].prev, next, operator, "preset:"+name))
	}
	r.logger.Info("config preset applied", zap.String("preset", name), zap.Int("items", len(overrides)))
	if r.bus != nil {
		r.bus.Publish(events.NewConfigChangedEvent("preset:" + name))
	}
	return receipts, nil
}

func (r *Registry) buildReceipt(key string, prev, next any, operator, reason string) *types.OverrideReceipt {
	receipt := &types.OverrideReceipt{
		ReceiptID: uuid.NewString(),
		Key:       key,
		Prev:      prev,
		Next:      next,
		Operator:  operator,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	receipt.MAC = r.signReceipt(receipt)
	return receipt
}

func (r *Registry) signReceipt(receipt *types.OverrideReceipt) string {
	h := hmac.New(sha256.New, r.macKey)
	fmt.Fprintf(h, "%s|%s|%v|%v|%s|%s|%d", receipt.ReceiptID, receipt.Key, receipt.Prev, receipt.Next,
		receipt.Operator, receipt.Reason, receipt.Timestamp.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// validate enforces schema (type/min/max) and safety tier for a proposed
// value against item's current effective value.
func validate(item *types.ConfigItem, next any) error {
	if item.SafetyTier == types.SafetyImmutable {
		return &ValidationError{Key: item.Key, Reason: "immutable item cannot be overridden"}
	}
	if err := validateSchema(item, next); err != nil {
		return err
	}
	return validateSafetyTier(item, next)
}

func validateSchema(item *types.ConfigItem, next any) error {
	switch item.Schema.Type {
	case "number":
		f, ok := toFloat(next)
		if !ok {
			return &ValidationError{Key: item.Key, Reason: "value is not numeric"}
		}
		if item.Schema.Max != 0 && f > item.Schema.Max {
			return &ValidationError{Key: item.Key, Reason: fmt.Sprintf("%v exceeds max %v", f, item.Schema.Max)}
		}
		if f < item.Schema.Min {
			return &ValidationError{Key: item.Key, Reason: fmt.Sprintf("%v below min %v", f, item.Schema.Min)}
		}
	case "bool":
		if _, ok := next.(bool); !ok {
			return &ValidationError{Key: item.Key, Reason: "value is not a bool"}
		}
	case "string":
		if _, ok := next.(string); !ok {
			return &ValidationError{Key: item.Key, Reason: "value is not a string"}
		}
	case "list":
		if _, ok := next.([]any); !ok {
			if _, ok2 := next.([]string); !ok2 {
				return &ValidationError{Key: item.Key, Reason: "value is not a list"}
			}
		}
	}
	return nil
}

func validateSafetyTier(item *types.ConfigItem, next any) error {
	switch item.SafetyTier {
	case types.SafetyTightenOnly:
		cur, okCur := toFloat(item.Value)
		nf, okNext := toFloat(next)
		if !okCur || !okNext {
			return nil
		}
		if item.RiskDirection == types.SaferIsLower && nf > cur {
			return &ValidationError{Key: item.Key, Reason: "tighten_only item must move lower"}
		}
		if item.RiskDirection == types.SaferIsHigher && nf < cur {
			return &ValidationError{Key: item.Key, Reason: "tighten_only item must move higher"}
		}
	case types.SafetyRaiseOnly:
		cur, okCur := toFloat(item.Value)
		nf, okNext := toFloat(next)
		if okCur && okNext && nf < cur {
			return &ValidationError{Key: item.Key, Reason: "raise_only item must not decrease"}
		}
	case types.SafetyAppendOnly:
		curList, okCur := toStringSlice(item.Value)
		nextList, okNext := toStringSlice(next)
		if okCur && okNext {
			present := make(map[string]struct{}, len(nextList))
			for _, s := range nextList {
				present[s] = struct{}{}
			}
			for _, s := range curList {
				if _, ok := present[s]; !ok {
					return &ValidationError{Key: item.Key, Reason: "append_only item cannot remove " + s}
				}
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// WatchFile loads path into viper and hot-reloads the catalog whenever it
// changes on disk via fsnotify. A reload that fails validation for some
// keys retains those keys' prior effective value rather than aborting the
// whole reload.
func (r *Registry) WatchFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	r.v = v
	r.path = path
	r.reloadFromViper()

	v.OnConfigChange(func(e fsnotify.Event) {
		r.logger.Info("config file changed, reloading", zap.String("path", e.Name))
		r.reloadFromViper()
	})
	v.WatchConfig()
	return nil
}

func (r *Registry) reloadFromViper() {
	if r.v == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, item := range r.items {
		viperKey := strings.ReplaceAll(key, "_", ".")
		if !r.v.IsSet(viperKey) {
			continue
		}
		candidate := r.v.Get(viperKey)
		if err := validate(item, candidate); err != nil {
			r.logger.Warn("config hot reload rejected key, keeping prior value",
				zap.String("key", key), zap.Error(err))
			continue
		}
		item.Value = candidate
		item.Provenance = types.ProvenanceOverride
	}
	if r.bus != nil {
		r.bus.Publish(events.NewConfigChangedEvent("*"))
	}
}
