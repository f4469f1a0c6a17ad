// Package ipc implements the signed-intent fast path: a newline-delimited
// JSON protocol carrying HMAC-authenticated PREPARE/CONFIRM/ABORT messages
// between the detection engine and the execution router, over a local
// domain socket or TCP stream.
package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
)

// MessageType enumerates the three handshake phases.
type MessageType string

const (
	MessagePrepare MessageType = "PREPARE"
	MessageConfirm MessageType = "CONFIRM"
	MessageAbort   MessageType = "ABORT"
)

// Frame is one wire message. Payload is kept as raw JSON so canonicalFrame
// can re-serialize it deterministically for the MAC independent of the
// concrete Go struct that produced it.
type Frame struct {
	CorrelationID string          `json:"correlation_id"`
	TimestampMs   int64           `json:"timestamp_ms"`
	SignalID      string          `json:"signal_id"`
	SignalType    MessageType     `json:"signal_type"`
	Payload       json.RawMessage `json:"payload"`
	MAC           string          `json:"mac"`
}

// ErrMACMismatch is returned when a frame's MAC does not match its payload.
var ErrMACMismatch = errors.New("ipc: mac mismatch")

// Sign computes the frame's MAC over its canonical, MAC-free form and sets
// f.MAC. Call this after every other field is populated.
func Sign(f *Frame, key []byte) error {
	canon, err := canonicalFrame(f)
	if err != nil {
		return err
	}
	f.MAC = computeMAC(key, canon)
	return nil
}

// Verify recomputes the MAC over f's canonical form and compares it against
// f.MAC using a constant-time comparison.
func Verify(f *Frame, key []byte) error {
	canon, err := canonicalFrame(f)
	if err != nil {
		return err
	}
	want := computeMAC(key, canon)
	if !hmac.Equal([]byte(want), []byte(f.MAC)) {
		return ErrMACMismatch
	}
	return nil
}

func computeMAC(key []byte, canon []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalFrame serializes f without its MAC field, with object keys in
// ascending order and undefined (nil) fields dropped, so the sender and
// receiver agree on the exact bytes being authenticated regardless of Go's
// non-deterministic map iteration or field reordering.
func canonicalFrame(f *Frame) ([]byte, error) {
	obj := map[string]interface{}{
		"correlation_id": f.CorrelationID,
		"timestamp_ms":   f.TimestampMs,
		"signal_id":      f.SignalID,
		"signal_type":    string(f.SignalType),
	}
	if len(f.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			return nil, err
		}
		obj["payload"] = payload
	}
	return canonicalJSON(obj)
}

// canonicalJSON serializes v with object keys sorted ascending at every
// nesting level and nil map/interface values omitted.
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k, vv := range val {
			if vv == nil {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, orderedEntry{key: k, value: normalize(val[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = normalize(vv)
		}
		return out
	default:
		return val
	}
}

// orderedEntry and orderedMap implement json.Marshaler to emit a JSON
// object whose keys appear in a caller-chosen order, since Go's
// encoding/json always sorts map[string]interface{} keys itself but gives
// no control over nested ordering guarantees across versions — being
// explicit here keeps the canonical form stable.
type orderedEntry struct {
	key   string
	value interface{}
}

type orderedMap []orderedEntry

func (o orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, entry := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(entry.key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(entry.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
