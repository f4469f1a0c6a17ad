package ipc_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/ipc"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("test-key")
	payload, err := json.Marshal(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)

	frame := &ipc.Frame{
		CorrelationID: "corr-1",
		TimestampMs:   1000,
		SignalID:      "sig-1",
		SignalType:    ipc.MessagePrepare,
		Payload:       payload,
	}

	require.NoError(t, ipc.Sign(frame, key))
	require.NotEmpty(t, frame.MAC)
	require.NoError(t, ipc.Verify(frame, key))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key := []byte("test-key")
	payload, _ := json.Marshal(map[string]string{"x": "1"})
	frame := &ipc.Frame{CorrelationID: "c", TimestampMs: 1, SignalID: "s", SignalType: ipc.MessageConfirm, Payload: payload}
	require.NoError(t, ipc.Sign(frame, key))

	frame.Payload, _ = json.Marshal(map[string]string{"x": "2"})
	require.ErrorIs(t, ipc.Verify(frame, key), ipc.ErrMACMismatch)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	frame := &ipc.Frame{CorrelationID: "c", TimestampMs: 1, SignalID: "s", SignalType: ipc.MessageAbort}
	require.NoError(t, ipc.Sign(frame, []byte("key-a")))
	require.ErrorIs(t, ipc.Verify(frame, []byte("key-b")), ipc.ErrMACMismatch)
}

func TestSignIsDeterministicRegardlessOfKeyOrderInSourceMap(t *testing.T) {
	key := []byte("test-key")
	p1, _ := json.Marshal(map[string]string{"a": "1", "b": "2"})
	p2, _ := json.Marshal(map[string]string{"b": "2", "a": "1"})

	f1 := &ipc.Frame{CorrelationID: "c", TimestampMs: 1, SignalID: "s", SignalType: ipc.MessagePrepare, Payload: p1}
	f2 := &ipc.Frame{CorrelationID: "c", TimestampMs: 1, SignalID: "s", SignalType: ipc.MessagePrepare, Payload: p2}

	require.NoError(t, ipc.Sign(f1, key))
	require.NoError(t, ipc.Sign(f2, key))
	require.Equal(t, f1.MAC, f2.MAC)
}
