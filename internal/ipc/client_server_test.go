package ipc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/titan-scanner/core/internal/ipc"
	"github.com/titan-scanner/core/internal/reconnect"
	"github.com/titan-scanner/core/pkg/types"
)

type stubHandler struct {
	confirmCalls int
	abortCalls   int
}

func (h *stubHandler) Prepare(ctx context.Context, signal *ipc.PreparePayload) (*ipc.PrepareResponse, error) {
	return &ipc.PrepareResponse{Prepared: true, SignalID: signal.Signal.SignalID}, nil
}

func (h *stubHandler) Confirm(ctx context.Context, signalID string) (*ipc.ConfirmResponse, error) {
	h.confirmCalls++
	return &ipc.ConfirmResponse{Executed: true}, nil
}

func (h *stubHandler) Abort(ctx context.Context, signalID string) (*ipc.AbortResponse, error) {
	h.abortCalls++
	return &ipc.AbortResponse{Aborted: true}, nil
}

func startTestServer(t *testing.T, key []byte, handler ipc.Handler) (net.Listener, func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := ipc.NewServer(zap.NewNop(), key, handler)
	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx, ln)

	return ln, cancel
}

func TestClientPrepareConfirmHandshake(t *testing.T) {
	key := []byte("shared-secret")
	handler := &stubHandler{}
	ln, stop := startTestServer(t, key, handler)
	defer stop()
	defer ln.Close()

	dialer := func(ctx context.Context) (net.Conn, error) {
		return net.Dial("tcp", ln.Addr().String())
	}
	client := ipc.NewClient(zap.NewNop(), dialer, key, reconnect.Config{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go client.Run(runCtx)

	require.Eventually(t, func() bool {
		resp, err := client.Prepare(context.Background(), &ipc.PreparePayload{Signal: &types.IntentSignal{SignalID: "sig-1", Symbol: "BTCUSDT"}}, "sig-1")
		return err == nil && resp.Prepared
	}, 2*time.Second, 20*time.Millisecond)

	confirmResp, err := client.Confirm(context.Background(), "sig-1")
	require.NoError(t, err)
	require.True(t, confirmResp.Executed)

	// CONFIRM is idempotent: a second call returns the cached outcome
	// without invoking the handler again.
	confirmResp2, err := client.Confirm(context.Background(), "sig-1")
	require.NoError(t, err)
	require.True(t, confirmResp2.Executed)
	require.Equal(t, 1, handler.confirmCalls)
}

func TestClientAbortIsIdempotent(t *testing.T) {
	key := []byte("shared-secret")
	handler := &stubHandler{}
	ln, stop := startTestServer(t, key, handler)
	defer stop()
	defer ln.Close()

	dialer := func(ctx context.Context) (net.Conn, error) {
		return net.Dial("tcp", ln.Addr().String())
	}
	client := ipc.NewClient(zap.NewNop(), dialer, key, reconnect.Config{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go client.Run(runCtx)

	require.Eventually(t, func() bool {
		_, err := client.Abort(context.Background(), "sig-2")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	_, err := client.Abort(context.Background(), "sig-2")
	require.NoError(t, err)
	require.Equal(t, 1, handler.abortCalls)
}

func TestClientPrepareFailsWhenUnconnected(t *testing.T) {
	client := ipc.NewClient(zap.NewNop(), func(ctx context.Context) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, []byte("k"), reconnect.Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	_, err := client.Prepare(context.Background(), &ipc.PreparePayload{Signal: &types.IntentSignal{SignalID: "x"}}, "x")
	require.ErrorIs(t, err, ipc.ErrNotConnected)
}
