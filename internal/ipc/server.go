package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler implements the router-side admission and execution logic the
// server dispatches PREPARE/CONFIRM/ABORT frames to.
type Handler interface {
	Prepare(ctx context.Context, signal *PreparePayload) (*PrepareResponse, error)
	Confirm(ctx context.Context, signalID string) (*ConfirmResponse, error)
	Abort(ctx context.Context, signalID string) (*AbortResponse, error)
}

// outcome caches a CONFIRM or ABORT result per signal_id so repeated calls
// return the original outcome instead of executing twice.
type outcome struct {
	confirm *ConfirmResponse
	abort   *AbortResponse
}

// Server accepts connections on the fast path and serves the three-phase
// handshake, idempotent on CONFIRM and ABORT for a given signal_id.
type Server struct {
	logger  *zap.Logger
	key     []byte
	handler Handler

	mu       sync.Mutex
	outcomes map[string]*outcome
}

// NewServer builds a Server bound to handler.
func NewServer(logger *zap.Logger, key []byte, handler Handler) *Server {
	return &Server{
		logger:   logger.Named("ipc-server"),
		key:      key,
		handler:  handler,
		outcomes: make(map[string]*outcome),
	}
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		var frame Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			s.logger.Warn("malformed ipc frame", zap.Error(err))
			continue
		}
		if err := Verify(&frame, s.key); err != nil {
			s.logger.Warn("ipc mac mismatch", zap.String("correlationId", frame.CorrelationID))
			continue
		}

		resp := s.dispatch(ctx, &frame)
		if resp == nil {
			continue
		}
		if err := Sign(resp, s.key); err != nil {
			s.logger.Error("failed to sign ipc response", zap.Error(err))
			continue
		}
		line, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to marshal ipc response", zap.Error(err))
			continue
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, frame *Frame) *Frame {
	switch frame.SignalType {
	case MessagePrepare:
		return s.handlePrepare(ctx, frame)
	case MessageConfirm:
		return s.handleConfirm(ctx, frame)
	case MessageAbort:
		return s.handleAbort(ctx, frame)
	default:
		s.logger.Warn("unknown ipc signal type", zap.String("signalType", string(frame.SignalType)))
		return nil
	}
}

func (s *Server) handlePrepare(ctx context.Context, frame *Frame) *Frame {
	var payload PreparePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return s.reply(frame, PrepareResponse{Prepared: false, SignalID: frame.SignalID, Reason: "malformed_payload"})
	}

	resp, err := s.handler.Prepare(ctx, &payload)
	if err != nil {
		return s.reply(frame, PrepareResponse{Prepared: false, SignalID: frame.SignalID, Reason: err.Error()})
	}
	return s.reply(frame, resp)
}

func (s *Server) handleConfirm(ctx context.Context, frame *Frame) *Frame {
	var payload ConfirmPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return s.reply(frame, ConfirmResponse{Executed: false, Reason: "malformed_payload"})
	}

	s.mu.Lock()
	cached, ok := s.outcomes[payload.SignalID]
	if ok && cached.confirm != nil {
		s.mu.Unlock()
		return s.reply(frame, cached.confirm)
	}
	s.mu.Unlock()

	resp, err := s.handler.Confirm(ctx, payload.SignalID)
	if err != nil {
		resp = &ConfirmResponse{Executed: false, Reason: err.Error()}
	}

	s.mu.Lock()
	entry := s.outcomes[payload.SignalID]
	if entry == nil {
		entry = &outcome{}
		s.outcomes[payload.SignalID] = entry
	}
	entry.confirm = resp
	s.mu.Unlock()

	return s.reply(frame, resp)
}

func (s *Server) handleAbort(ctx context.Context, frame *Frame) *Frame {
	var payload AbortPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return s.reply(frame, AbortResponse{Aborted: false})
	}

	s.mu.Lock()
	cached, ok := s.outcomes[payload.SignalID]
	if ok && cached.abort != nil {
		s.mu.Unlock()
		return s.reply(frame, cached.abort)
	}
	s.mu.Unlock()

	resp, err := s.handler.Abort(ctx, payload.SignalID)
	if err != nil {
		resp = &AbortResponse{Aborted: false}
	}

	s.mu.Lock()
	entry := s.outcomes[payload.SignalID]
	if entry == nil {
		entry = &outcome{}
		s.outcomes[payload.SignalID] = entry
	}
	entry.abort = resp
	s.mu.Unlock()

	return s.reply(frame, resp)
}

func (s *Server) reply(req *Frame, payload interface{}) *Frame {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal ipc payload", zap.Error(err))
		return nil
	}
	return &Frame{
		CorrelationID: req.CorrelationID,
		TimestampMs:   time.Now().UnixMilli(),
		SignalID:      req.SignalID,
		SignalType:    req.SignalType,
		Payload:       payloadJSON,
	}
}
