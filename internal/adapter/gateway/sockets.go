package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/multiagent"
)

// Customer-facing notices sent by the gateway itself.
const (
	SourceSystem    = "System"
	ErrorText       = "Sorry, I encountered an error. Please try again."
	SlowDownText    = "You're sending messages too quickly. Please wait a moment."
	TooLongText     = "Your message is too long. Please shorten it and try again."
	ConfirmedText   = "Connected successfully to agent dashboard"
	customerIDStart = "customer_"
)

// handleCustomer serves one customer conversation for the life of the socket.
func (s *Server) handleCustomer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		s.logger.Warn("customer accept failed", "error", err)
		return
	}
	defer s.release(conn)

	customerID := customerIDStart + strings.ToLower(ulid.Make().String())
	logger := s.logger.With("customer_id", customerID)
	if err := s.deps.Connections.ConnectCustomer(customerID, conn); err != nil {
		logger.Warn("customer already connected, closing duplicate", "error", err)
		_ = conn.close(websocket.StatusPolicyViolation, "duplicate customer")
		return
	}

	ctx := r.Context()
	s.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventCustomerConnected, customerID, nil))
	logger.Info("customer connected")

	defer func() {
		s.deps.Runtime.CancelSource(customerID)
		s.deps.Connections.DisconnectCustomer(context.WithoutCancel(ctx), customerID)
		s.deps.Bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(domain.EventCustomerDisconnected, customerID, nil))
		logger.Info("customer disconnected")
	}()

	login := domain.TopicID{Type: domain.User, Source: customerID}
	if err := s.deps.Runtime.Publish(ctx, domain.Login{CustomerID: customerID}, login); err != nil {
		logger.Error("failed to publish login", "error", err)
	}

	limit := rate.Inf
	if s.opts.CustomerRate > 0 {
		limit = rate.Limit(s.opts.CustomerRate)
	}
	limiter := rate.NewLimiter(limit, s.opts.CustomerBurst)

	for {
		var frame domain.CustomerFrame
		if err := readFrame(ctx, conn, &frame); err != nil {
			if errors.Is(err, errMalformedFrame) {
				logger.Debug("ignoring malformed customer frame", "error", err)
				continue
			}
			logClosed(logger, err)
			return
		}
		if strings.TrimSpace(frame.Content) == "" {
			continue
		}
		if s.opts.MaxMessageBytes > 0 && len(frame.Content) > s.opts.MaxMessageBytes {
			s.notifyCustomer(ctx, conn, TooLongText)
			continue
		}
		if !limiter.Allow() {
			logger.Debug("customer rate limited")
			s.notifyCustomer(ctx, conn, SlowDownText)
			continue
		}
		if err := s.deps.Router.CustomerMessage(ctx, customerID, frame.Content); err != nil {
			logger.Error("error processing message", "error", err)
			s.notifyCustomer(ctx, conn, ErrorText)
		}
	}
}

func (s *Server) notifyCustomer(ctx context.Context, conn *wsConn, text string) {
	frame := domain.TextFrame{
		Type:      domain.FrameText,
		Content:   text,
		Source:    SourceSystem,
		Timestamp: s.opts.Now(),
	}
	if err := conn.SendJSON(ctx, frame); err != nil {
		s.logger.Debug("failed to notify customer", "error", err)
	}
}

// handleOperator serves one operator dashboard for the life of the socket.
func (s *Server) handleOperator(w http.ResponseWriter, r *http.Request) {
	operatorID := r.PathValue("agent_id")
	logger := s.logger.With("operator_id", operatorID)

	if s.deps.Auth != nil {
		if _, err := s.deps.Auth.Authenticate(requestToken(r)); err != nil {
			logger.Warn("operator authentication failed")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.accept(w, r)
	if err != nil {
		logger.Warn("operator accept failed", "error", err)
		return
	}
	defer s.release(conn)

	if err := s.deps.Connections.ConnectOperator(operatorID, conn); err != nil {
		logger.Warn("operator already connected, closing duplicate", "error", err)
		_ = conn.close(websocket.StatusPolicyViolation, "operator already connected")
		return
	}

	ctx := r.Context()
	defer func() {
		released := s.deps.Connections.DisconnectOperator(operatorID)
		s.deps.Bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(domain.EventOperatorDisconnected, "", domain.OperatorEventPayload{
			OperatorID: operatorID,
		}))
		logger.Info("operator disconnected", "released_customers", released)
	}()

	if err := conn.SendJSON(ctx, domain.ConnectionConfirmedFrame{
		Type:      domain.FrameConnectionConfirmed,
		AgentID:   operatorID,
		Timestamp: s.opts.Now(),
		Message:   ConfirmedText,
	}); err != nil {
		logger.Warn("failed to confirm connection", "error", err)
		return
	}
	s.deps.Bus.Publish(ctx, domain.NewEvent(domain.EventOperatorConnected, "", domain.OperatorEventPayload{OperatorID: operatorID}))
	logger.Info("operator connected")

	if s.deps.Queue != nil {
		s.deps.Queue.Kick()
	}

	for {
		var frame domain.OperatorFrame
		if err := readFrame(ctx, conn, &frame); err != nil {
			if errors.Is(err, errMalformedFrame) {
				s.sendError(ctx, conn, "malformed frame")
				continue
			}
			logClosed(logger, err)
			return
		}
		s.dispatchOperator(ctx, conn, operatorID, frame)
	}
}

func (s *Server) dispatchOperator(ctx context.Context, conn *wsConn, operatorID string, frame domain.OperatorFrame) {
	switch frame.Type {
	case domain.FrameAgentMessage:
		if err := s.deps.Router.OperatorMessage(ctx, operatorID, frame.CustomerID, frame.Message); err != nil {
			s.sendError(ctx, conn, err.Error())
		}

	case domain.FrameTransferToAI:
		_, err := s.deps.Broker.TransferToAI(ctx, multiagent.TransferRequest{
			OperatorID: operatorID,
			CustomerID: frame.CustomerID,
			Command:    frame.TransferCommand,
			Note:       frame.TransferMessage,
		})
		confirm := domain.TransferConfirmationFrame{
			Type:        domain.FrameTransferConfirmation,
			CustomerID:  frame.CustomerID,
			Success:     err == nil,
			TargetAgent: frame.TransferCommand,
			Timestamp:   s.opts.Now(),
		}
		if err := conn.SendJSON(ctx, confirm); err != nil {
			s.logger.Debug("failed to confirm transfer", "operator_id", operatorID, "error", err)
		}

	default:
		s.sendError(ctx, conn, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

func (s *Server) sendError(ctx context.Context, conn *wsConn, msg string) {
	frame := domain.ErrorFrame{Type: domain.FrameError, Message: msg, Timestamp: s.opts.Now()}
	if err := conn.SendJSON(ctx, frame); err != nil {
		s.logger.Debug("failed to send error frame", "error", err)
	}
}

var errMalformedFrame = errors.New("malformed frame")

// readFrame reads one JSON frame. A frame that is not valid JSON yields
// errMalformedFrame and leaves the socket open.
func readFrame(ctx context.Context, conn *wsConn, v any) error {
	typ, data, err := conn.ws.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		return fmt.Errorf("%w: binary message", errMalformedFrame)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return nil
}

func logClosed(logger *slog.Logger, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		logger.Debug("socket closed")
	case -1:
		if errors.Is(err, context.Canceled) {
			logger.Debug("socket closed")
			return
		}
		logger.Warn("socket read failed", "error", err)
	default:
		logger.Debug("socket closed", "status", websocket.CloseStatus(err))
	}
}
