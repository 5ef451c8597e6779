package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/usecase"
)

type WebSocketHandler struct {
	cfg      *config.RelayConfig
	upgrader *websocket.Upgrader

	relayUsecase usecase.RelayUsecase
}

func NewWebSocketHandler(cfg *config.RelayConfig, relayUsecase usecase.RelayUsecase) *WebSocketHandler {
	return &WebSocketHandler{
		cfg: cfg,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{events.SubprotocolMsgpack, events.SubprotocolJSON},
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				origin := r.Header.Get("Origin")

				// не браузерные клиенты (join) Origin не передают
				return origin == "" || origin == cfg.Domain
			},
		},
		relayUsecase: relayUsecase,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return nil
	}
	defer ws.Close()

	ctx := c.Request().Context()
	connectionID := uuid.NewString()
	codec := events.CodecFor(ws.Subprotocol())

	client := newWSClient(connectionID, ws, codec, h.cfg.SendQueueSize)

	h.relayUsecase.Connect(ctx, connectionID, client)
	go client.writePump()

	defer func() {
		h.relayUsecase.Disconnect(ctx, connectionID)
		client.close()
	}()

	slog.Debug(
		"websocket connected",
		slog.String(constant.ConnectionID, connectionID),
		slog.String(constant.Codec, codec.Name()),
	)

	limiter := rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), int(2*h.cfg.MessagesPerSecond)+1)

	ws.SetReadLimit(h.cfg.MaxMessageBytes)

	if err = ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.handleWebsocketError(connectionID, err)

			return nil
		}

		if !limiter.Allow() {
			metric.IncrementDropped("unknown", metric.DropRateLimited)
			slog.Warn("rate limit exceeded", slog.String(constant.ConnectionID, connectionID))

			continue
		}

		ev, err := codec.Decode(raw)
		if err != nil {
			metric.IncrementDropped("unknown", metric.DropMalformed)
			slog.Warn(
				"decode websocket message",
				slog.Any(constant.Error, err),
				slog.String(constant.ConnectionID, connectionID),
			)

			continue
		}

		if err = h.handleMessage(ctx, connectionID, ev); err != nil {
			slog.Error(
				"handle message",
				slog.Any(constant.Error, err),
				slog.String(constant.MessageType, string(ev.Type())),
				slog.String(constant.ConnectionID, connectionID),
			)
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, connectionID string, ev events.Event) error {
	switch e := ev.(type) {
	case events.JoinRoom:
		if err := h.relayUsecase.HandleJoin(ctx, connectionID, e); err != nil {
			return fmt.Errorf("handle join: %w", err)
		}

	case events.LeaveRoom:
		h.relayUsecase.HandleLeave(ctx, connectionID)

	case events.Offer, events.Answer, events.Candidate:
		if err := h.relayUsecase.HandleSignal(ctx, connectionID, e); err != nil {
			return fmt.Errorf("handle signal: %w", err)
		}

	case events.RoomBroadcast:
		if err := h.relayUsecase.HandleBroadcast(ctx, connectionID, e); err != nil {
			return fmt.Errorf("handle broadcast: %w", err)
		}

	case events.Ping:
		h.relayUsecase.HandlePing(ctx, connectionID)

	case events.Pong:

	default:
		return fmt.Errorf("unexpected message type %s", ev.Type())
	}

	return nil
}

func (h *WebSocketHandler) handleWebsocketError(connectionID string, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("websocket disconnected", slog.String(constant.ConnectionID, connectionID))
		default:
			slog.Warn(
				"websocket closed abnormally",
				slog.Int("code", closeErr.Code),
				slog.String(constant.ConnectionID, connectionID),
			)
		}

		return
	}

	slog.Warn(
		"websocket read",
		slog.Any(constant.Error, err),
		slog.String(constant.ConnectionID, connectionID),
	)
}
