package groupactivity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-activitytracker/internal/auth"
	"backend-activitytracker/internal/joincode"
	"backend-activitytracker/internal/lifecycle"
	"backend-activitytracker/internal/protocol"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const handshakeTimeout = 10 * time.Second

var errHandshake = errors.New("handshake")

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		resp, err := svc.Create(auth.UserID(c), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	})

	r.Post("/join", authMiddleware, func(c *fiber.Ctx) error {
		var req JoinRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Code == "" && req.URI == "" {
			return fiber.NewError(fiber.StatusBadRequest, "code or uri required")
		}
		view, err := svc.Join(c.Context(), auth.UserID(c), req)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(view)
	})

	r.Get("/ws/:id", authMiddleware, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, websocket.New(socketHandler(svc)))

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		view, err := svc.Get(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(view)
	})

	r.Post("/:id/leave", authMiddleware, func(c *fiber.Ctx) error {
		view, err := svc.Leave(c.Context(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(view)
	})

	r.Post("/:id/end", authMiddleware, func(c *fiber.Ctx) error {
		view, err := svc.End(c.Context(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(view)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, joincode.ErrNotJoinCode), errors.Is(err, ErrInvalidRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrNotOwner):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrUnknownParticipant):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func socketHandler(svc *Service) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		ctx := context.Background()
		sessionID := c.Params("id")
		authUser, _ := c.Locals("user_id").(string)
		log := svc.log.With(zap.String("session_id", sessionID))

		userID, err := handshake(c, sessionID, authUser)
		if err != nil {
			svc.metrics.Rejected.WithLabelValues("handshake").Inc()
			reject(c, log, err)
			return
		}
		log = log.With(zap.String("user_id", userID))

		// registered before Connect so the participant sees its own arrival
		client := svc.hub.Register(sessionID, userID)
		if _, err := svc.Connect(ctx, sessionID, userID); err != nil {
			svc.hub.Unregister(client)
			svc.metrics.Rejected.WithLabelValues("connect").Inc()
			reject(c, log, err)
			return
		}
		svc.metrics.Sockets.Inc()
		log.Info("participant connected")

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			_, frame, err := c.ReadMessage()
			if err != nil {
				break
			}
			handleFrame(ctx, svc, log, sessionID, userID, frame)
		}

		if _, err := svc.Disconnect(ctx, sessionID, userID); err != nil {
			log.Debug("disconnect", zap.Error(err))
		}
		svc.hub.Unregister(client)
		svc.metrics.Sockets.Dec()
		<-done
		log.Info("participant disconnected")
	}
}

// handshake waits for the connect_message that must open every socket.
func handshake(c *websocket.Conn, sessionID, authUser string) (string, error) {
	_ = c.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, frame, err := c.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("%w: %v", errHandshake, err)
	}
	_ = c.SetReadDeadline(time.Time{})

	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		return "", err
	}
	if env.Type != protocol.TypeConnect {
		return "", fmt.Errorf("%w: first frame is %s", errHandshake, env.Type)
	}
	var p protocol.ConnectPayload
	if err := env.Decode(&p); err != nil {
		return "", err
	}
	switch {
	case p.UserID == "":
		return "", fmt.Errorf("%w: user_id required", errHandshake)
	case p.SessionID != "" && p.SessionID != sessionID:
		return "", fmt.Errorf("%w: session mismatch", errHandshake)
	case authUser != "" && authUser != p.UserID:
		return "", fmt.Errorf("%w: user mismatch", errHandshake)
	}
	return p.UserID, nil
}

func reject(c *websocket.Conn, log *zap.Logger, err error) {
	log.Warn("socket rejected", zap.Error(err))
	reason := err.Error()
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

func handleFrame(ctx context.Context, svc *Service, log *zap.Logger, sessionID, userID string, frame []byte) {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		svc.metrics.Rejected.WithLabelValues("malformed").Inc()
		log.Debug("dropping malformed frame", zap.Error(err))
		return
	}
	svc.metrics.Frames.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case protocol.TypeDataUpdate:
		var p protocol.DataUpdatePayload
		if err := env.Decode(&p); err != nil {
			svc.metrics.Rejected.WithLabelValues("malformed").Inc()
			return
		}
		p.UserID = userID
		out, err := protocol.DataUpdateMessage(p)
		if err == nil {
			err = svc.Relay(ctx, sessionID, out)
		}
		if err != nil {
			log.Warn("relay data update", zap.Error(err))
		}

	case protocol.TypeStatusChange:
		var p protocol.StatusChangePayload
		if err := env.Decode(&p); err != nil {
			svc.metrics.Rejected.WithLabelValues("malformed").Inc()
			return
		}
		switch p.Status {
		case lifecycle.StatusInProgress:
			_, err = svc.Activate(ctx, sessionID, userID)
		case lifecycle.StatusFinished:
			_, err = svc.Finish(ctx, sessionID, userID)
		default:
			var out protocol.Envelope
			out, err = protocol.StatusChangeMessage(protocol.StatusChangePayload{UserID: userID, Status: p.Status})
			if err == nil {
				err = svc.Relay(ctx, sessionID, out)
			}
		}
		if err != nil {
			svc.metrics.Rejected.WithLabelValues("status").Inc()
			log.Warn("status change refused", zap.String("status", string(p.Status)), zap.Error(err))
		}

	case protocol.TypeConnect:
		svc.metrics.Rejected.WithLabelValues("duplicate_connect").Inc()
	}
}
