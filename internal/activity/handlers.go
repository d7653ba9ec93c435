package activity

import (
	"errors"
	"time"

	"backend-activitytracker/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/activities", authMiddleware, func(c *fiber.Ctx) error {
		var req FinishedActivity
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if userID := auth.UserID(c); userID != "" {
			req.UserID = userID
		}
		saved, err := svc.Save(c.Context(), req)
		if errors.Is(err, ErrInvalidActivity) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(saved)
	})

	r.Get("/activities", authMiddleware, func(c *fiber.Ctx) error {
		userID := auth.UserID(c)
		if userID == "" {
			userID = c.Query("user_id")
		}
		if userID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}
		var since time.Time
		if raw := c.Query("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "since must be RFC3339")
			}
			since = t
		}
		list, err := svc.ListByUser(c.Context(), userID, since)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if list == nil {
			list = []FinishedActivity{}
		}
		return c.JSON(list)
	})

	r.Get("/activities/:id", func(c *fiber.Ctx) error {
		a, err := svc.Get(c.Context(), c.Params("id"))
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(a)
	})
}
