package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const userIDKey = "user_id"

// JWTMiddleware validates bearer tokens and stores user_id in locals.
// Websocket upgrades may pass the token as the access_token query parameter.
func JWTMiddleware(secret string) fiber.Handler {
	signer := NewSigner(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		userID, err := signer.Parse(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

// UserID returns the authenticated user, or "" on unauthenticated routes.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
