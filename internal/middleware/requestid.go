package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures each request carries an identifier. A caller-supplied
// X-Request-ID is kept; otherwise one is generated and echoed back.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		return c.Next()
	}
}

// GetRequestID returns the identifier stored by RequestID, or "".
func GetRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}
