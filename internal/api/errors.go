package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/logger"
)

type errorBody struct {
	Error string `json:"error"`
}

// errorResponse maps service errors to HTTP. notFound is the route-specific
// 404 message.
func errorResponse(c *fiber.Ctx, err error, notFound string) error {
	switch {
	case errors.Is(err, internal.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: detail(err, internal.ErrInvalidInput)})
	case errors.Is(err, internal.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorBody{Error: notFound})
	case errors.Is(err, internal.ErrResourceExhausted):
		logger.FromContext(c.UserContext()).Error("code space exhausted", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "Could not generate a unique short code"})
	case errors.Is(err, internal.ErrStoreFailure):
		logger.FromContext(c.UserContext()).Error("store error", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "Database error"})
	default:
		logger.FromContext(c.UserContext()).Error("unhandled error", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "Internal server error"})
	}
}

// detail strips the sentinel prefix so clients see "longUrl is required"
// rather than "invalid input: longUrl is required".
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}

// errorHandler catches whatever a handler or middleware returned unhandled.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		logger.FromContext(c.UserContext()).Error("request failed", "err", err)
	}
	return c.Status(code).JSON(errorBody{Error: msg})
}
