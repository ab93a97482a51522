package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/shortener"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

type encodeRequest struct {
	LongURL string `json:"longUrl" validate:"required"`
}

type encodeResponse struct {
	ShortURL string `json:"shortUrl"`
	IsNew    bool   `json:"isNew"`
	Message  string `json:"message"`
}

type decodeRequest struct {
	ShortURL string `json:"shortUrl" validate:"required"`
}

type decodeResponse struct {
	LongURL string `json:"longUrl"`
}

func (h *handlers) welcome(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": fiber.StatusOK, "message": "Welcome to shortlink API Version 1"})
}

func (h *handlers) healthz(c *fiber.Ctx) error {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			logger.FromContext(ctx).Warn("health check failed", "err", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// bind parses the JSON body into req and runs the validate tags. A missing
// required field becomes "<field> is required".
func (h *handlers) bind(c *fiber.Ctx, req any, field string) error {
	if err := c.BodyParser(req); err != nil {
		return fmt.Errorf("%w: %s is required", internal.ErrInvalidInput, field)
	}
	if err := h.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s is required", internal.ErrInvalidInput, field)
	}
	return nil
}

func (h *handlers) encode(c *fiber.Ctx) error {
	var req encodeRequest
	if err := h.bind(c, &req, "longUrl"); err != nil {
		return errorResponse(c, err, "")
	}

	res, err := h.svc.Encode(c.UserContext(), req.LongURL)
	if err != nil {
		return errorResponse(c, err, "")
	}

	status := fiber.StatusOK
	if res.IsNew {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(encodeResponse{ShortURL: res.ShortURL, IsNew: res.IsNew, Message: res.Message})
}

func (h *handlers) decode(c *fiber.Ctx) error {
	var req decodeRequest
	if err := h.bind(c, &req, "shortUrl"); err != nil {
		return errorResponse(c, err, "")
	}

	longURL, err := h.svc.Decode(c.UserContext(), req.ShortURL)
	if err != nil {
		return errorResponse(c, err, "Short URL not found")
	}
	return c.JSON(decodeResponse{LongURL: longURL})
}

func (h *handlers) statistic(c *fiber.Ctx) error {
	stats, err := h.svc.Stats(c.UserContext(), utils.CopyString(c.Params("code")))
	if err != nil {
		return errorResponse(c, err, "Not found")
	}
	return c.JSON(stats)
}

func (h *handlers) list(c *fiber.Ctx) error {
	items, err := h.svc.List(c.UserContext())
	if err != nil {
		return errorResponse(c, err, "")
	}
	return c.JSON(items)
}

func (h *handlers) qr(c *fiber.Ctx) error {
	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			return errorResponse(c, fmt.Errorf("%w: size must be between %d and %d", internal.ErrInvalidInput, minQRSize, maxQRSize), "")
		}
		size = n
	}

	link, err := h.svc.Link(c.UserContext(), utils.CopyString(c.Params("code")))
	if err != nil {
		return errorResponse(c, err, "URL not found")
	}
	png, err := qrcode.Encode(h.svc.ShortURL(link.Code), qrcode.Medium, size)
	if err != nil {
		return errorResponse(c, fmt.Errorf("render qr code: %w", err), "")
	}
	c.Type("png")
	return c.Send(png)
}

// redirect answers with a 302 as soon as the code resolves. Everything the
// visit pipeline needs is copied out of the request first, since fasthttp
// reuses its buffers once the handler returns.
func (h *handlers) redirect(c *fiber.Ctx) error {
	code := utils.CopyString(c.Params("code"))
	vc := shortener.VisitContext{
		AddressChain: addressChain(c),
		UserAgent:    utils.CopyString(c.Get(fiber.HeaderUserAgent)),
		Referrer:     utils.CopyString(c.Get(fiber.HeaderReferer)),
		RequestID:    logger.RequestID(c.UserContext()),
	}

	dest, err := h.svc.Redirect(c.UserContext(), code, vc)
	if err != nil {
		return errorResponse(c, err, "URL not found")
	}
	return c.Redirect(dest, fiber.StatusFound)
}

// addressChain prefers the forwarded-for chain set by a proxy and falls back
// to the socket peer.
func addressChain(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		return utils.CopyString(xff)
	}
	return utils.CopyString(c.IP())
}
