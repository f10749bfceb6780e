package api

import (
	"context"
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/fancontrol"
	"github.com/gofiber/fiber/v2"
)

type overrideRequest struct {
	Speed *int `json:"speed"`
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"fans":      len(s.fans),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) getFans(c *fiber.Ctx) error {
	statuses := make([]fancontrol.Status, 0, len(s.order))
	for _, index := range s.order {
		statuses = append(statuses, s.fans[index].Status())
	}
	return c.JSON(statuses)
}

func (s *Server) getFan(c *fiber.Ctx) error {
	fan, err := s.lookupFan(c)
	if err != nil {
		return err
	}
	return c.JSON(fan.Status())
}

// overrideFan starts or refreshes an override lease. Clients keep the
// override alive by repeating the request within the lease window.
func (s *Server) overrideFan(c *fiber.Ctx) error {
	fan, err := s.lookupFan(c)
	if err != nil {
		return err
	}

	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Speed == nil || *req.Speed < 0 || *req.Speed > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "speed must be between 0 and 100"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	if err := fan.Override(ctx, uint8(*req.Speed)); err != nil {
		return s.errorResponse(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"fan":   fan.Index(),
		"speed": *req.Speed,
	})
}

func (s *Server) reloadProfiles(c *fiber.Ctx) error {
	if s.reload == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "profile reload unavailable"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	if err := s.reload(ctx); err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(fiber.Map{"status": "reloaded"})
}

func (s *Server) lookupFan(c *fiber.Ctx) (FanController, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid fan id")
	}

	fan, ok := s.fans[id]
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "fan not found")
	}
	return fan, nil
}

func (s *Server) errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.HasCode(err, errors.ErrInvalidArgument):
		status = fiber.StatusBadRequest
	case errors.HasCode(err, errors.ErrTimeout):
		status = fiber.StatusServiceUnavailable
	case errors.HasCode(err, errors.ErrConfigSwap):
		status = fiber.StatusUnprocessableEntity
	}

	s.logger.Warn().Err(err).Str("path", c.Path()).Int("status", status).Msg("API request failed")

	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
