package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wrench/pkg/hub"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Node        string       `json:"node"`
	Action      string       `json:"action"`
	Detector    wrench.Stats `json:"detector"`
	Subscribers int          `json:"subscribers"`
}

// handleStatus returns detector statistics
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		Node:        wrench.NodeName,
		Action:      wrench.ActionName,
		Detector:    s.detector.Stats(),
		Subscribers: s.results.SubscriberCount(),
	})
}

// SubmitGoalRequest is the optional body of a goal submission. The request
// carries no detection parameters.
type SubmitGoalRequest struct {
	ID string `json:"id"`
}

// handleSubmitGoal submits a goal. With ?wait=<duration> the response is
// held until the goal finishes or the wait elapses.
func (s *Server) handleSubmitGoal(c *fiber.Ctx) error {
	var req SubmitGoalRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid body: " + err.Error(),
			})
		}
	}

	var wait time.Duration
	if w := c.Query("wait"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil || d < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid wait duration",
			})
		}
		wait = min(d, s.cfg.MaxWait)
	}

	goal, err := s.detector.Submit(c.UserContext(), req.ID)
	switch {
	case errors.Is(err, wrench.ErrDuplicateGoal):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, wrench.ErrNotRunning):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	s.logger.Debug("goal submitted", "goal_id", goal.ID(), "wait", wait)

	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.UserContext(), wait)
		defer cancel()
		if _, err := goal.Wait(ctx); err != nil {
			s.logger.Debug("goal not finished within wait", "goal_id", goal.ID(), "error", err)
		}
	}

	info := goal.Info()
	if info.Status.Terminal() {
		return c.JSON(info)
	}
	return c.Status(fiber.StatusAccepted).JSON(info)
}

// handleGetGoal returns one goal
func (s *Server) handleGetGoal(c *fiber.Ctx) error {
	goal, err := s.detector.Goal(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(goal.Info())
}

// handleListGoals returns remembered goals, oldest first
func (s *Server) handleListGoals(c *fiber.Ctx) error {
	return c.JSON(s.detector.Goals())
}

// handleFrame accepts one frame as the raw request body
func (s *Server) handleFrame(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns.
	data := append([]byte(nil), c.Body()...)

	frame := wrench.Frame{
		Source: c.Get("X-Camera-Id", "http"),
		Format: c.Get(fiber.HeaderContentType),
		Data:   data,
	}

	if !s.detector.HandleFrame(frame) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"accepted": false,
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": true,
	})
}

// handleResultsWS streams results to one subscriber
func (s *Server) handleResultsWS(c *websocket.Conn) {
	hub.NewSubscriber(s.results, c).Serve()
}
