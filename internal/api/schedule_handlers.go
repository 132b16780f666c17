package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/0xsequence/sidekick-sub001/internal/services"
	"github.com/0xsequence/sidekick-sub001/internal/utils"
	"github.com/gofiber/fiber/v2"
)

type ScheduleTransferRequest struct {
	Users     []string `json:"users"`
	Amounts   []string `json:"amounts"`
	Timeframe int64    `json:"timeframe"`
	// Cron is an optional standard cron expression; mutually exclusive with
	// Timeframe.
	Cron string `json:"cron,omitempty"`
}

type ScheduleTransferResult struct {
	Message      string `json:"message"`
	JobID        string `json:"jobId"`
	RepeatJobKey string `json:"repeatJobKey"`
	Users        int    `json:"users"`
	Timeframe    int64  `json:"timeframe"`
	Cron         string `json:"cron,omitempty"`
	NextRun      string `json:"nextRun"`
}

// scheduleParams parses and checks the chainId and contractAddress path
// parameters shared by the schedule routes.
func scheduleParams(c *fiber.Ctx) (uint64, string, error) {
	chainID, err := strconv.ParseUint(c.Params("chainId"), 10, 64)
	if err != nil || chainID == 0 {
		return 0, "", fiber.NewError(fiber.StatusBadRequest, "invalid chainId")
	}
	contractAddress := c.Params("contractAddress")
	if !utils.IsValidEthereumAddress(contractAddress) {
		return 0, "", fiber.NewError(fiber.StatusBadRequest, "invalid contractAddress")
	}
	return chainID, contractAddress, nil
}

func scheduleError(c *fiber.Ctx, err error) error {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr.Message})
	case errors.Is(err, services.ErrScheduleNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrScheduleExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func (s *APIServer) handleCreateSchedule(c *fiber.Ctx) error {
	chainID, contractAddress, err := scheduleParams(c)
	if err != nil {
		var fiberErr *fiber.Error
		errors.As(err, &fiberErr)
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	var req ScheduleTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	record, nextRun, err := s.scheduler.CreateSchedule(c.Context(), services.CreateScheduleParams{
		ChainID:         chainID,
		ContractAddress: contractAddress,
		Recipients:      req.Users,
		Amounts:         req.Amounts,
		IntervalMinutes: req.Timeframe,
		CronExpr:        req.Cron,
	})
	if err != nil {
		return scheduleError(c, err)
	}

	return c.JSON(fiber.Map{
		"result": ScheduleTransferResult{
			Message:      "Recurring reward transfer scheduled",
			JobID:        record.JobID,
			RepeatJobKey: record.RepeatKey,
			Users:        len(record.Recipients),
			Timeframe:    record.IntervalMinutes,
			Cron:         record.CronExpr,
			NextRun:      nextRun.UTC().Format(time.RFC3339),
		},
	})
}

func (s *APIServer) handleGetSchedule(c *fiber.Ctx) error {
	chainID, contractAddress, err := scheduleParams(c)
	if err != nil {
		var fiberErr *fiber.Error
		errors.As(err, &fiberErr)
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	record, err := s.scheduler.GetSchedule(c.Context(), chainID, contractAddress)
	if err != nil {
		return scheduleError(c, err)
	}
	return c.JSON(fiber.Map{"result": record})
}

func (s *APIServer) handleCancelSchedule(c *fiber.Ctx) error {
	chainID, contractAddress, err := scheduleParams(c)
	if err != nil {
		var fiberErr *fiber.Error
		errors.As(err, &fiberErr)
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	if err := s.scheduler.CancelSchedule(c.Context(), chainID, contractAddress); err != nil {
		return scheduleError(c, err)
	}
	return c.JSON(fiber.Map{
		"result": fiber.Map{"message": "Schedule cancelled"},
	})
}

func (s *APIServer) handleListSchedules(c *fiber.Ctx) error {
	records, err := s.scheduler.ListSchedules(c.Context())
	if err != nil {
		return scheduleError(c, err)
	}
	return c.JSON(fiber.Map{"result": records})
}
