package api

import (
	"errors"
	"strconv"

	"github.com/0xsequence/sidekick-sub001/internal/models"
	"github.com/0xsequence/sidekick-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
)

type CreateChainRequest struct {
	ChainID uint64 `json:"chainId"`
	Name    string `json:"name"`
	RPC     string `json:"rpc"`
}

func (s *APIServer) handleCreateChain(c *fiber.Ctx) error {
	var req CreateChainRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.ChainID == 0 || req.RPC == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "chainId and rpc are required"})
	}

	chain := &models.Chain{
		ChainID: req.ChainID,
		Name:    req.Name,
		RPC:     req.RPC,
	}
	if err := s.chains.CreateChain(chain); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"result": chain})
}

func (s *APIServer) handleListChains(c *fiber.Ctx) error {
	chains, err := s.chains.ListChains()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"result": chains})
}

type UpdateChainRequest struct {
	RPC string `json:"rpc"`
}

func (s *APIServer) handleUpdateChain(c *fiber.Ctx) error {
	chainID, err := strconv.ParseUint(c.Params("chainId"), 10, 64)
	if err != nil || chainID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid chainId"})
	}

	var req UpdateChainRequest
	if err := c.BodyParser(&req); err != nil || req.RPC == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "rpc is required"})
	}

	if err := s.chains.UpdateChainRPC(chainID, req.RPC); err != nil {
		if errors.Is(err, services.ErrChainNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"result": fiber.Map{"message": "Chain updated"}})
}

func (s *APIServer) handleDeleteChain(c *fiber.Ctx) error {
	chainID, err := strconv.ParseUint(c.Params("chainId"), 10, 64)
	if err != nil || chainID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid chainId"})
	}

	if err := s.chains.DeleteChain(chainID); err != nil {
		if errors.Is(err, services.ErrChainNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"result": fiber.Map{"message": "Chain deleted"}})
}

func (s *APIServer) handleListTransactions(c *fiber.Ctx) error {
	var chainID uint64
	if v := c.Query("chainId"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid chainId"})
		}
		chainID = parsed
	}

	limit := c.QueryInt("limit", 100)
	logs, err := s.txLog.ListTransactions(chainID, c.Query("contractAddress"), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"result": logs})
}
