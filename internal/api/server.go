package api

import (
	"fmt"

	"github.com/0xsequence/sidekick-sub001/internal/api/middleware"
	"github.com/0xsequence/sidekick-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

type APIServer struct {
	app       *fiber.App
	scheduler services.SchedulerService
	chains    services.ChainService
	txLog     services.TransactionLogService
	secretKey string
}

func NewAPIServer(scheduler services.SchedulerService, chains services.ChainService, txLog services.TransactionLogService, secretKey string) *APIServer {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Add middleware
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	server := &APIServer{
		app:       app,
		scheduler: scheduler,
		chains:    chains,
		txLog:     txLog,
		secretKey: secretKey,
	}
	server.setupRoutes()
	return server
}

func (s *APIServer) setupRoutes() {
	// Health check, no auth
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Use(middleware.SecretKey(s.secretKey))

	// Recurring reward schedules
	s.app.Post("/erc20/schedule/:chainId/:contractAddress/transfer", s.handleCreateSchedule)
	s.app.Get("/erc20/schedule/:chainId/:contractAddress", s.handleGetSchedule)
	s.app.Delete("/erc20/schedule/:chainId/:contractAddress", s.handleCancelSchedule)
	s.app.Get("/erc20/schedule", s.handleListSchedules)

	// Chain registry administration
	s.app.Post("/admin/chains", s.handleCreateChain)
	s.app.Get("/admin/chains", s.handleListChains)
	s.app.Put("/admin/chains/:chainId", s.handleUpdateChain)
	s.app.Delete("/admin/chains/:chainId", s.handleDeleteChain)

	// Transaction audit log
	s.app.Get("/admin/transactions", s.handleListTransactions)
}

// Start blocks serving HTTP on the given port.
func (s *APIServer) Start(port int) error {
	return s.app.Listen(fmt.Sprintf(":%d", port))
}

func (s *APIServer) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for tests.
func (s *APIServer) App() *fiber.App {
	return s.app
}
