package routes

import (
	"faltas_go/controllers"
	"faltas_go/gateway"
	"faltas_go/middleware"
	"faltas_go/repository"
	"faltas_go/services"
	"faltas_go/services/websocket"
	"faltas_go/storage"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
)

// Dependencies are the long-lived components the handlers are built on.
type Dependencies struct {
	Gateway   *gateway.Gateway
	Store     *services.AbsenceStore
	Roster    *repository.SubstituteRepository
	Bulk      *services.BulkGenerator
	Exporter  *services.ExportService
	Archive   *services.ExportArchiveService
	Documents *storage.DocumentStore
	Health    *services.HealthService
	Hub       *websocket.Hub
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, deps Dependencies) {
	// Initialize controllers
	absenceController := controllers.NewAbsenceController(deps.Store, deps.Exporter, deps.Documents)
	leaveController := controllers.NewLeaveController(deps.Gateway, deps.Store, deps.Bulk, deps.Documents)
	teacherController := controllers.NewTeacherController(deps.Gateway, deps.Store, deps.Roster)
	analyticsController := controllers.NewAnalyticsController(deps.Store)
	storeController := controllers.NewStoreController(deps.Store)
	exportController := controllers.NewExportController(deps.Archive)
	healthController := controllers.NewHealthController(deps.Health)
	wsController := controllers.NewWebSocketController(deps.Hub)

	// API group
	api := app.Group("/api")

	// Public routes (no authentication required)
	api.Get("/health", healthController.GetHealthStatus)

	// Protected routes (require an identity token)
	protected := api.Group("/", middleware.JWTMiddleware())

	// Absences
	absences := protected.Group("/absences")
	absences.Get("/", absenceController.GetAbsences)
	absences.Get("/export", absenceController.ExportAbsences)
	absences.Get("/:id", absenceController.GetAbsence)
	absences.Post("/", absenceController.CreateAbsence)
	absences.Patch("/:id", absenceController.UpdateAbsence)
	absences.Delete("/:id", absenceController.DeleteAbsence)
	absences.Post("/:id/document", absenceController.UploadDocument)

	// Reporting
	protected.Get("/analytics", analyticsController.GetAnalytics)
	protected.Get("/dashboard", analyticsController.GetDashboard)

	// Reference collections
	protected.Get("/teachers", teacherController.GetTeachers)
	protected.Post("/teachers", teacherController.CreateTeacher)
	protected.Get("/departments", teacherController.GetDepartments)
	protected.Get("/substitutes", teacherController.GetSubstitutes)
	protected.Post("/substitutes", teacherController.CreateSubstitute)

	// Leaves and bulk generation
	leaves := protected.Group("/leaves")
	leaves.Get("/", leaveController.GetLeaves)
	leaves.Get("/:id", leaveController.GetLeave)
	leaves.Post("/", leaveController.CreateLeave)
	leaves.Patch("/:id", leaveController.UpdateLeave)
	leaves.Get("/:id/generate", leaveController.GetGeneration)
	leaves.Post("/:id/generate", leaveController.GenerateAbsences)
	leaves.Post("/:id/generate/retry", leaveController.RetryGeneration)
	leaves.Post("/:id/generate/rollback", leaveController.RollbackGeneration)

	// Export archive
	exports := protected.Group("/exports")
	exports.Get("/archives", exportController.GetArchives)
	exports.Post("/archives", exportController.CreateArchive)
	exports.Get("/archives/download", exportController.DownloadArchive)

	// Store synchronization
	protected.Get("/store", storeController.GetStatus)
	protected.Post("/store/reload", storeController.Reload)

	// WebSocket routes
	protected.Get("/ws/stats", wsController.GetWebSocketStats)

	// WebSocket connection endpoint - use websocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		// IsWebSocketUpgrade returns true if the client
		// requested upgrade to the WebSocket protocol.
		if fiberws.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", wsController.WebSocketHandler())
}
