package controllers

import (
	"time"

	"faltas_go/services"

	"github.com/gofiber/fiber/v2"
)

const dashboardRecent = 10

type AnalyticsController struct {
	store *services.AbsenceStore
}

func NewAnalyticsController(store *services.AbsenceStore) *AnalyticsController {
	return &AnalyticsController{store: store}
}

// GetAnalytics aggregates the filtered absence set
func (ac *AnalyticsController) GetAnalytics(c *fiber.Ctx) error {
	filter, err := absenceFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(services.ComputeAnalytics(ac.store.Filter(filter)))
}

// GetDashboard summarizes the current month
func (ac *AnalyticsController) GetDashboard(c *fiber.Ctx) error {
	recent := c.QueryInt("recent", dashboardRecent)
	return c.JSON(services.ComputeDashboard(ac.store.Absences(), time.Now(), recent))
}

// StoreController exposes the synchronization state of the absence store.
type StoreController struct {
	store *services.AbsenceStore
}

func NewStoreController(store *services.AbsenceStore) *StoreController {
	return &StoreController{store: store}
}

func (sc *StoreController) GetStatus(c *fiber.Ctx) error {
	return c.JSON(sc.store.Status())
}

// Reload forces a full load from the database
func (sc *StoreController) Reload(c *fiber.Ctx) error {
	if err := sc.store.Load(c.UserContext()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  "Reload failed",
			"status": sc.store.Status(),
		})
	}
	return c.JSON(sc.store.Status())
}
