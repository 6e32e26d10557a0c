package controllers

import (
	"faltas_go/services"

	"github.com/gofiber/fiber/v2"
)

type HealthController struct {
	service *services.HealthService
}

func NewHealthController(service *services.HealthService) *HealthController {
	if service == nil {
		service = services.NewHealthService("", "")
	}
	return &HealthController{service: service}
}

// GetHealthStatus returns the dependency report, 503 when a critical dependency is down.
func (hc *HealthController) GetHealthStatus(c *fiber.Ctx) error {
	report := hc.service.Report(c.UserContext())
	return c.Status(hc.service.HTTPStatus(report.Status)).JSON(report)
}
