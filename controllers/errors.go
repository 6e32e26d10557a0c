package controllers

import (
	"errors"
	"strconv"
	"strings"

	"faltas_go/gateway"
	"faltas_go/middleware"
	"faltas_go/models"
	"faltas_go/repository"
	"faltas_go/services"
	"faltas_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// respondError maps service errors onto HTTP responses.
func respondError(c *fiber.Ctx, err error) error {
	if verrs, ok := utils.AsValidationErrors(err); ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Validation failed",
			"details": verrs,
		})
	}

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		status = fiber.StatusUnauthorized
	case errors.Is(err, services.ErrAbsenceNotFound),
		errors.Is(err, gateway.ErrNotFound),
		errors.Is(err, repository.ErrSubstituteNotFound),
		errors.Is(err, services.ErrNoBulkResult):
		status = fiber.StatusNotFound
	case errors.Is(err, services.ErrBulkInProgress):
		status = fiber.StatusConflict
	case errors.Is(err, services.ErrNoWorkingDays),
		errors.Is(err, services.ErrUnknownFormat),
		errors.Is(err, services.ErrUnknownScope),
		errors.Is(err, services.ErrInvalidArchiveKey),
		errors.Is(err, repository.ErrSubstituteName):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrArchiveNotConfigured):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).Error("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// currentIdentity returns the caller or answers 401.
func currentIdentity(c *fiber.Ctx) (*models.Identity, error) {
	identity := middleware.GetIdentity(c)
	if identity == nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return identity, nil
}

func queryDate(c *fiber.Ctx, key string) (*models.Date, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func queryBool(c *fiber.Ctx, key string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// pageParams reads page (1-based) and page_size with the given default size.
func pageParams(c *fiber.Ctx, defaultSize int) (int, int) {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	size := c.QueryInt("page_size", defaultSize)
	if size < 1 {
		size = defaultSize
	}
	if size > 500 {
		size = 500
	}
	return page, size
}
