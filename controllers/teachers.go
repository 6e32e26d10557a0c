package controllers

import (
	"strings"

	"faltas_go/gateway"
	"faltas_go/models"
	"faltas_go/repository"
	"faltas_go/services"
	"faltas_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// TeacherController serves the reference collections: teachers, departments and the substitute roster.
type TeacherController struct {
	gw     *gateway.Gateway
	store  *services.AbsenceStore
	roster *repository.SubstituteRepository
}

func NewTeacherController(gw *gateway.Gateway, store *services.AbsenceStore, roster *repository.SubstituteRepository) *TeacherController {
	return &TeacherController{gw: gw, store: store, roster: roster}
}

// GetTeachers returns the teachers held by the store, optionally narrowed by unit or department
func (tc *TeacherController) GetTeachers(c *fiber.Ctx) error {
	unit := c.Query("unit")
	departmentID := c.Query("department_id")

	teachers := tc.store.Teachers()
	if unit != "" || departmentID != "" {
		filtered := teachers[:0:0]
		for _, t := range teachers {
			if unit != "" && t.Unit != unit {
				continue
			}
			if departmentID != "" && t.DepartmentID != departmentID {
				continue
			}
			filtered = append(filtered, t)
		}
		teachers = filtered
	}
	return c.JSON(teachers)
}

type createTeacherRequest struct {
	Name           string `json:"name" validate:"required,max=255"`
	Email          string `json:"email" validate:"omitempty,email"`
	DepartmentID   string `json:"department_id" validate:"required"`
	Unit           string `json:"unit" validate:"required"`
	ContractType   string `json:"contract_type"`
	Course         string `json:"course"`
	TeachingPeriod string `json:"teaching_period"`
	Regencia       *bool  `json:"regencia"`
}

// CreateTeacher registers a teacher and reloads the store
func (tc *TeacherController) CreateTeacher(c *fiber.Ctx) error {
	var req createTeacherRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Name = utils.SanitizeString(req.Name)
	if err := utils.Validate(req); err != nil {
		return respondError(c, err)
	}

	teacher := models.Teacher{
		Name:           req.Name,
		Email:          strings.TrimSpace(req.Email),
		DepartmentID:   req.DepartmentID,
		Unit:           req.Unit,
		ContractType:   req.ContractType,
		Course:         req.Course,
		TeachingPeriod: req.TeachingPeriod,
		Regencia:       req.Regencia,
	}
	if err := tc.gw.InsertTeacher(c.UserContext(), &teacher); err != nil {
		return respondError(c, err)
	}
	if err := tc.store.Load(c.UserContext()); err != nil {
		logrus.WithError(err).Warn("reload after teacher insert failed")
	}
	return c.Status(fiber.StatusCreated).JSON(teacher)
}

func (tc *TeacherController) GetDepartments(c *fiber.Ctx) error {
	return c.JSON(tc.store.Departments())
}

// GetSubstitutes returns the roster through the cached repository
func (tc *TeacherController) GetSubstitutes(c *fiber.Ctx) error {
	substitutes, err := tc.roster.List(c.UserContext(), gateway.SubstituteFilter{
		Unit:            c.Query("unit"),
		IncludeInactive: c.QueryBool("include_inactive", false),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(substitutes)
}

type createSubstituteRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	Unit string `json:"unit" validate:"required"`
}

func (tc *TeacherController) CreateSubstitute(c *fiber.Ctx) error {
	var req createSubstituteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Name = utils.SanitizeString(req.Name)
	if err := utils.Validate(req); err != nil {
		return respondError(c, err)
	}

	substitute := models.Substitute{Name: req.Name, Unit: req.Unit}
	if err := tc.roster.Create(c.UserContext(), &substitute); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(substitute)
}
