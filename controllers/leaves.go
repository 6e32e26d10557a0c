package controllers

import (
	"errors"
	"strings"

	"faltas_go/gateway"
	"faltas_go/models"
	"faltas_go/services"
	"faltas_go/storage"
	"faltas_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type LeaveController struct {
	gw        *gateway.Gateway
	store     *services.AbsenceStore
	bulk      *services.BulkGenerator
	documents *storage.DocumentStore
}

func NewLeaveController(gw *gateway.Gateway, store *services.AbsenceStore, bulk *services.BulkGenerator, documents *storage.DocumentStore) *LeaveController {
	return &LeaveController{gw: gw, store: store, bulk: bulk, documents: documents}
}

// leaveRequest accepts JSON or multipart form fields.
type leaveRequest struct {
	TeacherID   string `json:"teacher_id" form:"teacher_id"`
	StartDate   string `json:"start_date" form:"start_date"`
	EndDate     string `json:"end_date" form:"end_date"`
	Reason      string `json:"reason" form:"reason"`
	DocumentURL string `json:"document_url" form:"document_url"`
	Status      string `json:"status" form:"status"`
}

func parseOptionalDate(errs utils.ValidationErrors, field, raw string) models.Date {
	if strings.TrimSpace(raw) == "" {
		return models.Date{}
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		errs.Add(field, "must be a date (YYYY-MM-DD)")
	}
	return d
}

func (lc *LeaveController) GetLeaves(c *fiber.Ctx) error {
	date, err := queryDate(c, "date")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid date"})
	}
	leaves, err := lc.gw.ListLeaves(c.UserContext(), gateway.LeaveFilter{
		TeacherID: c.Query("teacher_id"),
		Status:    models.LeaveStatus(c.Query("status")),
		Date:      date,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(leaves)
}

func (lc *LeaveController) GetLeave(c *fiber.Ctx) error {
	leave, err := lc.gw.GetLeave(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(leave)
}

// CreateLeave registers a leave, uploading the supporting document when one is attached
func (lc *LeaveController) CreateLeave(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if identity == nil {
		return err
	}

	var req leaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	errs := utils.ValidationErrors{}
	leave := models.Leave{
		TeacherID:   strings.TrimSpace(req.TeacherID),
		StartDate:   parseOptionalDate(errs, "start_date", req.StartDate),
		EndDate:     parseOptionalDate(errs, "end_date", req.EndDate),
		Reason:      strings.TrimSpace(req.Reason),
		DocumentURL: strings.TrimSpace(req.DocumentURL),
		Status:      models.LeaveStatus(req.Status),
		CreatedBy:   identity.ID,
	}
	if err := errs.OrNil(); err != nil {
		return respondError(c, err)
	}
	if err := services.ValidateLeave(&leave); err != nil {
		return respondError(c, err)
	}
	if leave.Status == "" {
		leave.Status = models.LeaveActive
	}

	if file, err := c.FormFile("file"); err == nil {
		if lc.documents == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Document storage not configured"})
		}
		if errMsg := checkUpload(file.Filename, file.Size); errMsg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errMsg})
		}
		teacherName := leave.TeacherID
		if teacher, ok := lc.store.Teacher(leave.TeacherID); ok {
			teacherName = teacher.Name
		}
		doc, err := lc.documents.Upload(c.UserContext(), teacherName, leave.StartDate.String(), file)
		if err != nil {
			logrus.WithError(err).WithField("teacher_id", leave.TeacherID).Error("Failed to upload leave document")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload document"})
		}
		leave.DocumentURL = doc.URL
	}

	if err := lc.gw.InsertLeave(c.UserContext(), &leave); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(leave)
}

type leavePatch struct {
	StartDate   *string             `json:"start_date"`
	EndDate     *string             `json:"end_date"`
	Reason      *string             `json:"reason"`
	DocumentURL *string             `json:"document_url"`
	Status      *models.LeaveStatus `json:"status"`
}

func (lc *LeaveController) UpdateLeave(c *fiber.Ctx) error {
	var patch leavePatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	id := c.Params("id")
	existing, err := lc.gw.GetLeave(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}

	merged := *existing
	fields := map[string]interface{}{}
	errs := utils.ValidationErrors{}
	if patch.StartDate != nil {
		merged.StartDate = parseOptionalDate(errs, "start_date", *patch.StartDate)
		fields["start_date"] = merged.StartDate
	}
	if patch.EndDate != nil {
		merged.EndDate = parseOptionalDate(errs, "end_date", *patch.EndDate)
		fields["end_date"] = merged.EndDate
	}
	if patch.Reason != nil {
		merged.Reason = strings.TrimSpace(*patch.Reason)
		fields["reason"] = merged.Reason
	}
	if patch.DocumentURL != nil {
		merged.DocumentURL = strings.TrimSpace(*patch.DocumentURL)
		fields["document_url"] = merged.DocumentURL
	}
	if patch.Status != nil {
		merged.Status = *patch.Status
		fields["status"] = merged.Status
	}
	if err := errs.OrNil(); err != nil {
		return respondError(c, err)
	}
	if err := services.ValidateLeave(&merged); err != nil {
		return respondError(c, err)
	}

	if err := lc.gw.UpdateLeave(c.UserContext(), id, fields); err != nil {
		return respondError(c, err)
	}
	return c.JSON(merged)
}

type generateRequest struct {
	IncludeWeekends bool                       `json:"include_weekends"`
	TotalClasses    float64                    `json:"total_classes"`
	Substitute      *services.SubstitutePolicy `json:"substitute"`
}

// bulkResponse answers 207 when some days failed so the caller can retry or roll back.
func bulkResponse(c *fiber.Ctx, result *services.BulkResult, err error) error {
	if errors.Is(err, services.ErrPartialBulkFailure) && result != nil {
		return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{
			"error":     err.Error(),
			"succeeded": result.Succeeded(),
			"failed":    result.Failed(),
			"result":    result,
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"succeeded": result.Succeeded(),
		"failed":    result.Failed(),
		"result":    result,
	})
}

// GenerateAbsences expands the leave into one absence per working day
func (lc *LeaveController) GenerateAbsences(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if identity == nil {
		return err
	}

	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	leave, err := lc.gw.GetLeave(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	result, err := lc.bulk.Generate(c.UserContext(), identity, services.BulkRequest{
		Leave:           *leave,
		IncludeWeekends: req.IncludeWeekends,
		TotalClasses:    req.TotalClasses,
		Substitute:      req.Substitute,
	})
	return bulkResponse(c, result, err)
}

// GetGeneration reports the generator state and the last recorded outcome of a leave
func (lc *LeaveController) GetGeneration(c *fiber.Ctx) error {
	id := c.Params("id")
	resp := fiber.Map{"state": lc.bulk.State(id)}
	if result, ok := lc.bulk.Result(id); ok {
		resp["result"] = result
	}
	return c.JSON(resp)
}

func (lc *LeaveController) RetryGeneration(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if identity == nil {
		return err
	}
	result, err := lc.bulk.Retry(c.UserContext(), identity, c.Params("id"))
	return bulkResponse(c, result, err)
}

func (lc *LeaveController) RollbackGeneration(c *fiber.Ctx) error {
	result, err := lc.bulk.Rollback(c.UserContext(), c.Params("id"))
	return bulkResponse(c, result, err)
}
