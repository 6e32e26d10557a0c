package controllers

import (
	"bytes"
	"fmt"

	"faltas_go/config"
	"faltas_go/models"
	"faltas_go/services"
	"faltas_go/storage"
	"faltas_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const defaultAbsencePageSize = 50

type AbsenceController struct {
	store     *services.AbsenceStore
	exporter  *services.ExportService
	documents *storage.DocumentStore
}

func NewAbsenceController(store *services.AbsenceStore, exporter *services.ExportService, documents *storage.DocumentStore) *AbsenceController {
	return &AbsenceController{store: store, exporter: exporter, documents: documents}
}

// absenceFilter reads the list filters shared by the list, export and analytics endpoints.
func absenceFilter(c *fiber.Ctx) (services.AbsenceFilter, error) {
	from, err := queryDate(c, "from")
	if err != nil {
		return services.AbsenceFilter{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return services.AbsenceFilter{}, fmt.Errorf("invalid to: %w", err)
	}
	hasSubstitute, err := queryBool(c, "has_substitute")
	if err != nil {
		return services.AbsenceFilter{}, fmt.Errorf("invalid has_substitute: %w", err)
	}
	return services.AbsenceFilter{
		From:          from,
		To:            to,
		Unit:          c.Query("unit"),
		DepartmentID:  c.Query("department_id"),
		Reason:        models.AbsenceReason(c.Query("reason")),
		ContractType:  c.Query("contract_type"),
		TeacherID:     c.Query("teacher_id"),
		LeaveID:       c.Query("leave_id"),
		Search:        c.Query("search"),
		HasSubstitute: hasSubstitute,
	}, nil
}

// GetAbsences returns one page of the filtered absence list
func (ac *AbsenceController) GetAbsences(c *fiber.Ctx) error {
	filter, err := absenceFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	page, size := pageParams(c, defaultAbsencePageSize)

	items, total := services.Paginate(ac.store.Filter(filter), page, size)
	return c.JSON(fiber.Map{
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": size,
	})
}

func (ac *AbsenceController) GetAbsence(c *fiber.Ctx) error {
	absence, ok := ac.store.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Absence not found"})
	}
	return c.JSON(absence)
}

func (ac *AbsenceController) CreateAbsence(c *fiber.Ctx) error {
	identity, err := currentIdentity(c)
	if identity == nil {
		return err
	}

	var absence models.Absence
	if err := c.BodyParser(&absence); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	absence.ID = ""

	if err := ac.store.Create(c.UserContext(), identity, &absence); err != nil {
		return respondError(c, err)
	}
	if created, ok := ac.store.Get(absence.ID); ok {
		absence = created
	}
	return c.Status(fiber.StatusCreated).JSON(absence)
}

func (ac *AbsenceController) UpdateAbsence(c *fiber.Ctx) error {
	var patch services.AbsencePatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	id := c.Params("id")
	if err := ac.store.Update(c.UserContext(), id, patch); err != nil {
		return respondError(c, err)
	}
	absence, ok := ac.store.Get(id)
	if !ok {
		return c.JSON(fiber.Map{"message": "Absence updated"})
	}
	return c.JSON(absence)
}

func (ac *AbsenceController) DeleteAbsence(c *fiber.Ctx) error {
	if err := ac.store.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Absence deleted"})
}

// UploadDocument stores a supporting document for the absence's teacher and date
func (ac *AbsenceController) UploadDocument(c *fiber.Ctx) error {
	if ac.documents == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Document storage not configured"})
	}
	absence, ok := ac.store.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Absence not found"})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No file uploaded"})
	}
	if errMsg := checkUpload(file.Filename, file.Size); errMsg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errMsg})
	}

	doc, err := ac.documents.Upload(c.UserContext(), absence.TeacherName(), absence.Date.String(), file)
	if err != nil {
		logrus.WithError(err).WithField("absence_id", absence.ID).Error("Failed to upload document")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload document"})
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// checkUpload returns a user-facing message when the file breaks the upload policy.
func checkUpload(filename string, size int64) string {
	if config.AppConfig == nil {
		return ""
	}
	if max := config.AppConfig.MaxFileSize; max > 0 && size > max {
		return fmt.Sprintf("File too large (max %d bytes)", max)
	}
	if !utils.IsValidFileExtension(filename, config.AppConfig.AllowedExtensionList()) {
		return "File type not allowed"
	}
	return ""
}

// ExportAbsences renders the filtered list or the whole table as PDF or XLSX
func (ac *AbsenceController) ExportAbsences(c *fiber.Ctx) error {
	filter, err := absenceFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	format := services.ExportFormat(c.Query("format", string(services.FormatXLSX)))
	scope := services.ExportScope(c.Query("scope", string(services.ScopePage)))

	var page []models.Absence
	if scope != services.ScopeAll {
		pageNum, size := pageParams(c, defaultAbsencePageSize)
		page, _ = services.Paginate(ac.store.Filter(filter), pageNum, size)
	}

	var buf bytes.Buffer
	filename, err := ac.exporter.Export(c.UserContext(), format, scope, page, &buf)
	if err != nil {
		return respondError(c, err)
	}

	contentType := "application/pdf"
	if format == services.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(buf.Bytes())
}
