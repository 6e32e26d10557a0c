package controllers

import (
	"fmt"
	"io"

	"faltas_go/services"

	"github.com/gofiber/fiber/v2"
)

type ExportController struct {
	archive *services.ExportArchiveService
}

func NewExportController(archive *services.ExportArchiveService) *ExportController {
	return &ExportController{archive: archive}
}

// GetArchives lists the archived workbooks, newest first
func (ec *ExportController) GetArchives(c *fiber.Ctx) error {
	archives, err := ec.archive.ListArchives(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(archives)
}

// CreateArchive archives the whole table now
func (ec *ExportController) CreateArchive(c *fiber.Ctx) error {
	archive, err := ec.archive.ArchiveNow(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(archive)
}

// DownloadArchive streams one archived workbook
func (ec *ExportController) DownloadArchive(c *fiber.Ctx) error {
	body, name, err := ec.archive.Download(c.UserContext(), c.Query("key"))
	if err != nil {
		return respondError(c, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Send(data)
}
