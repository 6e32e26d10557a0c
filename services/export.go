package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"faltas_go/gateway"
	"faltas_go/models"
	"faltas_go/storage"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// DefaultExportChunkSize bounds how many rows are projected and written per step.
const DefaultExportChunkSize = 2000

type ExportFormat string

const (
	FormatPDF  ExportFormat = "pdf"
	FormatXLSX ExportFormat = "xlsx"
)

type ExportScope string

const (
	ScopePage ExportScope = "page"
	ScopeAll  ExportScope = "all"
)

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrUnknownScope  = errors.New("unknown export scope")
)

const (
	absenceSheet  = "Faltas"
	documentSheet = "Atestado"
	noSubstitute  = "Nenhum"
)

// ExportHeaders are the column titles shared by both formats.
var ExportHeaders = []string{
	"Unidade", "Data", "Professor", "Categoria", "Curso", "Departamento", "Período",
	"Razão", "Duração", "Substituto", "Aulas dadas pelo substituto", "Categoria Substituto",
	"Regência", "Notas",
}

// ExportRow is the tabular projection of one absence.
type ExportRow struct {
	Unit              string
	Date              string
	Teacher           string
	Category          string
	Course            string
	Department        string
	Period            string
	Reason            string
	Classes           string
	Substitute        string
	SubstituteClasses string
	SubstituteKind    string
	Regencia          string
	Notes             string
}

func (r ExportRow) Values() []string {
	return []string{
		r.Unit, r.Date, r.Teacher, r.Category, r.Course, r.Department, r.Period,
		r.Reason, r.Classes, r.Substitute, r.SubstituteClasses, r.SubstituteKind,
		r.Regencia, r.Notes,
	}
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatClasses(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func substituteKind(a models.Absence) string {
	switch {
	case a.SubstituteTeacherName() != "":
		return "Tutor"
	case strings.TrimSpace(a.SubstituteTeacherName2) != "":
		return "Professor"
	case strings.TrimSpace(a.SubstituteTeacherName3) != "":
		return "Outro"
	default:
		return noSubstitute
	}
}

func departmentLabel(a models.Absence) string {
	name, code := a.DepartmentName, a.DisciplinaID
	if a.Teacher != nil && a.Teacher.Department != nil {
		if name == "" {
			name = a.Teacher.Department.Name
		}
		if code == "" {
			code = a.Teacher.Department.DisciplinaID
		}
	}
	if code != "" {
		return fmt.Sprintf("%s (%s)", dash(name), code)
	}
	return dash(name)
}

func regenciaLabel(a models.Absence) string {
	if a.Teacher == nil || a.Teacher.Regencia == nil {
		return "-"
	}
	if *a.Teacher.Regencia {
		return models.ContentYes
	}
	return models.ContentNo
}

// ProjectRow renders one absence the same way for every output format.
func ProjectRow(a models.Absence) ExportRow {
	row := ExportRow{
		Unit:              dash(a.Unit),
		Date:              a.Date.Format("Jan 02, 2006"),
		Teacher:           a.TeacherName(),
		Category:          dash(a.ContractType),
		Course:            dash(a.Course),
		Department:        departmentLabel(a),
		Period:            dash(a.TeachingPeriod),
		Reason:            string(a.Reason),
		Classes:           formatClasses(a.Classes) + " aulas",
		Substitute:        noSubstitute,
		SubstituteClasses: noSubstitute,
		SubstituteKind:    substituteKind(a),
		Regencia:          regenciaLabel(a),
		Notes:             a.Notes,
	}
	if a.Date.IsZero() {
		row.Date = "-"
	}
	if name := a.SubstituteDisplayName(); name != "" {
		row.Substitute = name
	}
	if a.SubstituteTotalClasses != nil && *a.SubstituteTotalClasses != 0 {
		row.SubstituteClasses = formatClasses(*a.SubstituteTotalClasses)
	}
	return row
}

// ExportFilename is the fixed download name for a format and scope.
func ExportFilename(format ExportFormat, scope ExportScope) string {
	if scope == ScopeAll {
		return "faltas_professores_TODOS." + string(format)
	}
	return "faltas_professores." + string(format)
}

// Chunks splits [0, n) into consecutive [start, end) windows of at most size.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = DefaultExportChunkSize
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// AbsenceRangeSource reads absences straight from the database.
type AbsenceRangeSource interface {
	RangeAbsences(ctx context.Context, start, end int) ([]models.Absence, error)
}

// DocumentLister lists supporting documents by prefix.
type DocumentLister interface {
	ListFor(ctx context.Context, teacherName, date string) ([]storage.Document, error)
}

// ExportService renders absence reports as PDF documents or XLSX workbooks.
type ExportService struct {
	source    AbsenceRangeSource
	documents DocumentLister
	pageSize  int
	chunkSize int
	now       func() time.Time
}

func NewExportService(source AbsenceRangeSource, documents DocumentLister, pageSize, chunkSize int) *ExportService {
	if chunkSize <= 0 {
		chunkSize = DefaultExportChunkSize
	}
	return &ExportService{
		source:    source,
		documents: documents,
		pageSize:  pageSize,
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

// Rows resolves the absences of a scope. The page scope uses the rows the
// caller already filtered; the all scope refetches the whole table.
func (s *ExportService) Rows(ctx context.Context, scope ExportScope, page []models.Absence) ([]models.Absence, error) {
	switch scope {
	case ScopePage, "":
		return page, nil
	case ScopeAll:
		all, err := gateway.FetchAll(ctx, s.pageSize, s.source.RangeAbsences)
		if err != nil {
			return nil, fmt.Errorf("fetch absences for export: %w", err)
		}
		sortAbsences(all)
		return all, nil
	default:
		return nil, ErrUnknownScope
	}
}

// Export writes the report to w and returns the download filename.
func (s *ExportService) Export(ctx context.Context, format ExportFormat, scope ExportScope, page []models.Absence, w io.Writer) (string, error) {
	if format != FormatPDF && format != FormatXLSX {
		return "", ErrUnknownFormat
	}
	absences, err := s.Rows(ctx, scope, page)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"format": format,
		"scope":  scope,
		"rows":   len(absences),
	}).Info("exporting absences")

	if format == FormatPDF {
		err = s.WritePDF(absences, w)
	} else {
		err = s.WriteXLSX(ctx, absences, w)
	}
	if err != nil {
		return "", err
	}
	return ExportFilename(format, scope), nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func toRow(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// WriteXLSX streams the absences sheet chunk by chunk and, when document
// storage is configured, adds an Atestado sheet linking supporting documents.
func (s *ExportService) WriteXLSX(ctx context.Context, absences []models.Absence, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", absenceSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#428BCA"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	sw, err := f.NewStreamWriter(absenceSheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetRow(cellName(1, 1), toRow(ExportHeaders), excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := 2
	for _, chunk := range Chunks(len(absences), s.chunkSize) {
		for _, a := range absences[chunk[0]:chunk[1]] {
			if err := sw.SetRow(cellName(1, row), toRow(ProjectRow(a).Values())); err != nil {
				return fmt.Errorf("write row %d: %w", row, err)
			}
			row++
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	if s.documents != nil {
		if err := s.writeDocumentSheet(ctx, f, absences, headerStyle); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (s *ExportService) writeDocumentSheet(ctx context.Context, f *excelize.File, absences []models.Absence, headerStyle int) error {
	if _, err := f.NewSheet(documentSheet); err != nil {
		return fmt.Errorf("create %s sheet: %w", documentSheet, err)
	}
	sw, err := f.NewStreamWriter(documentSheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetRow("A1", []interface{}{"Professor", "Data", "Atestado"}, excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	seen := make(map[string]bool)
	row := 2
	for _, a := range absences {
		teacher, date := a.TeacherName(), a.Date.String()
		if teacher == "" || date == "" || seen[teacher+"|"+date] {
			continue
		}
		seen[teacher+"|"+date] = true

		docs, err := s.documents.ListFor(ctx, teacher, date)
		if err != nil {
			// Missing documents must not block the report.
			logrus.WithError(err).WithFields(logrus.Fields{"teacher": teacher, "date": date}).
				Warn("failed to list supporting documents")
			continue
		}
		for _, doc := range docs {
			if err := sw.SetRow(cellName(1, row), []interface{}{teacher, date, doc.URL}); err != nil {
				return fmt.Errorf("write document row %d: %w", row, err)
			}
			row++
		}
	}
	return sw.Flush()
}

var pdfColumnWidths = []float64{20, 20, 30, 18, 18, 30, 16, 22, 15, 25, 14, 15, 12, 22}

const pdfRowHeight = 6.0

// WritePDF renders a landscape table, repeating the header on every page.
func (s *ExportService) WritePDF(absences []models.Absence, w io.Writer) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 12)

	drawHeader := func() {
		pdf.SetFont("Helvetica", "B", 7)
		pdf.SetFillColor(66, 139, 202)
		pdf.SetTextColor(255, 255, 255)
		for i, h := range ExportHeaders {
			pdf.CellFormat(pdfColumnWidths[i], pdfRowHeight+1, fitText(pdf, tr(h), pdfColumnWidths[i]), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 7)
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() > 1 {
			drawHeader()
		}
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, tr("Relatório de Faltas dos Professores"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, tr("Gerado em "+s.now().Format("02/01/2006 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(3)
	drawHeader()

	for _, chunk := range Chunks(len(absences), s.chunkSize) {
		for _, a := range absences[chunk[0]:chunk[1]] {
			for i, v := range ProjectRow(a).Values() {
				pdf.CellFormat(pdfColumnWidths[i], pdfRowHeight, fitText(pdf, tr(v), pdfColumnWidths[i]), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("render pdf: %w", err)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// fitText truncates s so it fits a cell of the given width.
func fitText(pdf *fpdf.Fpdf, s string, width float64) string {
	limit := width - 2
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > limit {
		s = s[:len(s)-1]
	}
	return s + "..."
}
