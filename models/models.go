package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// DateLayout is the calendar-date wire format used everywhere in the API.
const DateLayout = "2006-01-02"

// Date is a calendar date stored in a DATE column and serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in UTC.
func NewDate(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Format(DateLayout), nil
}

func (d *Date) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		d.Time = time.Time{}
	case time.Time:
		*d = NewDate(v)
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	default:
		return fmt.Errorf("cannot scan %T into Date", value)
	}
	return nil
}

func (d *Date) scanString(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	return d.scanString(s)
}

// AbsenceReason is the closed set of reasons an absence can carry.
type AbsenceReason string

const (
	ReasonSickLeave               AbsenceReason = "Sick Leave"
	ReasonPersonalLeave           AbsenceReason = "Personal Leave"
	ReasonProfessionalDevelopment AbsenceReason = "Professional Development"
	ReasonConference              AbsenceReason = "Conference"
	ReasonFamilyEmergency         AbsenceReason = "Family Emergency"
	ReasonTermination             AbsenceReason = "Demissao"
	ReasonOther                   AbsenceReason = "Other"
)

// AbsenceReasons lists every valid reason in display order.
var AbsenceReasons = []AbsenceReason{
	ReasonSickLeave,
	ReasonPersonalLeave,
	ReasonProfessionalDevelopment,
	ReasonConference,
	ReasonFamilyEmergency,
	ReasonTermination,
	ReasonOther,
}

// Valid reports whether r belongs to the closed enumeration.
func (r AbsenceReason) Valid() bool {
	for _, candidate := range AbsenceReasons {
		if r == candidate {
			return true
		}
	}
	return false
}

type AbsenceDuration string

const (
	DurationFullDay    AbsenceDuration = "Full Day"
	DurationPartialDay AbsenceDuration = "Partial Day"
)

// NormalizeDuration maps anything other than Full Day to Partial Day.
func NormalizeDuration(d AbsenceDuration) AbsenceDuration {
	if d == DurationFullDay {
		return DurationFullDay
	}
	return DurationPartialDay
}

// SubstituteType classifies who covered an absence.
type SubstituteType string

const (
	SubstituteNone      SubstituteType = ""
	SubstituteProfessor SubstituteType = "Professor"
	SubstituteTutor     SubstituteType = "Tutor Substituto"
	SubstituteOther     SubstituteType = "Outro"
)

const (
	ContentYes = "Sim"
	ContentNo  = "Não"
)

// Department is a subject/discipline record.
type Department struct {
	BaseModel
	Name         string `json:"name" gorm:"size:255;not null"`
	DisciplinaID string `json:"disciplina_id" gorm:"column:disciplina_id;size:50"`
}

// Teacher is a staff member who can be absent.
type Teacher struct {
	BaseModel
	Name           string `json:"name" gorm:"size:255;not null;index"`
	Email          string `json:"email" gorm:"size:255"`
	DepartmentID   string `json:"department_id" gorm:"size:36;index"`
	Unit           string `json:"unit" gorm:"size:255;index"`
	ContractType   string `json:"contract_type" gorm:"size:100"`
	Course         string `json:"course" gorm:"size:255"`
	TeachingPeriod string `json:"teaching_period" gorm:"size:100"`
	Regencia       *bool  `json:"regencia"`

	Department *Department `json:"department,omitempty" gorm:"foreignKey:DepartmentID"`
}

// Substitute is an entry in the stand-in roster of a unit.
type Substitute struct {
	BaseModel
	Name   string `json:"name" gorm:"size:255;not null;index"`
	Unit   string `json:"unit" gorm:"size:255;index"`
	Active bool   `json:"active" gorm:"default:true"`
}

// Absence is one teacher's missed-class record for a single calendar date.
type Absence struct {
	BaseModel
	TeacherID      string          `json:"teacher_id" gorm:"size:36;not null;index"`
	DepartmentID   string          `json:"department_id" gorm:"size:36;index"`
	DepartmentName string          `json:"department_name" gorm:"column:name;size:255"`
	DisciplinaID   string          `json:"disciplina_id" gorm:"column:disciplina_id;size:50"`
	Unit           string          `json:"unit" gorm:"size:255;index"`
	ContractType   string          `json:"contract_type" gorm:"size:100"`
	Course         string          `json:"course" gorm:"size:255"`
	TeachingPeriod string          `json:"teaching_period" gorm:"size:100"`
	Date           Date            `json:"date" gorm:"type:date;not null;index"`
	Reason         AbsenceReason   `json:"reason" gorm:"size:50;not null"`
	Notes          string          `json:"notes" gorm:"type:text"`
	Duration       AbsenceDuration `json:"duration" gorm:"size:20;not null;default:'Full Day'"`
	StartTime      *string         `json:"start_time" gorm:"size:10"`
	EndTime        *string         `json:"end_time" gorm:"size:10"`
	Classes        float64         `json:"classes"`

	HasSubstitute          bool           `json:"has_substitute"`
	SubstituteType         SubstituteType `json:"substitute_type" gorm:"size:30"`
	SubstituteTeacherID    *string        `json:"substitute_teacher_id" gorm:"size:36;index"`
	SubstituteTeacherName2 string         `json:"substitute_teacher_name2" gorm:"size:255"`
	SubstituteTeacherName3 string         `json:"substitute_teacher_name3" gorm:"size:255"`
	SubstituteTotalClasses *float64       `json:"substitute_total_classes"`
	SubstituteContent      string         `json:"substitute_content" gorm:"size:10"`

	LeaveID   *string `json:"leave_id" gorm:"size:36;index"`
	CreatedBy string  `json:"created_by" gorm:"size:128"`

	Teacher    *Teacher    `json:"teacher,omitempty" gorm:"foreignKey:TeacherID"`
	Substitute *Substitute `json:"substitute,omitempty" gorm:"foreignKey:SubstituteTeacherID"`
}

// TeacherName is the joined display name of the absent teacher.
func (a Absence) TeacherName() string {
	if a.Teacher != nil {
		return a.Teacher.Name
	}
	return ""
}

// SubstituteTeacherName is the joined roster name when a tutor substitute covered.
func (a Absence) SubstituteTeacherName() string {
	if a.Substitute != nil {
		return a.Substitute.Name
	}
	return ""
}

// SubstituteDisplayName picks the first non-empty of the three substitute name fields.
func (a Absence) SubstituteDisplayName() string {
	for _, name := range []string{a.SubstituteTeacherName(), a.SubstituteTeacherName2, a.SubstituteTeacherName3} {
		if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return ""
}

type LeaveStatus string

const (
	LeaveActive    LeaveStatus = "active"
	LeaveInactive  LeaveStatus = "inactive"
	LeaveCompleted LeaveStatus = "completed"
)

// Leave is a multi-day justification from which daily absences are generated.
type Leave struct {
	BaseModel
	TeacherID   string      `json:"teacher_id" gorm:"size:36;not null;index"`
	StartDate   Date        `json:"start_date" gorm:"type:date;not null;index"`
	EndDate     Date        `json:"end_date" gorm:"type:date;not null;index"`
	Reason      string      `json:"reason" gorm:"size:100;not null"`
	DocumentURL string      `json:"document_url" gorm:"size:1000"`
	Status      LeaveStatus `json:"status" gorm:"size:20;not null;default:'active'"`
	CreatedBy   string      `json:"created_by" gorm:"size:128"`

	Teacher *Teacher `json:"teacher,omitempty" gorm:"foreignKey:TeacherID"`
}

// TeacherName is the joined display name of the teacher on leave.
func (l Leave) TeacherName() string {
	if l.Teacher != nil {
		return l.Teacher.Name
	}
	return ""
}

// Identity is the opaque subject issued by the identity provider.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}
