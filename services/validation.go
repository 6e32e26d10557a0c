package services

import (
	"strings"

	"faltas_go/models"
	"faltas_go/utils"
)

// RosterLookup resolves a substitute roster entry by id.
type RosterLookup func(id string) (models.Substitute, bool)

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// ValidateAbsence checks a new absence before it is sent anywhere.
func ValidateAbsence(a *models.Absence, roster RosterLookup) error {
	errs := utils.ValidationErrors{}

	if strings.TrimSpace(a.TeacherID) == "" {
		errs.Add("teacher_id", "is required")
	}
	if a.Date.IsZero() {
		errs.Add("date", "is required")
	}
	if !a.Reason.Valid() {
		errs.Add("reason", "is required")
	}
	if a.Classes <= 0 {
		errs.Add("classes", "must be greater than 0")
	}
	if models.NormalizeDuration(a.Duration) == models.DurationPartialDay {
		if !blank(a.StartTime) {
			errs.Add("start_time", "must be empty")
		}
		if !blank(a.EndTime) {
			errs.Add("end_time", "must be empty")
		}
	}

	if a.HasSubstitute {
		validateSubstitution(errs, a, roster)
	}
	return errs.OrNil()
}

func validateSubstitution(errs utils.ValidationErrors, a *models.Absence, roster RosterLookup) {
	switch a.SubstituteType {
	case models.SubstituteTutor:
		if blank(a.SubstituteTeacherID) {
			errs.Add("substitute_teacher_id", "is required for Tutor Substituto")
			break
		}
		if roster == nil {
			break
		}
		entry, ok := roster(*a.SubstituteTeacherID)
		if !ok {
			errs.Add("substitute_teacher_id", "is not in the substitute roster")
		} else if entry.Unit != "" && a.Unit != "" && entry.Unit != a.Unit {
			errs.Add("substitute_teacher_id", "belongs to another unit")
		}
	case models.SubstituteProfessor:
		if strings.TrimSpace(a.SubstituteTeacherName2) == "" {
			errs.Add("substitute_teacher_name2", "is required for Professor")
		}
	case models.SubstituteOther:
		if strings.TrimSpace(a.SubstituteTeacherName3) == "" {
			errs.Add("substitute_teacher_name3", "is required for Outro")
		}
	default:
		errs.Add("substitute_type", "is required when a substitute is present")
	}

	if a.SubstituteTotalClasses != nil {
		if *a.SubstituteTotalClasses < 0 {
			errs.Add("substitute_total_classes", "must not be negative")
		} else if *a.SubstituteTotalClasses > a.Classes {
			errs.Add("substitute_total_classes", "must not exceed classes")
		}
	}
}

// ValidateLeave checks the leave form.
func ValidateLeave(l *models.Leave) error {
	errs := utils.ValidationErrors{}
	if strings.TrimSpace(l.TeacherID) == "" {
		errs.Add("teacher_id", "is required")
	}
	if l.StartDate.IsZero() {
		errs.Add("start_date", "is required")
	}
	if l.EndDate.IsZero() {
		errs.Add("end_date", "is required")
	}
	if strings.TrimSpace(l.Reason) == "" {
		errs.Add("reason", "is required")
	}
	if !l.StartDate.IsZero() && !l.EndDate.IsZero() && l.EndDate.Before(l.StartDate.Time) {
		errs.Add("end_date", "must not be before start_date")
	}
	switch l.Status {
	case "", models.LeaveActive, models.LeaveInactive, models.LeaveCompleted:
	default:
		errs.Add("status", "must be one of [active inactive completed]")
	}
	return errs.OrNil()
}
