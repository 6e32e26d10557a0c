package services

import (
	"math"
	"sort"
	"strings"
	"time"

	"faltas_go/models"
)

// AbsenceFilter narrows the store's absence collection.
type AbsenceFilter struct {
	From          *models.Date
	To            *models.Date
	Unit          string
	DepartmentID  string
	Reason        models.AbsenceReason
	ContractType  string
	TeacherID     string
	LeaveID       string
	Search        string
	HasSubstitute *bool
}

func (f AbsenceFilter) match(a models.Absence) bool {
	if f.From != nil && a.Date.Before(f.From.Time) {
		return false
	}
	if f.To != nil && a.Date.After(f.To.Time) {
		return false
	}
	if f.Unit != "" && a.Unit != f.Unit {
		return false
	}
	if f.DepartmentID != "" && a.DepartmentID != f.DepartmentID {
		return false
	}
	if f.Reason != "" && a.Reason != f.Reason {
		return false
	}
	if f.ContractType != "" && a.ContractType != f.ContractType {
		return false
	}
	if f.TeacherID != "" && a.TeacherID != f.TeacherID {
		return false
	}
	if f.LeaveID != "" && (a.LeaveID == nil || *a.LeaveID != f.LeaveID) {
		return false
	}
	if f.HasSubstitute != nil && a.HasSubstitute != *f.HasSubstitute {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		haystack := strings.ToLower(a.TeacherName() + " " + a.DepartmentName + " " + a.Notes + " " + a.SubstituteDisplayName())
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

// FilterAbsences keeps the order of absences.
func FilterAbsences(absences []models.Absence, filter AbsenceFilter) []models.Absence {
	out := make([]models.Absence, 0, len(absences))
	for _, a := range absences {
		if filter.match(a) {
			out = append(out, a)
		}
	}
	return out
}

// Filter applies filter to the current snapshot.
func (s *AbsenceStore) Filter(filter AbsenceFilter) []models.Absence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterAbsences(s.absences, filter)
}

// Paginate returns page (1-based) of size items and the total count.
func Paginate(absences []models.Absence, page, size int) ([]models.Absence, int) {
	total := len(absences)
	if size <= 0 {
		return absences, total
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= total {
		return []models.Absence{}, total
	}
	end := start + size
	if end > total {
		end = total
	}
	return absences[start:end], total
}

type Count struct {
	Key     string  `json:"key"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

type Sum struct {
	Key     string  `json:"key"`
	Classes float64 `json:"classes"`
}

type SubstitutionBreakdown struct {
	Tutor          int     `json:"tutor"`
	Professor      int     `json:"professor"`
	Other          int     `json:"other"`
	None           int     `json:"none"`
	ClassesMissed  float64 `json:"classes_missed"`
	ClassesCovered float64 `json:"classes_covered"`
	CoverageRate   float64 `json:"coverage_rate"`
}

type Analytics struct {
	Total            int                   `json:"total"`
	TotalClasses     float64               `json:"total_classes"`
	ByMonth          []Count               `json:"by_month"`
	ByDepartment     []Count               `json:"by_department"`
	ByUnit           []Count               `json:"by_unit"`
	ByReason         []Count               `json:"by_reason"`
	ByContractType   []Count               `json:"by_contract_type"`
	ClassesByUnit    []Sum                 `json:"classes_by_unit"`
	ClassesByTeacher []Sum                 `json:"classes_by_teacher"`
	TopTeachers      []Count               `json:"top_teachers"`
	Substitution     SubstitutionBreakdown `json:"substitution"`
}

const topTeachers = 10

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func keyOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

type counter struct {
	counts map[string]int
	total  int
}

func newCounter() *counter { return &counter{counts: map[string]int{}} }

func (c *counter) add(key string) {
	c.counts[key]++
	c.total++
}

// ranked orders by count descending, then key.
func (c *counter) ranked() []Count {
	out := c.list()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// chronological orders by key ascending.
func (c *counter) chronological() []Count {
	out := c.list()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *counter) list() []Count {
	out := make([]Count, 0, len(c.counts))
	for key, n := range c.counts {
		pct := 0.0
		if c.total > 0 {
			pct = round1(float64(n) / float64(c.total) * 100)
		}
		out = append(out, Count{Key: key, Count: n, Percent: pct})
	}
	return out
}

func sums(m map[string]float64) []Sum {
	out := make([]Sum, 0, len(m))
	for key, v := range m {
		out = append(out, Sum{Key: key, Classes: v})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Classes != out[j].Classes {
			return out[i].Classes > out[j].Classes
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ComputeAnalytics aggregates a filtered absence set.
func ComputeAnalytics(absences []models.Absence) Analytics {
	months, departments, units := newCounter(), newCounter(), newCounter()
	reasons, contracts, teachers := newCounter(), newCounter(), newCounter()
	classesByUnit := map[string]float64{}
	classesByTeacher := map[string]float64{}

	result := Analytics{Total: len(absences)}
	for _, a := range absences {
		result.TotalClasses += a.Classes
		if !a.Date.IsZero() {
			months.add(a.Date.Format("2006-01"))
		}
		departments.add(keyOr(a.DepartmentName, "Sem departamento"))
		units.add(keyOr(a.Unit, "Sem unidade"))
		reasons.add(keyOr(string(a.Reason), string(models.ReasonOther)))
		contracts.add(keyOr(a.ContractType, "Sem categoria"))
		teacher := keyOr(a.TeacherName(), a.TeacherID)
		teachers.add(teacher)
		classesByUnit[keyOr(a.Unit, "Sem unidade")] += a.Classes
		classesByTeacher[teacher] += a.Classes

		sub := &result.Substitution
		sub.ClassesMissed += a.Classes
		if !a.HasSubstitute {
			sub.None++
			continue
		}
		switch a.SubstituteType {
		case models.SubstituteTutor:
			sub.Tutor++
		case models.SubstituteProfessor:
			sub.Professor++
		default:
			sub.Other++
		}
		if a.SubstituteTotalClasses != nil {
			sub.ClassesCovered += *a.SubstituteTotalClasses
		}
	}

	if result.Substitution.ClassesMissed > 0 {
		result.Substitution.CoverageRate = round1(result.Substitution.ClassesCovered / result.Substitution.ClassesMissed * 100)
	}
	result.ByMonth = months.chronological()
	result.ByDepartment = departments.ranked()
	result.ByUnit = units.ranked()
	result.ByReason = reasons.ranked()
	result.ByContractType = contracts.ranked()
	result.ClassesByUnit = sums(classesByUnit)
	result.ClassesByTeacher = sums(classesByTeacher)
	result.TopTeachers = teachers.ranked()
	if len(result.TopTeachers) > topTeachers {
		result.TopTeachers = result.TopTeachers[:topTeachers]
	}
	return result
}

type Dashboard struct {
	Month          string           `json:"month"`
	MonthAbsences  int              `json:"month_absences"`
	TeachersAbsent int              `json:"teachers_absent"`
	MonthClasses   float64          `json:"month_classes"`
	Departments    []Count          `json:"departments"`
	Recent         []models.Absence `json:"recent"`
}

// ComputeDashboard summarizes the month containing now. absences must be
// sorted newest first.
func ComputeDashboard(absences []models.Absence, now time.Time, recent int) Dashboard {
	month := now.Format("2006-01")
	d := Dashboard{Month: month}
	teachers := map[string]bool{}
	departments := newCounter()

	for _, a := range absences {
		if a.Date.Format("2006-01") != month {
			continue
		}
		d.MonthAbsences++
		d.MonthClasses += a.Classes
		teachers[a.TeacherID] = true
		departments.add(keyOr(a.DepartmentName, "Sem departamento"))
	}
	d.TeachersAbsent = len(teachers)
	d.Departments = departments.ranked()

	if recent < 0 {
		recent = 0
	}
	if recent > len(absences) {
		recent = len(absences)
	}
	d.Recent = append([]models.Absence(nil), absences[:recent]...)
	return d
}
