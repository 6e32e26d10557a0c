package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"faltas_go/models"
	"faltas_go/repository"
	"faltas_go/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoWorkingDays      = errors.New("leave has no working days in range")
	ErrPartialBulkFailure = errors.New("some absences could not be generated")
	ErrBulkInProgress     = errors.New("generation already running for this leave")
	ErrNoBulkResult       = errors.New("no generation recorded for this leave")
)

// BulkState is the generator state of one leave.
type BulkState string

const (
	BulkIdle       BulkState = "idle"
	BulkValidating BulkState = "validating"
	BulkGenerating BulkState = "generating"
)

// SubstitutePolicy declares who covers every generated day.
type SubstitutePolicy struct {
	Type         models.SubstituteType `json:"type"`
	TeacherID    string                `json:"teacher_id"`
	Name         string                `json:"name"`
	TotalClasses float64               `json:"total_classes"`
}

type BulkRequest struct {
	Leave           models.Leave
	IncludeWeekends bool
	TotalClasses    float64
	Substitute      *SubstitutePolicy
}

// DayOutcome is the result of creating or removing one generated day.
type DayOutcome struct {
	Date       models.Date `json:"date"`
	AbsenceID  string      `json:"absence_id,omitempty"`
	Error      string      `json:"error,omitempty"`
	RolledBack bool        `json:"rolled_back,omitempty"`

	record models.Absence
}

func (d DayOutcome) Succeeded() bool {
	return d.AbsenceID != "" && d.Error == "" && !d.RolledBack
}

// BulkResult records every day of one generation so the caller can retry the
// failures or roll back the successes.
type BulkResult struct {
	LeaveID string       `json:"leave_id"`
	Days    []DayOutcome `json:"days"`
}

func (r *BulkResult) Succeeded() int {
	n := 0
	for _, d := range r.Days {
		if d.Succeeded() {
			n++
		}
	}
	return n
}

func (r *BulkResult) Failed() int {
	n := 0
	for _, d := range r.Days {
		if d.Error != "" {
			n++
		}
	}
	return n
}

// BulkStore is what the generator needs from the absence store.
type BulkStore interface {
	Insert(ctx context.Context, identity *models.Identity, absence *models.Absence) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context) error
	Teacher(id string) (models.Teacher, bool)
}

// RosterReader resolves tutor substitutes.
type RosterReader interface {
	Get(ctx context.Context, id string) (*models.Substitute, error)
}

// BulkGenerator expands a leave into one absence per working day.
type BulkGenerator struct {
	store  BulkStore
	roster RosterReader

	mu      sync.Mutex
	states  map[string]BulkState
	results map[string]*BulkResult
}

func NewBulkGenerator(store BulkStore, roster RosterReader) *BulkGenerator {
	return &BulkGenerator{
		store:   store,
		roster:  roster,
		states:  make(map[string]BulkState),
		results: make(map[string]*BulkResult),
	}
}

// State reports the generator state for a leave.
func (g *BulkGenerator) State(leaveID string) BulkState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.states[leaveID]; ok {
		return state
	}
	return BulkIdle
}

// Result returns a copy of the last recorded generation for a leave.
func (g *BulkGenerator) Result(leaveID string) (*BulkResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.results[leaveID]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

func (r *BulkResult) clone() *BulkResult {
	c := &BulkResult{LeaveID: r.LeaveID, Days: make([]DayOutcome, len(r.Days))}
	copy(c.Days, r.Days)
	return c
}

func (g *BulkGenerator) begin(leaveID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state, ok := g.states[leaveID]; ok && state != BulkIdle {
		return ErrBulkInProgress
	}
	g.states[leaveID] = BulkValidating
	return nil
}

func (g *BulkGenerator) transition(leaveID string, state BulkState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state == BulkIdle {
		delete(g.states, leaveID)
		return
	}
	g.states[leaveID] = state
}

// WorkingDays lists every calendar day in [start, end], skipping Saturdays and
// Sundays unless includeWeekends is set.
func WorkingDays(start, end models.Date, includeWeekends bool) []models.Date {
	var days []models.Date
	first := models.NewDate(start.Time)
	last := models.NewDate(end.Time)
	for d := first.Time; !d.After(last.Time); d = d.AddDate(0, 0, 1) {
		if !includeWeekends && (d.Weekday() == time.Saturday || d.Weekday() == time.Sunday) {
			continue
		}
		days = append(days, models.Date{Time: d})
	}
	return days
}

func usable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// plan validates the request and builds one absence per working day.
func (g *BulkGenerator) plan(ctx context.Context, req BulkRequest) ([]models.Absence, error) {
	leave := req.Leave
	if err := ValidateLeave(&leave); err != nil {
		return nil, err
	}

	days := WorkingDays(leave.StartDate, leave.EndDate, req.IncludeWeekends)
	if len(days) == 0 {
		return nil, ErrNoWorkingDays
	}
	w := float64(len(days))

	errs := utils.ValidationErrors{}
	perDay := req.TotalClasses / w
	if !usable(req.TotalClasses) || perDay <= 0 {
		errs.Add("total_classes", "must be a positive number")
	}

	teacher, ok := g.store.Teacher(leave.TeacherID)
	if !ok {
		if leave.Teacher == nil {
			errs.Add("teacher_id", "is not a known teacher")
		} else {
			teacher = *leave.Teacher
		}
	}

	var perDaySub float64
	sub := req.Substitute
	if sub != nil && sub.Type != models.SubstituteNone {
		perDaySub = sub.TotalClasses / w
		switch {
		case !usable(sub.TotalClasses) || sub.TotalClasses < 0:
			errs.Add("substitute_total_classes", "must be a non-negative number")
		case perDay > 0 && perDaySub > perDay:
			errs.Add("substitute_total_classes", "must not exceed classes per day")
		}
		g.checkSubstitute(ctx, errs, sub, teacher.Unit)
	} else {
		sub = nil
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}

	records := make([]models.Absence, 0, len(days))
	for _, day := range days {
		records = append(records, dayAbsence(leave, teacher, day, perDay, sub, perDaySub))
	}
	return records, nil
}

func (g *BulkGenerator) checkSubstitute(ctx context.Context, errs utils.ValidationErrors, sub *SubstitutePolicy, unit string) {
	switch sub.Type {
	case models.SubstituteTutor:
		if strings.TrimSpace(sub.TeacherID) == "" {
			errs.Add("substitute_teacher_id", "is required for Tutor Substituto")
			return
		}
		if g.roster == nil {
			return
		}
		entry, err := g.roster.Get(ctx, sub.TeacherID)
		if errors.Is(err, repository.ErrSubstituteNotFound) {
			errs.Add("substitute_teacher_id", "is not in the substitute roster")
			return
		}
		if err != nil {
			errs.Add("substitute_teacher_id", "could not be verified")
			logrus.WithError(err).WithField("substitute_id", sub.TeacherID).Warn("roster lookup failed")
			return
		}
		if entry.Unit != "" && unit != "" && entry.Unit != unit {
			errs.Add("substitute_teacher_id", "belongs to another unit")
		}
	case models.SubstituteProfessor, models.SubstituteOther:
		if strings.TrimSpace(sub.Name) == "" {
			errs.Add("substitute_name", fmt.Sprintf("is required for %s", sub.Type))
		}
	default:
		errs.Add("substitute_type", "is not a known substitute type")
	}
}

func dayAbsence(leave models.Leave, teacher models.Teacher, day models.Date, perDay float64, sub *SubstitutePolicy, perDaySub float64) models.Absence {
	leaveID := leave.ID
	a := models.Absence{
		TeacherID:         leave.TeacherID,
		DepartmentID:      teacher.DepartmentID,
		Unit:              teacher.Unit,
		ContractType:      teacher.ContractType,
		Course:            teacher.Course,
		TeachingPeriod:    teacher.TeachingPeriod,
		Date:              day,
		Reason:            MapLeaveReason(leave.Reason),
		Notes:             "Gerado automaticamente do afastamento: " + leave.Reason,
		Duration:          models.DurationFullDay,
		Classes:           perDay,
		SubstituteContent: models.ContentNo,
	}
	if leaveID != "" {
		a.LeaveID = &leaveID
	}
	if teacher.Department != nil {
		a.DepartmentName = teacher.Department.Name
		a.DisciplinaID = teacher.Department.DisciplinaID
	}
	if sub == nil {
		return a
	}

	covered := perDaySub
	a.HasSubstitute = true
	a.SubstituteType = sub.Type
	a.SubstituteTotalClasses = &covered
	a.SubstituteContent = models.ContentYes
	switch sub.Type {
	case models.SubstituteTutor:
		id := sub.TeacherID
		a.SubstituteTeacherID = &id
	case models.SubstituteProfessor:
		a.SubstituteTeacherName2 = strings.TrimSpace(sub.Name)
	case models.SubstituteOther:
		a.SubstituteTeacherName3 = strings.TrimSpace(sub.Name)
	}
	return a
}

// Generate validates the request, fires every per-day insert concurrently,
// waits for all of them and reloads the store once. Failed days are not rolled
// back; the returned result names them and ErrPartialBulkFailure is returned.
func (g *BulkGenerator) Generate(ctx context.Context, identity *models.Identity, req BulkRequest) (*BulkResult, error) {
	if identity == nil || strings.TrimSpace(identity.ID) == "" {
		return nil, ErrUnauthenticated
	}
	leaveID := req.Leave.ID
	if err := g.begin(leaveID); err != nil {
		return nil, err
	}
	defer g.transition(leaveID, BulkIdle)

	records, err := g.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	g.transition(leaveID, BulkGenerating)
	result := &BulkResult{LeaveID: leaveID, Days: make([]DayOutcome, len(records))}
	for i, rec := range records {
		result.Days[i] = DayOutcome{Date: rec.Date, record: rec}
	}
	g.insertDays(ctx, identity, result, allIndexes(len(records)))
	return g.finish(ctx, result)
}

func allIndexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// insertDays creates the selected days concurrently and records each outcome.
func (g *BulkGenerator) insertDays(ctx context.Context, identity *models.Identity, result *BulkResult, indexes []int) {
	var eg errgroup.Group
	for _, i := range indexes {
		i := i
		record := result.Days[i].record
		eg.Go(func() error {
			if err := g.store.Insert(ctx, identity, &record); err != nil {
				result.Days[i].Error = err.Error()
				return fmt.Errorf("%s: %w", record.Date, err)
			}
			result.Days[i].AbsenceID = record.ID
			result.Days[i].Error = ""
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logrus.WithError(err).WithField("leave_id", result.LeaveID).Warn("bulk generation had failures")
	}
}

func (g *BulkGenerator) finish(ctx context.Context, result *BulkResult) (*BulkResult, error) {
	if err := g.store.Load(ctx); err != nil {
		logrus.WithError(err).WithField("leave_id", result.LeaveID).Warn("reload after bulk generation failed")
	}

	g.mu.Lock()
	g.results[result.LeaveID] = result
	g.mu.Unlock()

	out := result.clone()
	logrus.WithFields(logrus.Fields{
		"leave_id":  result.LeaveID,
		"succeeded": out.Succeeded(),
		"failed":    out.Failed(),
	}).Info("bulk absence generation finished")

	if failed := out.Failed(); failed > 0 {
		return out, fmt.Errorf("%w: %d of %d days failed", ErrPartialBulkFailure, failed, len(out.Days))
	}
	return out, nil
}

// Retry re-submits only the days that failed in the last generation of the leave.
func (g *BulkGenerator) Retry(ctx context.Context, identity *models.Identity, leaveID string) (*BulkResult, error) {
	if identity == nil || strings.TrimSpace(identity.ID) == "" {
		return nil, ErrUnauthenticated
	}
	if err := g.begin(leaveID); err != nil {
		return nil, err
	}
	defer g.transition(leaveID, BulkIdle)

	g.mu.Lock()
	stored, ok := g.results[leaveID]
	g.mu.Unlock()
	if !ok {
		return nil, ErrNoBulkResult
	}

	result := stored.clone()
	var failed []int
	for i, d := range result.Days {
		if d.Error != "" {
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		return result, nil
	}

	g.transition(leaveID, BulkGenerating)
	g.insertDays(ctx, identity, result, failed)
	return g.finish(ctx, result)
}

// Rollback deletes every day the last generation of the leave created.
func (g *BulkGenerator) Rollback(ctx context.Context, leaveID string) (*BulkResult, error) {
	if err := g.begin(leaveID); err != nil {
		return nil, err
	}
	defer g.transition(leaveID, BulkIdle)

	g.mu.Lock()
	stored, ok := g.results[leaveID]
	g.mu.Unlock()
	if !ok {
		return nil, ErrNoBulkResult
	}

	g.transition(leaveID, BulkGenerating)
	result := stored.clone()
	var (
		mu       sync.Mutex
		eg       errgroup.Group
		failures int
	)
	for i := range result.Days {
		i := i
		if !result.Days[i].Succeeded() {
			continue
		}
		id := result.Days[i].AbsenceID
		eg.Go(func() error {
			if err := g.store.Delete(ctx, id); err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				return fmt.Errorf("delete %s: %w", id, err)
			}
			result.Days[i].RolledBack = true
			return nil
		})
	}
	err := eg.Wait()

	g.mu.Lock()
	g.results[leaveID] = result
	g.mu.Unlock()

	out := result.clone()
	if err != nil {
		logrus.WithError(err).WithField("leave_id", leaveID).Warn("bulk rollback had failures")
		return out, fmt.Errorf("%w: %d deletions failed", ErrPartialBulkFailure, failures)
	}
	return out, nil
}
